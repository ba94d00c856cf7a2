// Command verifier serves the registration API: it issues codes, queues them
// for delivery and checks submitted codes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/config"
	"github.com/jmerrifield20/mailcode/internal/delivery"
	"github.com/jmerrifield20/mailcode/internal/email"
	"github.com/jmerrifield20/mailcode/internal/health"
	"github.com/jmerrifield20/mailcode/internal/metrics"
	"github.com/jmerrifield20/mailcode/internal/queue"
	"github.com/jmerrifield20/mailcode/internal/queue/backend"
	"github.com/jmerrifield20/mailcode/internal/registration"
	"github.com/jmerrifield20/mailcode/internal/registration/handler"
	"github.com/jmerrifield20/mailcode/internal/verification"
)

func main() {
	cfg, err := config.Load("mailcode")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("verifier exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Code store ───────────────────────────────────────────────────────────
	store := verification.NewStore(verification.Config{
		CodeTTL:     cfg.Verification.CodeTTL,
		Cooldown:    cfg.Verification.Cooldown,
		MaxAttempts: cfg.Verification.MaxAttempts,
	}, nil, nil)
	policy := store.Config()
	logger.Info("code policy",
		zap.Duration("code_ttl", policy.CodeTTL),
		zap.Duration("cooldown", policy.Cooldown),
		zap.Int("max_attempts", policy.MaxAttempts),
	)

	if cfg.Verification.SweepInterval > 0 {
		go sweep(ctx, store, cfg.Verification.SweepInterval, logger)
	}

	// ── Queue ────────────────────────────────────────────────────────────────
	be, err := backend.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close() //nolint:errcheck

	spec := queue.TaskQueue(cfg.Queue.Name)
	producer := delivery.NewProducer(be.Dialer, spec, delivery.RetryPolicy{
		Attempts: cfg.Delivery.Attempts,
		Delay:    cfg.Delivery.RetryDelay,
	}, logger)
	producer.SetMetricsRecorder(metrics.RecordPublish)

	// The memory broker only exists in this process, so the worker has to
	// run here too.
	var consumer *delivery.Consumer
	if be.InProcess {
		sender := email.New(email.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.FromAddress,
		}, logger)
		consumer = delivery.NewConsumer(be.Dialer, spec, delivery.NewMailHandler(os.Stdout, sender),
			delivery.ConsumerConfig{Workers: cfg.Delivery.Workers, Tag: be.ConsumerTag}, logger)
		consumer.SetMetricsRecorder(metrics.RecordConsume)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start embedded consumer: %w", err)
		}
		logger.Info("embedded consumer started")
	}

	// ── Service + HTTP ───────────────────────────────────────────────────────
	svc := registration.NewService(store, producer, logger)
	svc.SetStrictDelivery(cfg.Delivery.Strict)
	svc.SetMetricsRecorders(metrics.RecordIssue, metrics.RecordVerification)

	checker := health.New(be.Dialer, health.Config{}, logger)
	checker.SetMetricsRecord(metrics.RecordHealthCheck)
	go checker.Start(ctx)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(ctx, handler.RouterConfig{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
	},
		handler.NewRegistrationHandler(svc, logger),
		handler.NewHealthHandler(checker),
		logger,
	)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("verifier HTTP listening",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("queue_backend", be.Name),
			zap.Bool("strict_delivery", cfg.Delivery.Strict),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down verifier...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Stop(shutdownCtx); err != nil {
			logger.Error("consumer shutdown error", zap.Error(err))
		}
	}

	logger.Info("verifier stopped")
	return nil
}

// sweep drops expired records every interval and publishes the pending gauge.
func sweep(ctx context.Context, store *verification.Store, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				logger.Debug("swept expired verification records", zap.Int("removed", n))
			}
			metrics.SetPendingRecords(store.Len())
		case <-ctx.Done():
			return
		}
	}
}
