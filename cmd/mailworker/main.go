// Command mailworker consumes queued verification tasks, prints one line per
// code to stdout and, when SMTP is configured, emails the code.
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
	"github.com/jmerrifield20/mailcode/internal/metrics"
	"github.com/jmerrifield20/mailcode/internal/queue"
	"github.com/jmerrifield20/mailcode/internal/queue/backend"
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
		logger.Fatal("mailworker exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := backend.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close() //nolint:errcheck
	if be.InProcess {
		return errors.New("queue.backend=memory has no broker to consume from; run the verifier alone")
	}

	sender := email.New(email.SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.FromAddress,
	}, logger)

	consumer := delivery.NewConsumer(be.Dialer, queue.TaskQueue(cfg.Queue.Name),
		delivery.NewMailHandler(os.Stdout, sender),
		delivery.ConsumerConfig{Workers: cfg.Delivery.Workers, Tag: be.ConsumerTag}, logger)
	consumer.SetMetricsRecorder(metrics.RecordConsume)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	logger.Info("mailworker consuming",
		zap.String("queue", cfg.Queue.Name),
		zap.String("queue_backend", be.Name),
		zap.Int("workers", cfg.Delivery.Workers),
	)

	var metricsSrv *http.Server
	if cfg.Worker.MetricsPort > 0 {
		if os.Getenv("GIN_MODE") == "" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Recovery())
		router.GET("/metrics", metrics.MetricsHandler())
		router.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("mailworker metrics listening", zap.Int("port", cfg.Worker.MetricsPort))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listen error", zap.Error(err))
			}
		}()
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	var exitErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down mailworker...")
	case <-consumer.Done():
		exitErr = errors.New("broker closed the subscription")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.Error("consumer shutdown error", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", zap.Error(err))
		}
	}

	if exitErr == nil {
		logger.Info("mailworker stopped")
	}
	return exitErr
}
