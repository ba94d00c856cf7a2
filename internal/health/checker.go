// Package health probes the message broker so the API can report readiness.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/queue"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// BrokerChecker dials the broker periodically and tracks consecutive
// failures. The broker counts as degraded once FailThreshold probes in a row
// have failed.
type BrokerChecker struct {
	dialer    queue.Dialer
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.Mutex
	failCount int
	lastErr   error
	lastCheck time.Time
}

// New creates a BrokerChecker.
func New(dialer queue.Dialer, cfg Config, logger *zap.Logger) *BrokerChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &BrokerChecker{dialer: dialer, cfg: cfg, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *BrokerChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start probes once immediately, then every CheckInterval until ctx is done.
func (h *BrokerChecker) Start(ctx context.Context) {
	h.Check(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one probe and returns its error.
func (h *BrokerChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	err := h.probe(ctx)
	if h.onMetrics != nil {
		h.onMetrics(err == nil)
	}

	h.mu.Lock()
	prev := h.failCount
	if err == nil {
		h.failCount = 0
	} else {
		h.failCount++
	}
	count := h.failCount
	h.lastErr = err
	h.lastCheck = time.Now().UTC()
	h.mu.Unlock()

	switch {
	case err == nil && prev >= h.cfg.FailThreshold:
		h.logger.Info("health: broker recovered")
	case err != nil && count == h.cfg.FailThreshold:
		h.logger.Warn("health: broker degraded",
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	}
	return err
}

// Healthy reports whether fewer than FailThreshold consecutive probes failed.
func (h *BrokerChecker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failCount < h.cfg.FailThreshold
}

// Status is a snapshot for the readiness endpoint.
type Status struct {
	Healthy   bool      `json:"healthy"`
	FailCount int       `json:"fail_count"`
	LastError string    `json:"last_error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Snapshot returns the current Status.
func (h *BrokerChecker) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		Healthy:   h.failCount < h.cfg.FailThreshold,
		FailCount: h.failCount,
		LastCheck: h.lastCheck,
	}
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
	}
	return st
}

func (h *BrokerChecker) probe(ctx context.Context) error {
	sess, err := h.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	return sess.Close()
}
