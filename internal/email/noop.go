package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs emails to zap instead of delivering them.
// Used when no SMTP host is configured.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the recipient and subject and returns nil. The body is left out
// of the log since it carries the code.
func (n *NoopSender) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("email not sent (no smtp host)",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
