package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/queue"
)

// ErrDeliveryFailed is returned by Publish once the retry policy gives up.
var ErrDeliveryFailed = errors.New("delivery task not published")

// MetricsRecorder is an optional callback receiving one outcome label per
// event: "retry", "published" or "failed" from the producer, "acked" or
// "rejected" from the consumer.
type MetricsRecorder func(outcome string)

// Producer publishes tasks, opening a fresh session for every attempt.
type Producer struct {
	dialer    queue.Dialer
	spec      queue.Spec
	policy    RetryPolicy
	sleep     Sleeper
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewProducer creates a Producer.
func NewProducer(dialer queue.Dialer, spec queue.Spec, policy RetryPolicy, logger *zap.Logger) *Producer {
	return &Producer{
		dialer: dialer,
		spec:   spec,
		policy: policy.withDefaults(),
		sleep:  sleepContext,
		logger: logger,
	}
}

// SetSleeper replaces the wait between attempts.
func (p *Producer) SetSleeper(fn Sleeper) {
	p.sleep = fn
}

// SetMetricsRecorder configures the metrics callback.
func (p *Producer) SetMetricsRecorder(fn MetricsRecorder) {
	p.onMetrics = fn
}

// Publish encodes task and sends it, retrying transient failures under the
// policy. It blocks through any delay. The returned error wraps
// ErrDeliveryFailed and the last attempt's error.
func (p *Producer) Publish(ctx context.Context, task Task) error {
	body, err := task.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrDeliveryFailed, err)
	}

	attempt := 1
	for ; ; attempt++ {
		err = p.publishOnce(ctx, body)
		if err == nil {
			p.record("published")
			p.logger.Debug("task published",
				zap.String("queue", p.spec.Name),
				zap.String("email", task.Email),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		class := queue.Classify(err)
		p.logger.Warn("publish attempt failed",
			zap.String("queue", p.spec.Name),
			zap.Int("attempt", attempt),
			zap.Stringer("class", class),
			zap.Error(err),
		)
		if !p.policy.ShouldRetry(attempt, class) {
			break
		}
		p.record("retry")
		if serr := p.sleep(ctx, p.policy.Delay); serr != nil {
			err = serr
			break
		}
	}

	p.record("failed")
	p.logger.Error("task delivery failed",
		zap.String("queue", p.spec.Name),
		zap.String("email", task.Email),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	return fmt.Errorf("%w after %d attempt(s): %w", ErrDeliveryFailed, attempt, err)
}

func (p *Producer) publishOnce(ctx context.Context, body []byte) error {
	sess, err := p.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.logger.Debug("close publish session", zap.Error(cerr))
		}
	}()

	if err := sess.Declare(ctx, p.spec); err != nil {
		return err
	}
	return sess.Publish(ctx, p.spec.Name, body)
}

func (p *Producer) record(outcome string) {
	if p.onMetrics != nil {
		p.onMetrics(outcome)
	}
}
