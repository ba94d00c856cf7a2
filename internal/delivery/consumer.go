package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/queue"
)

// Handler performs the side effect for one decoded task. A returned error or
// panic rejects the delivery without requeue.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task Task) error { return f(ctx, task) }

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	// Workers is the number of deliveries handled concurrently. Defaults to 1.
	Workers int
	// Tag identifies the subscription to the broker. Defaults to a random one.
	Tag string
}

// Consumer holds one session for its lifetime and acknowledges each delivery
// individually.
type Consumer struct {
	dialer    queue.Dialer
	spec      queue.Spec
	handler   Handler
	cfg       ConsumerConfig
	onMetrics MetricsRecorder
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	session queue.Session
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewConsumer creates a Consumer. Call Start to subscribe.
func NewConsumer(dialer queue.Dialer, spec queue.Spec, handler Handler, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Tag == "" {
		cfg.Tag = "mailworker-" + uuid.NewString()
	}
	return &Consumer{
		dialer:  dialer,
		spec:    spec,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// SetMetricsRecorder configures the metrics callback.
func (c *Consumer) SetMetricsRecorder(fn MetricsRecorder) {
	c.onMetrics = fn
}

// Start dials, declares the queue and begins consuming in the background.
// ctx bounds only the setup; consumption runs until Stop or until the broker
// ends the subscription.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("consumer already started")
	}

	sess, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if err := sess.Declare(ctx, c.spec); err != nil {
		sess.Close() //nolint:errcheck
		return fmt.Errorf("declare: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	deliveries, err := sess.Consume(runCtx, c.spec.Name, c.cfg.Tag)
	if err != nil {
		cancel()
		sess.Close() //nolint:errcheck
		return fmt.Errorf("consume: %w", err)
	}

	c.started = true
	c.session = sess
	c.cancel = cancel

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.work(runCtx, deliveries)
	}
	go func() {
		c.wg.Wait()
		close(c.done)
	}()

	c.logger.Info("consumer started",
		zap.String("queue", c.spec.Name),
		zap.String("tag", c.cfg.Tag),
		zap.Int("workers", c.cfg.Workers),
	)
	return nil
}

// Done is closed once every worker has returned, whether through Stop or
// because the subscription ended.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Stop cancels the subscription, waits for in-flight handlers and closes the
// session. Unacknowledged deliveries go back to the broker.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()

	select {
	case <-c.done:
		return c.session.Close()
	case <-ctx.Done():
		c.session.Close() //nolint:errcheck
		return ctx.Err()
	}
}

func (c *Consumer) work(ctx context.Context, deliveries <-chan queue.Delivery) {
	defer c.wg.Done()
	for d := range deliveries {
		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d queue.Delivery) {
	task, err := Decode(d.Body())
	if err != nil {
		c.logger.Warn("rejecting malformed task", zap.Int("bytes", len(d.Body())), zap.Error(err))
		c.reject(d)
		return
	}

	if err := c.handle(ctx, task); err != nil {
		c.logger.Error("task handler failed",
			zap.String("email", task.Email),
			zap.Error(err),
		)
		c.reject(d)
		return
	}

	if err := d.Ack(); err != nil {
		c.logger.Warn("ack failed", zap.String("email", task.Email), zap.Error(err))
		return
	}
	c.record("acked")
}

// handle runs the handler detached from shutdown so a started side effect
// is not cut off halfway.
func (c *Consumer) handle(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(context.WithoutCancel(ctx), task)
}

func (c *Consumer) reject(d queue.Delivery) {
	if err := d.Reject(); err != nil {
		c.logger.Warn("reject failed", zap.Error(err))
		return
	}
	c.record("rejected")
}

func (c *Consumer) record(outcome string) {
	if c.onMetrics != nil {
		c.onMetrics(outcome)
	}
}
