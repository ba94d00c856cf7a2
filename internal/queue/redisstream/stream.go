// Package redisstream implements queue.Dialer over Redis Streams with
// consumer groups. Each queue is a stream; every consumer reads through one
// shared group so a task is delivered to a single worker.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/queue"
)

const bodyField = "body"

// Config controls group naming and read behaviour.
type Config struct {
	// Group is the consumer group every worker joins.
	Group string
	// Block is how long one XREADGROUP waits before re-checking for shutdown.
	Block time.Duration
	// ClaimIdle is how long an entry may sit unacknowledged under another
	// consumer before this one takes it over. It is also the interval
	// between takeover scans.
	ClaimIdle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = "mailworker"
	}
	if c.Block <= 0 {
		c.Block = 500 * time.Millisecond
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
	return c
}

// Dialer hands out sessions over a shared client. Closing a session does not
// close the client.
type Dialer struct {
	client redis.UniversalClient
	cfg    Config
	logger *zap.Logger
}

// NewDialer creates a Dialer.
func NewDialer(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Dial implements queue.Dialer. It pings the server so an unreachable Redis
// surfaces here rather than on first publish.
func (d *Dialer) Dial(ctx context.Context) (queue.Session, error) {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return nil, classify(fmt.Errorf("ping: %w", err))
	}
	return &session{
		client: d.client,
		cfg:    d.cfg,
		logger: d.logger,
		closed: make(chan struct{}),
	}, nil
}

type session struct {
	client redis.UniversalClient
	cfg    Config
	logger *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func (s *session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Declare creates the stream and consumer group. Durability flags have no
// stream equivalent and are ignored.
func (s *session) Declare(ctx context.Context, spec queue.Spec) error {
	if s.isClosed() {
		return queue.ErrClosed
	}
	err := s.client.XGroupCreateMkStream(ctx, spec.Name, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return classify(fmt.Errorf("declare %q: %w", spec.Name, err))
	}
	return nil
}

func (s *session) Publish(ctx context.Context, name string, body []byte) error {
	if s.isClosed() {
		return queue.ErrClosed
	}
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		Values: map[string]interface{}{bodyField: body},
	}).Err()
	if err != nil {
		return classify(fmt.Errorf("publish to %q: %w", name, err))
	}
	return nil
}

// Consume first replays entries this consumer read but never acknowledged,
// then follows new entries. Entries left pending by other consumers (a
// worker that died mid-task) are claimed once they have been idle for
// ClaimIdle.
func (s *session) Consume(ctx context.Context, name, tag string) (<-chan queue.Delivery, error) {
	if s.isClosed() {
		return nil, queue.ErrClosed
	}

	pending, err := s.read(ctx, name, tag, "0", -1)
	if err != nil {
		return nil, err
	}

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		batch := pending
		var lastClaim time.Time
		for {
			for _, msg := range batch {
				select {
				case out <- s.delivery(name, msg):
				case <-ctx.Done():
					return
				case <-s.closed:
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-s.closed:
				return
			default:
			}

			if time.Since(lastClaim) >= s.cfg.ClaimIdle {
				var more bool
				batch, more, err = s.claim(ctx, name, tag)
				if !more {
					lastClaim = time.Now()
				}
				if err == nil && len(batch) > 0 {
					continue
				}
			} else {
				batch, err = s.read(ctx, name, tag, ">", s.cfg.Block)
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("stream read failed", zap.String("stream", name), zap.Error(err))
				return
			}
		}
	}()
	return out, nil
}

// claim takes over entries idle for at least ClaimIdle from any consumer in
// the group. more reports that a full batch came back.
func (s *session) claim(ctx context.Context, name, consumer string) (msgs []redis.XMessage, more bool, err error) {
	const count = 16
	msgs, _, err = s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   name,
		Group:    s.cfg.Group,
		Consumer: consumer,
		MinIdle:  s.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, false, fmt.Errorf("claim %q: %w", name, queue.ErrNotDeclared)
		}
		return nil, false, classify(fmt.Errorf("claim %q: %w", name, err))
	}
	if len(msgs) > 0 {
		s.logger.Info("claimed idle stream entries",
			zap.String("stream", name),
			zap.String("consumer", consumer),
			zap.Int("count", len(msgs)),
		)
	}
	return msgs, len(msgs) == count, nil
}

// read issues one XREADGROUP. A negative block returns immediately.
func (s *session) read(ctx context.Context, name, consumer, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: consumer,
		Streams:  []string{name, id},
		Count:    16,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return nil, fmt.Errorf("consume %q: %w", name, queue.ErrNotDeclared)
		}
		return nil, classify(fmt.Errorf("read %q: %w", name, err))
	}

	var msgs []redis.XMessage
	for _, st := range streams {
		msgs = append(msgs, st.Messages...)
	}
	return msgs, nil
}

func (s *session) delivery(stream string, msg redis.XMessage) *delivery {
	var body []byte
	switch v := msg.Values[bodyField].(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	}
	return &delivery{client: s.client, group: s.cfg.Group, stream: stream, id: msg.ID, body: body}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type delivery struct {
	client  redis.UniversalClient
	group   string
	stream  string
	id      string
	body    []byte
	settled sync.Once
}

func (d *delivery) Body() []byte { return d.body }

func (d *delivery) Ack() error {
	return d.settle(func(ctx context.Context) error {
		return d.client.XAck(ctx, d.stream, d.group, d.id).Err()
	})
}

// Reject acknowledges the entry and deletes it so it is never read again.
func (d *delivery) Reject() error {
	return d.settle(func(ctx context.Context) error {
		if err := d.client.XAck(ctx, d.stream, d.group, d.id).Err(); err != nil {
			return err
		}
		return d.client.XDel(ctx, d.stream, d.id).Err()
	})
}

func (d *delivery) settle(fn func(context.Context) error) error {
	first := false
	d.settled.Do(func() { first = true })
	if !first {
		return fmt.Errorf("entry %s: %w", d.id, queue.ErrUnknownDelivery)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		return classify(fmt.Errorf("settle %s: %w", d.id, err))
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return queue.Transient(fmt.Errorf("%w: %w", queue.ErrClosed, err))
	}
	return err
}
