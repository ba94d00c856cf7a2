package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker is an in-process broker with AMQP-like semantics: manual
// acknowledgement, reject without requeue, and redelivery of unacknowledged
// messages when a session closes. Failures can be injected for tests.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]*memQueue
	dials    int
	failDial []error
	failPub  []error
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue)}
}

// FailDials makes the next len(errs) calls to Dial fail with errs in order.
func (b *MemoryBroker) FailDials(errs ...error) {
	b.mu.Lock()
	b.failDial = append(b.failDial, errs...)
	b.mu.Unlock()
}

// FailPublishes makes the next len(errs) calls to Publish fail with errs in order.
func (b *MemoryBroker) FailPublishes(errs ...error) {
	b.mu.Lock()
	b.failPub = append(b.failPub, errs...)
	b.mu.Unlock()
}

// Dials returns how many times Dial was called, including failed calls.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Dial implements Dialer.
func (b *MemoryBroker) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if len(b.failDial) > 0 {
		err := b.failDial[0]
		b.failDial = b.failDial[1:]
		return nil, err
	}
	return &memSession{
		broker:  b,
		closed:  make(chan struct{}),
		unacked: make(map[uint64]*memDelivery),
	}, nil
}

// Ready returns the number of messages waiting in the named queue.
func (b *MemoryBroker) Ready(name string) int {
	q := b.queue(name)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Acked returns the bodies acknowledged on the named queue, in order.
func (b *MemoryBroker) Acked(name string) [][]byte {
	q := b.queue(name)
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.acked...)
}

// Rejected returns the bodies rejected without requeue on the named queue.
func (b *MemoryBroker) Rejected(name string) [][]byte {
	q := b.queue(name)
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.rejected...)
}

// Declared returns the Spec the named queue was declared with.
func (b *MemoryBroker) Declared(name string) (Spec, bool) {
	q := b.queue(name)
	if q == nil {
		return Spec{}, false
	}
	return q.spec, true
}

func (b *MemoryBroker) queue(name string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[name]
}

func (b *MemoryBroker) declare(spec Spec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[spec.Name]; ok {
		if q.spec != spec {
			return fmt.Errorf("declare %q: %w", spec.Name, ErrSpecConflict)
		}
		return nil
	}
	b.queues[spec.Name] = &memQueue{spec: spec, signal: make(chan struct{}, 1)}
	return nil
}

func (b *MemoryBroker) takePublishFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.failPub) == 0 {
		return nil
	}
	err := b.failPub[0]
	b.failPub = b.failPub[1:]
	return err
}

type memQueue struct {
	spec     Spec
	signal   chan struct{}
	mu       sync.Mutex
	ready    [][]byte
	acked    [][]byte
	rejected [][]byte
}

func (q *memQueue) push(body []byte, front bool) {
	q.mu.Lock()
	if front {
		q.ready = append([][]byte{body}, q.ready...)
	} else {
		q.ready = append(q.ready, body)
	}
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, false
	}
	body := q.ready[0]
	q.ready = q.ready[1:]
	return body, true
}

type memSession struct {
	broker    *MemoryBroker
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	nextTag uint64
	unacked map[uint64]*memDelivery
}

func (s *memSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *memSession) Declare(_ context.Context, spec Spec) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.broker.declare(spec)
}

// Publish drops messages for undeclared queues, as the AMQP default
// exchange does for unroutable messages.
func (s *memSession) Publish(ctx context.Context, queue string, body []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.broker.takePublishFailure(); err != nil {
		return err
	}
	q := s.broker.queue(queue)
	if q == nil {
		return nil
	}
	q.push(append([]byte(nil), body...), false)
	return nil
}

func (s *memSession) Consume(ctx context.Context, queue, _ string) (<-chan Delivery, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	q := s.broker.queue(queue)
	if q == nil {
		return nil, fmt.Errorf("consume %q: %w", queue, ErrNotDeclared)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			body, ok := q.pop()
			if !ok {
				select {
				case <-q.signal:
					continue
				case <-ctx.Done():
					return
				case <-s.closed:
					return
				}
			}

			d := s.track(q, body)
			select {
			case out <- d:
			case <-ctx.Done():
				s.requeue(d)
				return
			case <-s.closed:
				s.requeue(d)
				return
			}
		}
	}()
	return out, nil
}

func (s *memSession) track(q *memQueue, body []byte) *memDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTag++
	d := &memDelivery{session: s, queue: q, tag: s.nextTag, body: body}
	s.unacked[d.tag] = d
	return d
}

// settle removes d from the unacknowledged set, reporting whether it was
// still outstanding.
func (s *memSession) settle(d *memDelivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.unacked[d.tag]; !ok {
		return false
	}
	delete(s.unacked, d.tag)
	return true
}

func (s *memSession) requeue(d *memDelivery) {
	if s.settle(d) {
		d.queue.push(d.body, true)
	}
}

// Close returns every unacknowledged delivery to the front of its queue.
func (s *memSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		pending := make([]*memDelivery, 0, len(s.unacked))
		for _, d := range s.unacked {
			pending = append(pending, d)
		}
		s.unacked = make(map[uint64]*memDelivery)
		s.mu.Unlock()
		for _, d := range pending {
			d.queue.push(d.body, true)
		}
	})
	return nil
}

type memDelivery struct {
	session *memSession
	queue   *memQueue
	tag     uint64
	body    []byte
}

func (d *memDelivery) Body() []byte { return d.body }

func (d *memDelivery) Ack() error {
	if !d.session.settle(d) {
		return fmt.Errorf("ack tag %d: %w", d.tag, ErrUnknownDelivery)
	}
	d.queue.mu.Lock()
	d.queue.acked = append(d.queue.acked, d.body)
	d.queue.mu.Unlock()
	return nil
}

func (d *memDelivery) Reject() error {
	if !d.session.settle(d) {
		return fmt.Errorf("reject tag %d: %w", d.tag, ErrUnknownDelivery)
	}
	d.queue.mu.Lock()
	d.queue.rejected = append(d.queue.rejected, d.body)
	d.queue.mu.Unlock()
	return nil
}
