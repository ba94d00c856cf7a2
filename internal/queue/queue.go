// Package queue defines the broker-neutral publish/subscribe contract used by
// the delivery pipeline, plus an in-memory broker for tests and single-process
// deployments. Concrete brokers live in sub-packages.
package queue

import "context"

// DefaultName is the queue verification tasks travel on.
const DefaultName = "email_tasks"

// Spec describes a queue declaration. Declaring the same Spec twice is a
// no-op; declaring a conflicting Spec fails permanently.
type Spec struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// TaskQueue returns the declaration both producer and consumer use:
// non-durable, non-exclusive, no auto-delete.
func TaskQueue(name string) Spec {
	if name == "" {
		name = DefaultName
	}
	return Spec{Name: name}
}

// Delivery is one message handed to a consumer. Exactly one of Ack or Reject
// should be called.
type Delivery interface {
	Body() []byte
	// Ack acknowledges this delivery only.
	Ack() error
	// Reject negatively acknowledges this delivery without requeueing it.
	Reject() error
}

// Session is an open connection and channel to a broker.
type Session interface {
	// Declare creates the queue if it does not exist.
	Declare(ctx context.Context, spec Spec) error
	// Publish sends body to the named queue.
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume subscribes with manual acknowledgement. The returned channel is
	// closed when ctx is cancelled or the session ends; deliveries not yet
	// acknowledged at that point are returned to the broker.
	Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
