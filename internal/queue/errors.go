package queue

import (
	"context"
	"errors"
)

// Class separates failures worth retrying from those that are not.
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
)

func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

var (
	// ErrUnavailable marks a broker that could not be reached or dropped the
	// connection.
	ErrUnavailable = errors.New("queue unavailable")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("queue session closed")
	// ErrNotDeclared is returned when consuming from an unknown queue.
	ErrNotDeclared = errors.New("queue not declared")
	// ErrSpecConflict is returned when a queue is redeclared with different
	// properties.
	ErrSpecConflict = errors.New("queue declared with different properties")
	// ErrUnknownDelivery is returned when a delivery is acknowledged twice.
	ErrUnknownDelivery = errors.New("unknown delivery")
)

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTransient, err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassPermanent, err: err}
}

// Classify decides whether err is worth retrying. Explicit marks win;
// cancellation and declaration conflicts are permanent; network failures and
// anything unrecognised are transient.
func Classify(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassPermanent
	case errors.Is(err, ErrSpecConflict), errors.Is(err, ErrNotDeclared):
		return ClassPermanent
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrClosed):
		return ClassTransient
	}
	// Dial refusals, resets and protocol errors all land here.
	return ClassTransient
}
