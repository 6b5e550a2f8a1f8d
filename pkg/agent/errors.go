package agent

import (
	"context"
	"errors"
	"fmt"
)

// Class buckets a failure for logging, metrics and terminal responses.
// Classes never trigger automatic retries: the bus is at-most-once, and
// retrying is always an explicit call-site decision.
type Class string

const (
	// ClassTransient covers timeouts, flaky upstreams and cancellations.
	ClassTransient Class = "transient"
	// ClassInputMalformed covers unparseable documents and model output.
	ClassInputMalformed Class = "input_malformed"
	// ClassResourceExhaustion covers slot/quota/disk pressure.
	ClassResourceExhaustion Class = "resource_exhaustion"
	// ClassConfiguration covers missing keys, bad URLs, absent stores.
	ClassConfiguration Class = "configuration"
	// ClassFatal covers invariant violations and recovered panics.
	ClassFatal Class = "fatal"
)

// Error attaches a Class to an underlying error.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a class. nil err returns nil.
func NewError(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Err: err}
}

// Errorf builds a classified error.
func Errorf(class Class, format string, args ...any) error {
	return &Error{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the class of an error. Explicit classifications win;
// context timeouts and cancellations are transient; everything else is
// reported transient as the neutral bucket.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	return ClassTransient
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}

// ErrNoStore is returned when a persistence-dependent operation runs without
// a configured store.
var ErrNoStore = Errorf(ClassConfiguration, "persistence is not configured")
