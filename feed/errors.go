package feed

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMode     = errors.New("exactly one of subscribe, psubscribe or stream is required")
	ErrConnClosed      = errors.New("connection closed")
	ErrSubscribeFailed = errors.New("subscription was not confirmed")
)

// DeliveryError wraps a rejection returned by the trigger manager.
type DeliveryError struct {
	Source string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("relay from %s failed: %v", e.Source, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ConnectionError wraps a failure of the underlying Redis connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CacheError wraps a cursor cache failure.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cursor cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ErrorKind names the class of a listener error for logs and metrics.
func ErrorKind(err error) string {
	var (
		de *DeliveryError
		ce *ConnectionError
		ca *CacheError
	)
	switch {
	case errors.As(err, &de):
		return "delivery"
	case errors.As(err, &ce):
		return "connection"
	case errors.As(err, &ca):
		return "cache"
	default:
		return "unknown"
	}
}

// ErrListenerStopped is reported to callers waiting on a listener that was
// stopped before it became ready.
var ErrListenerStopped = errors.New("listener stopped")
