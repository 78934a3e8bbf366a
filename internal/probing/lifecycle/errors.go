package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a token-management failure.
type Kind string

const (
	KindNetwork     Kind = "network_error"
	KindRateLimited Kind = "rate_limited"
	KindProtocol    Kind = "protocol_error"
	KindExhausted   Kind = "lifecycle_exhausted"
)

// Sentinels usable with errors.Is against an *Error.
var (
	ErrNetwork     = errors.New("network error")
	ErrRateLimited = errors.New("rate limited")
	ErrProtocol    = errors.New("protocol error")
	ErrExhausted   = errors.New("token lifecycle exhausted")
	ErrDisabled    = errors.New("token lifecycle not configured")
)

// Error is returned by every Manager operation that talks to the service.
type Error struct {
	Op         string
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	HasHint    bool
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrExhausted:
		return e.Kind == KindExhausted
	}
	return false
}

func (e *Error) retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindRateLimited
}
