package domain

import "time"

// TokenState is the lifecycle state of the current token.
type TokenState string

const (
	TokenUninitialized TokenState = "uninitialized"
	TokenActive        TokenState = "active"
	TokenRotating      TokenState = "rotating"
	TokenInvalid       TokenState = "invalid"
)

// Token is an opaque, quota-bounded authorization issued by the guarded service.
type Token struct {
	Value string
	State TokenState

	// AttemptsUsed is the usage count the server reported at the last inspection.
	AttemptsUsed int
	Expiry       time.Time
	SessionID    string
}

// Short returns a log-safe prefix of the token value.
func (t Token) Short() string {
	if len(t.Value) <= 10 {
		return t.Value
	}
	return t.Value[:10] + "..."
}

// Expired reports whether the token has a known expiry at or before now.
func (t Token) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !t.Expiry.After(now)
}
