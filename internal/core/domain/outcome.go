package domain

import "time"

// Class is the normalized outcome category of one attempt.
type Class string

const (
	ClassSuccess        Class = "success"
	ClassWrongCandidate Class = "wrong_candidate"
	ClassRateLimited    Class = "rate_limited"
	ClassTokenInvalid   Class = "token_invalid"
	ClassTransient      Class = "transient_server_error"
	ClassUnknown        Class = "unknown"
)

// Outcome is produced per attempt and consumed immediately by the controller.
type Outcome struct {
	Class Class

	// Status is the HTTP status; 0 means no response (network failure or timeout).
	Status int

	RetryAfter time.Duration
	HasHint    bool
	Message    string
	Rule       string
	Payload    []byte
}
