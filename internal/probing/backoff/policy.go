// Package backoff computes waits between probing actions.
//
// Two layers apply:
//   - Pacer: a fixed minimum spacing between guarded attempts, regardless of outcome
//   - Policy: an extra delay chosen by the outcome class and any server hint
package backoff

import (
	"time"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

// Reason labels why a delay was applied.
type Reason string

const (
	ReasonNone         Reason = "none"
	ReasonTransient    Reason = "transient"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonTokenInvalid Reason = "token_invalid"
)

// Config holds the fixed delays of the policy.
type Config struct {
	ErrorRetryDelay      time.Duration // transient server errors
	TokenErrorRetryDelay time.Duration // token rejected, while rotating
	RateLimitDefault     time.Duration // used when the server sends no usable hint
	RateLimitMargin      time.Duration // added to every rate-limit wait
}

// Policy maps outcomes to waits.
type Policy struct {
	cfg Config
}

// NewPolicy creates a policy.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg}
}

// Delay returns the extra wait, beyond pacing, before the next action.
// willRetry is false when the candidate is being skipped, in which case a
// transient error needs no cooldown.
func (p *Policy) Delay(o domain.Outcome, willRetry bool) (time.Duration, Reason) {
	switch o.Class {
	case domain.ClassRateLimited:
		return p.RateLimitWait(o.RetryAfter, o.HasHint), ReasonRateLimited
	case domain.ClassTokenInvalid:
		return p.cfg.TokenErrorRetryDelay, ReasonTokenInvalid
	case domain.ClassTransient:
		if !willRetry {
			return 0, ReasonNone
		}
		return p.cfg.ErrorRetryDelay, ReasonTransient
	default:
		return 0, ReasonNone
	}
}

// RateLimitWait is the hinted delay when present, else the default, plus the margin.
func (p *Policy) RateLimitWait(hint time.Duration, hasHint bool) time.Duration {
	wait := p.cfg.RateLimitDefault
	if hasHint {
		wait = hint
	}
	return wait + p.cfg.RateLimitMargin
}
