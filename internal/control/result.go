package control

import (
	"errors"
	"time"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

var (
	// ErrFatal wraps every failure that aborts a run before the space is covered.
	ErrFatal = errors.New("search aborted")

	// ErrCanceled is returned when the run context ends first.
	ErrCanceled = errors.New("search canceled")
)

// Terminal is how a run ended.
type Terminal string

const (
	TerminalSuccess   Terminal = "SUCCESS"
	TerminalExhausted Terminal = "EXHAUSTED"
	TerminalFatal     Terminal = "FATAL"
)

// Inconclusive is a candidate the run moved past without a confirmed answer.
type Inconclusive struct {
	Candidate domain.Candidate `json:"candidate"`
	Class     domain.Class     `json:"class,omitempty"`
	Reason    string           `json:"reason"`
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	Deployment string
	Terminal   Terminal

	// Candidate and Payload are set on SUCCESS.
	Candidate domain.Candidate
	Payload   []byte

	Attempts     int
	Rotations    int
	Inconclusive []Inconclusive
	Reason       string
	Elapsed      time.Duration
}

// Found reports whether the credential was recovered.
func (r *Result) Found() bool {
	return r != nil && r.Terminal == TerminalSuccess
}

// Status is a point-in-time view of a running search, served on /health.
type Status struct {
	Deployment   string    `json:"deployment"`
	RunID        string    `json:"run_id"`
	State        State     `json:"state"`
	Description  string    `json:"description"`
	Cursor       string    `json:"cursor"`
	Remaining    int       `json:"remaining"`
	Attempts     int       `json:"attempts"`
	Rotations    int       `json:"rotations"`
	Inconclusive int       `json:"inconclusive"`
	Token        string    `json:"token,omitempty"`
	Terminal     Terminal  `json:"terminal,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
