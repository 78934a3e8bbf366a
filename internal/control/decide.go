package control

import "github.com/vietddude/vaultprobe/internal/core/domain"

// TokenAction is what happens to the current token after an attempt.
type TokenAction string

const (
	KeepToken   TokenAction = "keep"
	RotateToken TokenAction = "rotate"
)

// CandidateAction is what happens to the cursor after an attempt.
type CandidateAction string

const (
	Finish  CandidateAction = "finish"
	Advance CandidateAction = "advance"
	Retry   CandidateAction = "retry"
	Skip    CandidateAction = "skip"
)

// Decision is the controller's response to one classified attempt.
type Decision struct {
	Token     TokenAction
	Candidate CandidateAction

	// Inconclusive marks a candidate left behind without a confirmed answer.
	Inconclusive bool
}

// Decide maps an outcome class to a decision. retries is how many times the
// current candidate has already been retried; retryCap bounds the attempts
// spent on one candidate (zero or less means unbounded).
//
//	success          keep    finish
//	wrong candidate  keep    advance
//	token invalid    rotate  retry, skip at cap
//	rate limited     rotate  retry, skip at cap
//	transient        keep    retry; rotate and skip at cap
//	unknown          keep    advance (inconclusive)
func Decide(class domain.Class, retries, retryCap int) Decision {
	capped := retryCap > 0 && retries+1 >= retryCap

	switch class {
	case domain.ClassSuccess:
		return Decision{Token: KeepToken, Candidate: Finish}

	case domain.ClassWrongCandidate:
		return Decision{Token: KeepToken, Candidate: Advance}

	case domain.ClassTokenInvalid, domain.ClassRateLimited:
		if capped {
			return Decision{Token: RotateToken, Candidate: Skip, Inconclusive: true}
		}
		return Decision{Token: RotateToken, Candidate: Retry}

	case domain.ClassTransient:
		if capped {
			return Decision{Token: RotateToken, Candidate: Skip, Inconclusive: true}
		}
		return Decision{Token: KeepToken, Candidate: Retry}

	default:
		return Decision{Token: KeepToken, Candidate: Advance, Inconclusive: true}
	}
}
