package cursor

import (
	"errors"
	"fmt"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

// ErrExhausted is returned when the iterator has moved past the last candidate.
var ErrExhausted = errors.New("candidate space exhausted")

// Iterator walks the candidate space once in a fixed direction.
// It never decides whether a failure consumes an advance; the caller does.
type Iterator struct {
	start     domain.Candidate
	direction domain.Direction
	current   domain.Candidate
	done      bool
	visited   int
}

// NewIterator creates an iterator positioned at start.
func NewIterator(start domain.Candidate, direction domain.Direction) (*Iterator, error) {
	if !start.Valid() {
		return nil, fmt.Errorf("start %d outside candidate space", int(start))
	}
	if direction != domain.DirectionAscending && direction != domain.DirectionDescending {
		return nil, fmt.Errorf("unknown direction %q", direction)
	}
	return &Iterator{
		start:     start,
		direction: direction,
		current:   start,
	}, nil
}

// Peek returns the current candidate without consuming it.
func (it *Iterator) Peek() (domain.Candidate, error) {
	if it.done {
		return 0, ErrExhausted
	}
	return it.current, nil
}

// Advance moves to the next candidate. It reports false once the space is exhausted.
func (it *Iterator) Advance() bool {
	if it.done {
		return false
	}
	it.visited++
	next := it.current + domain.Candidate(it.direction.Step())
	if !next.Valid() {
		it.done = true
		return false
	}
	it.current = next
	return true
}

// Start returns the candidate the iterator was created at.
func (it *Iterator) Start() domain.Candidate {
	return it.start
}

// Direction returns the traversal direction.
func (it *Iterator) Direction() domain.Direction {
	return it.direction
}

// Visited returns how many candidates have been advanced past.
func (it *Iterator) Visited() int {
	return it.visited
}

// Remaining returns how many candidates are left including the current one.
func (it *Iterator) Remaining() int {
	if it.done {
		return 0
	}
	if it.direction == domain.DirectionDescending {
		return int(it.current-domain.MinCandidate) + 1
	}
	return int(domain.MaxCandidate-it.current) + 1
}
