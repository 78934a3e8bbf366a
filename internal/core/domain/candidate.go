package domain

import (
	"fmt"
	"strconv"
)

// Candidate is one value from the 4-digit credential space.
type Candidate int

const (
	MinCandidate Candidate = 0
	MaxCandidate Candidate = 9999

	// SpaceSize is the number of candidates in [MinCandidate, MaxCandidate].
	SpaceSize = int(MaxCandidate-MinCandidate) + 1
)

// String returns the canonical zero-padded form, e.g. "0042".
func (c Candidate) String() string {
	return fmt.Sprintf("%04d", int(c))
}

// Valid reports whether c lies inside the search space.
func (c Candidate) Valid() bool {
	return c >= MinCandidate && c <= MaxCandidate
}

// ParseCandidate parses a decimal candidate ("42" or "0042").
func ParseCandidate(s string) (Candidate, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse candidate %q: %w", s, err)
	}
	c := Candidate(n)
	if !c.Valid() {
		return 0, fmt.Errorf("candidate %d outside [%s, %s]", n, MinCandidate, MaxCandidate)
	}
	return c, nil
}

// Direction is the traversal order of the candidate space.
type Direction string

const (
	DirectionAscending  Direction = "ascending"
	DirectionDescending Direction = "descending"
)

// ParseDirection validates a configured direction. Empty means ascending.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionAscending:
		return DirectionAscending, nil
	case DirectionDescending:
		return DirectionDescending, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Step returns +1 for ascending and -1 for descending.
func (d Direction) Step() int {
	if d == DirectionDescending {
		return -1
	}
	return 1
}

// Origin returns the first candidate visited in this direction.
func (d Direction) Origin() Candidate {
	if d == DirectionDescending {
		return MaxCandidate
	}
	return MinCandidate
}
