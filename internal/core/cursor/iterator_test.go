package cursor

import (
	"errors"
	"testing"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

func drain(t *testing.T, it *Iterator) []domain.Candidate {
	t.Helper()
	var out []domain.Candidate
	for {
		c, err := it.Peek()
		if errors.Is(err, ErrExhausted) {
			return out
		}
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		out = append(out, c)
		it.Advance()
	}
}

func TestIterator_CoversSpaceAscending(t *testing.T) {
	it, err := NewIterator(domain.MinCandidate, domain.DirectionAscending)
	if err != nil {
		t.Fatalf("new iterator: %v", err)
	}

	seq := drain(t, it)
	if len(seq) != domain.SpaceSize {
		t.Fatalf("expected %d candidates, got %d", domain.SpaceSize, len(seq))
	}
	for i, c := range seq {
		if int(c) != i {
			t.Fatalf("position %d: expected %d, got %d", i, i, c)
		}
	}
	if _, err := it.Peek(); !errors.Is(err, ErrExhausted) || it.Remaining() != 0 {
		t.Errorf("iterator should be exhausted, remaining=%d", it.Remaining())
	}
}

func TestIterator_Descending(t *testing.T) {
	it, err := NewIterator(domain.MaxCandidate, domain.DirectionDescending)
	if err != nil {
		t.Fatalf("new iterator: %v", err)
	}

	seq := drain(t, it)
	if len(seq) != domain.SpaceSize {
		t.Fatalf("expected %d candidates, got %d", domain.SpaceSize, len(seq))
	}
	if seq[0] != domain.MaxCandidate || seq[len(seq)-1] != domain.MinCandidate {
		t.Errorf("unexpected bounds: first=%s last=%s", seq[0], seq[len(seq)-1])
	}
}

func TestIterator_PeekDoesNotConsume(t *testing.T) {
	it, _ := NewIterator(42, domain.DirectionAscending)

	for i := 0; i < 3; i++ {
		c, err := it.Peek()
		if err != nil || c != 42 {
			t.Fatalf("peek %d: got %v, %v", i, c, err)
		}
	}
	if it.Remaining() != domain.SpaceSize-42 {
		t.Errorf("remaining = %d", it.Remaining())
	}
	if it.Start() != 42 || it.Direction() != domain.DirectionAscending {
		t.Errorf("start = %s, direction = %s", it.Start(), it.Direction())
	}
}

func TestIterator_SameStartReproducesSequence(t *testing.T) {
	a, _ := NewIterator(9990, domain.DirectionAscending)
	b, _ := NewIterator(9990, domain.DirectionAscending)
	first := drain(t, a)
	second := drain(t, b)

	if len(first) != 10 || len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("position %d differs: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestIterator_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		start domain.Candidate
		dir   domain.Direction
	}{
		{"negative start", -1, domain.DirectionAscending},
		{"start above space", 10000, domain.DirectionAscending},
		{"unknown direction", 0, domain.Direction("sideways")},
	}

	for _, tt := range tests {
		if _, err := NewIterator(tt.start, tt.dir); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestCandidate_String(t *testing.T) {
	tests := map[domain.Candidate]string{0: "0000", 7: "0007", 1234: "1234", 9999: "9999"}
	for c, want := range tests {
		if got := c.String(); got != want {
			t.Errorf("Candidate(%d).String() = %q, want %q", int(c), got, want)
		}
	}
}
