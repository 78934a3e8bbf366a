// Package cursor produces the ordered candidate sequence for a search.
//
// # Purpose
//
// The cursor is the bookmark of a search run: it remembers which candidate
// comes next and in which direction the space is walked.
//
//	it, _ := cursor.NewIterator(domain.MinCandidate, domain.DirectionAscending)
//	c, _ := it.Peek()   // 0000, not consumed
//	it.Advance()        // 0001
//
// # Guarantees
//
//   - Every candidate in [0000, 9999] is produced exactly once per pass.
//   - Candidates are never revisited once advanced past.
//   - The same start and direction always reproduce the same sequence.
//
// The iterator holds no retry state. Whether an attempt consumes an advance is
// decided by the search controller.
package cursor
