// Package applog holds an ordered, append-only log of raw lines together
// with short-lived "recently arrived" marks.
package applog

import (
	"time"

	"riskdash/pkg/models"
)

// Mark identifies one recency mark. A mark only clears the index it was
// created for, and only within the generation it was created in.
type Mark struct {
	Index      int
	Generation uint64
}

// Store is an append-only log. It is not safe for concurrent use; a session
// owns each store from its event loop.
type Store struct {
	name       string
	entries    []models.LogEntry
	marks      map[int]uint64
	generation uint64
}

// New creates an empty store.
func New(name string) *Store {
	return &Store{
		name:  name,
		marks: make(map[int]uint64),
	}
}

// Name returns the channel name the store was created for.
func (s *Store) Name() string {
	return s.name
}

// Append adds a line at the tail and marks it as recently arrived. The
// returned mark must be passed to ClearMark once the highlight expires.
func (s *Store) Append(text string, now time.Time) (int, Mark) {
	idx := len(s.entries)
	s.entries = append(s.entries, models.LogEntry{
		Index:     idx,
		Text:      text,
		ArrivedAt: now,
	})
	s.marks[idx] = s.generation
	return idx, Mark{Index: idx, Generation: s.generation}
}

// ClearMark removes a single recency mark. Marks from an older generation
// are ignored so a timer from a previous upload never touches the current one.
func (s *Store) ClearMark(m Mark) bool {
	if m.Generation != s.generation {
		return false
	}
	gen, ok := s.marks[m.Index]
	if !ok || gen != m.Generation {
		return false
	}
	delete(s.marks, m.Index)
	return true
}

// IsRecentlyArrived reports whether the entry at index is still marked.
func (s *Store) IsRecentlyArrived(index int) bool {
	_, ok := s.marks[index]
	return ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// MarkCount returns the number of live recency marks.
func (s *Store) MarkCount() int {
	return len(s.marks)
}

// Snapshot returns a copy of all entries in arrival order.
func (s *Store) Snapshot() []models.LogEntry {
	out := make([]models.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Generation returns the current reset generation.
func (s *Store) Generation() uint64 {
	return s.generation
}

// Reset drops every entry and mark and starts a new generation.
func (s *Store) Reset() {
	s.entries = nil
	s.marks = make(map[int]uint64)
	s.generation++
}
