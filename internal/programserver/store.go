package programserver

import "slices"

// Store is the persistence abstraction for published programs.
// The Repository uses Store for all reads and writes and serializes access
// to it; implementations need not be concurrency-safe.
type Store interface {
	GetProgram(seq int64) (*Published, bool)
	SetProgram(p *Published)

	// ListSequences returns the stored sequence numbers in ascending order.
	ListSequences() []int64
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	programs map[int64]*Published
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		programs: make(map[int64]*Published),
	}
}

// GetProgram implements Store.GetProgram.
func (s *InMemoryStore) GetProgram(seq int64) (*Published, bool) {
	p, ok := s.programs[seq]
	return p, ok
}

// SetProgram implements Store.SetProgram.
func (s *InMemoryStore) SetProgram(p *Published) {
	s.programs[p.Sequence] = p
}

// ListSequences implements Store.ListSequences.
func (s *InMemoryStore) ListSequences() []int64 {
	seqs := make([]int64, 0, len(s.programs))
	for seq := range s.programs {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}
