package programserver

import (
	"errors"
	"sync"
	"time"

	"saxis/internal/protocol"
)

// Repository defines the concurrency-safe contract for publishing programs
// and tracking their completion.
type Repository interface {
	// Publish stores segs under the next sequence number and returns it.
	// Sequence numbers start at 1 and increase by one per program.
	Publish(name string, segs [][]protocol.Pace) (int64, error)

	// Latest returns a copy of the most recently published program. ok is
	// false before the first Publish.
	Latest() (p Published, ok bool)

	// Get returns a copy of the program published under seq.
	Get(seq int64) (p Published, ok bool)

	// Complete marks seq as completed and moves the reported pose to the
	// program's final waypoint. It reports whether this call changed the
	// program's state; completing twice is a no-op.
	Complete(seq int64) (bool, error)

	// Pose returns the pose reported to players.
	Pose() []float64

	// SetPose replaces the pose reported to players.
	SetPose(j []float64)
}

var (
	// ErrNoProgram is returned for an unknown sequence number.
	ErrNoProgram = errors.New("no such program")

	// ErrEmptyProgram is returned when publishing a program without segments.
	ErrEmptyProgram = errors.New("program has no segments")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu     sync.RWMutex
	store  Store
	latest int64
	pose   []float64
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// The latest sequence, and the pose if that program was completed, are
// recovered from programs already in the store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	r := &InMemoryRepository{store: store}
	if seqs := store.ListSequences(); len(seqs) > 0 {
		r.latest = seqs[len(seqs)-1]
		if p, ok := store.GetProgram(r.latest); ok && p.Completed {
			r.pose = p.finalPose()
		}
	}
	return r
}

// Publish implements Repository.Publish.
func (r *InMemoryRepository) Publish(name string, segs [][]protocol.Pace) (int64, error) {
	if len(segs) == 0 {
		return 0, ErrEmptyProgram
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.latest++
	r.store.SetProgram(&Published{
		Sequence:    r.latest,
		Name:        name,
		Segments:    cloneSegments(segs),
		PublishedAt: time.Now().UTC(),
	})
	return r.latest, nil
}

// Latest implements Repository.Latest.
func (r *InMemoryRepository) Latest() (Published, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == 0 {
		return Published{}, false
	}
	return r.getLocked(r.latest)
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(seq int64) (Published, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(seq)
}

// Complete implements Repository.Complete.
func (r *InMemoryRepository) Complete(seq int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.store.GetProgram(seq)
	if !ok {
		return false, ErrNoProgram
	}
	if p.Completed {
		return false, nil
	}

	p.Completed = true
	p.CompletedAt = time.Now().UTC()
	if final := p.finalPose(); final != nil {
		r.pose = final
	}
	return true, nil
}

// Pose implements Repository.Pose.
func (r *InMemoryRepository) Pose() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneJoints(r.pose)
}

// SetPose implements Repository.SetPose.
func (r *InMemoryRepository) SetPose(j []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = cloneJoints(j)
}

// getLocked returns a deep copy of the stored program.
// Caller must hold r.mu.
func (r *InMemoryRepository) getLocked(seq int64) (Published, bool) {
	p, ok := r.store.GetProgram(seq)
	if !ok {
		return Published{}, false
	}
	out := *p
	out.Segments = cloneSegments(p.Segments)
	return out, true
}
