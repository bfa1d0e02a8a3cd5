// Package session tracks the agent threads opened by this process.
package session

import (
	"sync"
	"time"
)

// Thread is the metadata kept for one conversation thread.
type Thread struct {
	ID        string
	CreatedAt time.Time
}

// Store maps thread ids to metadata. Implementations must be safe for
// concurrent use.
type Store interface {
	// PutIfAbsent records t unless its id is already known. It returns the
	// stored entry and whether t was inserted.
	PutIfAbsent(t Thread) (Thread, bool)
	// Get returns the entry for id.
	Get(id string) (Thread, bool)
	// Len returns the number of known threads.
	Len() int
}

// MemoryStore is a process-lifetime Store. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]Thread
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]Thread),
	}
}

// PutIfAbsent implements Store.
func (s *MemoryStore) PutIfAbsent(t Thread) (Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.threads[t.ID]; ok {
		return existing, false
	}
	s.threads[t.ID] = t
	return t, true
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	return t, ok
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
