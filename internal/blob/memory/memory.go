// Package memory implements the blob store in process memory, for tests
// and dry runs that still want to inspect what would have been written.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps objects in a map keyed by object name.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Put stores a copy of data.
func (s *Store) Put(_ context.Context, objectName, _ string, data []byte) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("object name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[objectName] = cp
	return "mem://" + objectName, nil
}

// Get returns a stored object.
func (s *Store) Get(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectName]
	return data, ok
}

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
