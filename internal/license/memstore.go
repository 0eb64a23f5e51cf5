package license

import "sync"

// MemoryStore is an in-process Store, used in tests and ephemeral runs
type MemoryStore struct {
	mu     sync.RWMutex
	fields map[Field]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fields: make(map[Field]string)}
}

func (s *MemoryStore) Get(field Field) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[field]
	return v, ok
}

func (s *MemoryStore) Set(field Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[field] = value
	return nil
}

func (s *MemoryStore) Delete(field Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, field)
	return nil
}

// Snapshot returns a copy of every stored field
func (s *MemoryStore) Snapshot() map[Field]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Field]string, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}
