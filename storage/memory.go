package storage

import "sync"

// InMemoryStorage keeps values in memory. It is not durable and is only meant for tests.
type InMemoryStorage struct {
	mut    sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewInMemoryStorage returns an empty in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{data: make(map[string][]byte)}
}

// Get returns the value of key.
func (s *InMemoryStorage) Get(key string) ([]byte, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotSet
	}
	return copyBytes(v), nil
}

// Set stores a value.
func (s *InMemoryStorage) Set(key string, value []byte) error {
	return s.SetAll(map[string][]byte{key: value})
}

// SetAll stores all the values.
func (s *InMemoryStorage) SetAll(values map[string][]byte) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range values {
		s.data[k] = copyBytes(v)
	}
	return nil
}

// Close closes the storage. The values are kept, so that a closed storage can be inspected by tests.
func (s *InMemoryStorage) Close() error {
	s.mut.Lock()
	s.closed = true
	s.mut.Unlock()
	return nil
}
