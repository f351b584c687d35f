package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/tendermint/tendermint/libs/tempfile"
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// OnDiskStorage keeps all values in a single CBOR encoded file.
// Every write replaces the file atomically, so a crash leaves either the old or the new contents.
// The storage holds an exclusive lock on "<path>.lock" while it is open.
type OnDiskStorage struct {
	mut  sync.Mutex
	path string
	data map[string][]byte
	lock *fileLock
}

// NewOnDiskStorage opens the storage file at path, creating it if needed.
// It returns an error matching safetyrules.ErrStoreLocked if another storage has the file open.
func NewOnDiskStorage(path string) (*OnDiskStorage, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	s := &OnDiskStorage{path: path, data: make(map[string][]byte), lock: lock}
	if err := s.load(); err != nil {
		_ = lock.release()
		return nil, err
	}
	return s, nil
}

func (s *OnDiskStorage) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return unavailable("read storage file", err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := cbor.Unmarshal(b, &s.data); err != nil {
		return unavailable("decode storage file", fmt.Errorf("%s: %w", s.path, err))
	}
	return nil
}

// Get returns the value of key.
func (s *OnDiskStorage) Get(key string) ([]byte, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.lock == nil {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotSet
	}
	return copyBytes(v), nil
}

// Set durably stores a value.
func (s *OnDiskStorage) Set(key string, value []byte) error {
	return s.SetAll(map[string][]byte{key: value})
}

// SetAll durably stores all the values. The in-memory view only changes if the file was written.
func (s *OnDiskStorage) SetAll(values map[string][]byte) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.lock == nil {
		return ErrClosed
	}
	next := make(map[string][]byte, len(s.data)+len(values))
	for k, v := range s.data {
		next[k] = v
	}
	for k, v := range values {
		next[k] = copyBytes(v)
	}
	b, err := encMode.Marshal(next)
	if err != nil {
		return unavailable("encode storage file", err)
	}
	if err := tempfile.WriteFileAtomic(s.path, b, 0o600); err != nil {
		return unavailable("write storage file", err)
	}
	s.data = next
	return nil
}

// Close releases the lock on the storage file.
func (s *OnDiskStorage) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.release()
	s.lock = nil
	return err
}
