package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v2"
	"github.com/relab/safetyrules/logging"
)

// BadgerStorage stores values in a badger database with synchronous writes.
// badger holds a lock on the database directory while it is open.
type BadgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens or creates a database in dir.
func NewBadgerStorage(dir string, logger logging.Logger) (*BadgerStorage, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, unavailable("open badger", err)
	}
	return &BadgerStorage{db: db}, nil
}

// Get returns the value of key.
func (s *BadgerStorage) Get(key string) (value []byte, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotSet
	}
	if err != nil {
		return nil, unavailable("badger get", err)
	}
	return value, nil
}

// Set durably stores a value.
func (s *BadgerStorage) Set(key string, value []byte) error {
	return s.SetAll(map[string][]byte{key: value})
}

// SetAll durably stores all the values in a single transaction.
func (s *BadgerStorage) SetAll(values map[string][]byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range values {
			if err := txn.Set([]byte(k), copyBytes(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("badger update", err)
	}
	return nil
}

// Close closes the database.
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

// badgerLogger adapts a Logger to badger's logging interface.
type badgerLogger struct {
	logging.Logger
}

func (l badgerLogger) Warningf(template string, args ...interface{}) {
	l.Warnf(template, args...)
}
