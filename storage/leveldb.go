package storage

import (
	tmdb "github.com/tendermint/tm-db"
	"github.com/tendermint/tm-db/goleveldb"
)

const levelDBName = "safety-rules"

// LevelDBStorage stores values in a goleveldb database.
// goleveldb holds a lock on the database directory while it is open.
type LevelDBStorage struct {
	db tmdb.DB
}

// NewLevelDBStorage opens or creates a database in dir.
func NewLevelDBStorage(dir string) (*LevelDBStorage, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	db, err := goleveldb.NewDB(levelDBName, dir)
	if err != nil {
		return nil, unavailable("open leveldb", err)
	}
	return &LevelDBStorage{db: db}, nil
}

// Get returns the value of key.
func (s *LevelDBStorage) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, unavailable("leveldb get", err)
	}
	if v == nil {
		return nil, ErrKeyNotSet
	}
	return v, nil
}

// Set durably stores a value.
func (s *LevelDBStorage) Set(key string, value []byte) error {
	if err := s.db.SetSync([]byte(key), value); err != nil {
		return unavailable("leveldb set", err)
	}
	return nil
}

// SetAll durably stores all the values in a single batch.
func (s *LevelDBStorage) SetAll(values map[string][]byte) (err error) {
	batch := s.db.NewBatch()
	defer func() {
		if cerr := batch.Close(); err == nil && cerr != nil {
			err = unavailable("leveldb batch close", cerr)
		}
	}()
	for k, v := range values {
		if err := batch.Set([]byte(k), v); err != nil {
			return unavailable("leveldb batch set", err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return unavailable("leveldb batch write", err)
	}
	return nil
}

// Close closes the database.
func (s *LevelDBStorage) Close() error {
	return s.db.Close()
}
