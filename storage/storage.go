// Package storage implements durable storage for the safety rules engine.
//
// A Storage is a small key-value store. Writes return only once they are durable,
// and SetAll writes several keys atomically. PersistentStorage layers typed
// accessors for the safety data and the signing key on top of a Storage.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/logging"
)

// Names of the stored values.
const (
	KeyEpoch          = "epoch"
	KeyLastVotedRound = "last_voted_round"
	KeyPreferredRound = "preferred_round"
	KeyLastVote       = "last_vote"
	KeySigningKey     = "signing_key"
	KeyAuthor         = "author"
)

// ErrKeyNotSet is returned by Get when the key has no value.
var ErrKeyNotSet = errors.New("storage: key not set")

// ErrClosed is returned when a closed storage is used.
var ErrClosed = errors.New("storage: closed")

// Storage is a durable key-value store.
//
//go:generate mockgen -destination=../internal/mocks/storage_mock.go -package=mocks . Storage
type Storage interface {
	// Get returns the value of key, or ErrKeyNotSet.
	Get(key string) ([]byte, error)
	// Set durably stores a value.
	Set(key string, value []byte) error
	// SetAll durably stores all the values, or none of them.
	SetAll(values map[string][]byte) error
	// Close releases the storage and its lease.
	Close() error
}

// CryptoStorage is implemented by storages that keep the signing key to themselves.
// Such storages never return the key from Get.
type CryptoStorage interface {
	Storage
	// HasKey returns true if a signing key has been imported.
	HasKey() (bool, error)
	// ImportKey stores the signing key.
	ImportKey(key crypto.PrivateKey) error
	// Signer returns a signer that uses the stored key.
	Signer() (crypto.Signer, error)
}

// Backend types.
const (
	TypeInMemory = "in-memory"
	TypeOnDisk   = "on-disk"
	TypeLevelDB  = "leveldb"
	TypeBadger   = "badger"
	TypeSecure   = "secure"
)

// Options selects and configures a storage backend.
type Options struct {
	Type string
	// Path is the file (on-disk, secure) or directory (leveldb, badger) to store data in.
	Path string
	// Passphrase protects the signing key of the secure backend.
	Passphrase string
	Logger     logging.Logger
}

// Open opens the storage backend described by opts.
func Open(opts Options) (Storage, error) {
	if opts.Logger == nil {
		opts.Logger = logging.New("storage")
	}
	if opts.Type != TypeInMemory && opts.Path == "" {
		return nil, fmt.Errorf("%w: storage type '%s' requires a path", safetyrules.ErrConfiguration, opts.Type)
	}
	switch opts.Type {
	case TypeInMemory:
		return NewInMemoryStorage(), nil
	case TypeOnDisk:
		return NewOnDiskStorage(opts.Path)
	case TypeLevelDB:
		return NewLevelDBStorage(opts.Path)
	case TypeBadger:
		return NewBadgerStorage(opts.Path, opts.Logger)
	case TypeSecure:
		if opts.Passphrase == "" {
			return nil, fmt.Errorf("%w: secure storage requires a passphrase", safetyrules.ErrConfiguration)
		}
		inner, err := NewOnDiskStorage(opts.Path)
		if err != nil {
			return nil, err
		}
		return NewSecureStorage(inner, opts.Path+".key", []byte(opts.Passphrase)), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type '%s'", safetyrules.ErrConfiguration, opts.Type)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", safetyrules.ErrStorageUnavailable, op, err)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return unavailable("create directory", err)
	}
	return nil
}

func ensureParentDir(path string) error {
	return ensureDir(filepath.Dir(path))
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
