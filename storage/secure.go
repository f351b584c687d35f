package storage

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/tendermint/tendermint/libs/tempfile"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrKeyProtected is returned when the signing key is read from a secure storage.
var ErrKeyProtected = errors.New("storage: signing key cannot be read from secure storage")

var sealedKeyMagic = []byte("SRKEY1")

const (
	saltSize = 16
	scryptN  = 1 << 15
	scryptR  = 8
	scryptP  = 1
)

// SecureStorage keeps the signing key sealed in a separate file, encrypted with a key
// derived from a passphrase. All other values are kept in the wrapped storage.
// The signing key is only available through Signer.
type SecureStorage struct {
	Storage
	keyPath    string
	passphrase []byte

	mut    sync.Mutex
	signer crypto.Signer
}

// NewSecureStorage returns a secure storage that seals the signing key in keyPath.
func NewSecureStorage(inner Storage, keyPath string, passphrase []byte) *SecureStorage {
	return &SecureStorage{
		Storage:    inner,
		keyPath:    keyPath,
		passphrase: copyBytes(passphrase),
	}
}

// Get returns the value of key. The signing key is never returned.
func (s *SecureStorage) Get(key string) ([]byte, error) {
	if key == KeySigningKey {
		return nil, ErrKeyProtected
	}
	return s.Storage.Get(key)
}

// Set stores a value. A signing key is sealed instead of stored in plain text.
func (s *SecureStorage) Set(key string, value []byte) error {
	return s.SetAll(map[string][]byte{key: value})
}

// SetAll stores all the values.
func (s *SecureStorage) SetAll(values map[string][]byte) error {
	if pemKey, ok := values[KeySigningKey]; ok {
		key, err := crypto.UnmarshalPrivateKey(pemKey)
		if err != nil {
			return err
		}
		if err := s.ImportKey(key); err != nil {
			return err
		}
		rest := make(map[string][]byte, len(values)-1)
		for k, v := range values {
			if k != KeySigningKey {
				rest[k] = v
			}
		}
		values = rest
	}
	if len(values) == 0 {
		return nil
	}
	return s.Storage.SetAll(values)
}

// HasKey returns true if a sealed key file exists.
func (s *SecureStorage) HasKey() (bool, error) {
	_, err := os.Stat(s.keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("stat key file", err)
	}
	return true, nil
}

// ImportKey seals the key and writes it to the key file.
func (s *SecureStorage) ImportKey(key crypto.PrivateKey) error {
	pemKey, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	sealed, err := seal(s.passphrase, pemKey)
	if err != nil {
		return unavailable("seal signing key", err)
	}
	if err := ensureParentDir(s.keyPath); err != nil {
		return err
	}
	if err := tempfile.WriteFileAtomic(s.keyPath, sealed, 0o600); err != nil {
		return unavailable("write key file", err)
	}
	s.mut.Lock()
	s.signer = nil
	s.mut.Unlock()
	return nil
}

// Signer unseals the signing key and returns a signer for it.
// A wrong passphrase or a tampered key file is reported as ErrStorageUnavailable.
func (s *SecureStorage) Signer() (crypto.Signer, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.signer != nil {
		return s.signer, nil
	}
	sealed, err := os.ReadFile(s.keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotSet
	}
	if err != nil {
		return nil, unavailable("read key file", err)
	}
	pemKey, err := unseal(s.passphrase, sealed)
	if err != nil {
		return nil, unavailable("unseal signing key", err)
	}
	key, err := crypto.UnmarshalPrivateKey(pemKey)
	if err != nil {
		return nil, unavailable("decode signing key", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, err
	}
	s.signer = signer
	return signer, nil
}

// Close closes the wrapped storage.
func (s *SecureStorage) Close() error {
	s.mut.Lock()
	s.signer = nil
	s.mut.Unlock()
	return s.Storage.Close()
}

func deriveKey(passphrase, salt []byte) ([]byte, error) {
	return scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
}

// seal returns magic || salt || nonce || ciphertext.
func seal(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealedKeyMagic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealedKeyMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealedKeyMagic), nil
}

func unseal(passphrase, sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, sealedKeyMagic) {
		return nil, errors.New("not a sealed key file")
	}
	sealed = sealed[len(sealedKeyMagic):]
	if len(sealed) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed key file is truncated")
	}
	salt, sealed := sealed[:saltSize], sealed[saltSize:]
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, sealedKeyMagic)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupted key file", safetyrules.ErrStorageUnavailable)
	}
	return plaintext, nil
}
