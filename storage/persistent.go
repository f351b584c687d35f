package storage

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/internal/wire"
)

// PersistentStorage provides typed access to the state of a safety rules engine.
type PersistentStorage struct {
	internal Storage
}

// New returns a PersistentStorage that uses the given storage. The storage is not seeded.
func New(internal Storage) *PersistentStorage {
	return &PersistentStorage{internal: internal}
}

// Initialize returns a PersistentStorage for internal. If the storage has no signing
// key yet, key is imported and the safety data is set to the start of epoch 0.
// A storage that already has a key is left as is.
func Initialize(internal Storage, key crypto.PrivateKey) (*PersistentStorage, error) {
	ps := New(internal)
	has, err := ps.HasKey()
	if err != nil {
		return nil, err
	}
	if has {
		return ps, nil
	}
	if err := ps.importKey(key); err != nil {
		return nil, err
	}
	if err := ps.SetSafetyData(safetyrules.NewSafetyData(0)); err != nil {
		return nil, err
	}
	return ps, nil
}

// Internal returns the wrapped storage.
func (ps *PersistentStorage) Internal() Storage {
	return ps.internal
}

// HasKey returns true if the storage holds a signing key.
func (ps *PersistentStorage) HasKey() (bool, error) {
	if cs, ok := ps.internal.(CryptoStorage); ok {
		return cs.HasKey()
	}
	_, err := ps.internal.Get(KeySigningKey)
	if errors.Is(err, ErrKeyNotSet) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (ps *PersistentStorage) importKey(key crypto.PrivateKey) error {
	if cs, ok := ps.internal.(CryptoStorage); ok {
		return cs.ImportKey(key)
	}
	pemKey, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	return ps.internal.Set(KeySigningKey, pemKey)
}

// Signer returns a signer for the stored signing key.
func (ps *PersistentStorage) Signer() (crypto.Signer, error) {
	if cs, ok := ps.internal.(CryptoStorage); ok {
		return cs.Signer()
	}
	pemKey, err := ps.internal.Get(KeySigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	key, err := crypto.UnmarshalPrivateKey(pemKey)
	if err != nil {
		return nil, unavailable("decode signing key", err)
	}
	return crypto.NewSigner(key)
}

// SafetyData returns the stored safety data.
func (ps *PersistentStorage) SafetyData() (sd safetyrules.SafetyData, err error) {
	var epoch, lvr, pr uint64
	if err := ps.getUint64(KeyEpoch, &epoch); err != nil {
		return sd, err
	}
	if err := ps.getUint64(KeyLastVotedRound, &lvr); err != nil {
		return sd, err
	}
	if err := ps.getUint64(KeyPreferredRound, &pr); err != nil {
		return sd, err
	}
	var lastVote []byte
	if err := ps.get(KeyLastVote, &lastVote); err != nil {
		return sd, err
	}
	sd = safetyrules.SafetyData{
		Epoch:          safetyrules.Epoch(epoch),
		LastVotedRound: safetyrules.Round(lvr),
		PreferredRound: safetyrules.Round(pr),
	}
	if lastVote != nil {
		sd.LastVote, err = wire.UnmarshalVote(lastVote)
		if err != nil {
			return sd, unavailable("decode last vote", err)
		}
	}
	return sd, nil
}

// SetSafetyData stores the safety data in a single atomic write.
func (ps *PersistentStorage) SetSafetyData(sd safetyrules.SafetyData) error {
	var lastVote []byte
	if sd.LastVote != nil {
		lastVote = wire.MarshalVote(sd.LastVote)
	}
	values := make(map[string][]byte, 4)
	for key, v := range map[string]interface{}{
		KeyEpoch:          uint64(sd.Epoch),
		KeyLastVotedRound: uint64(sd.LastVotedRound),
		KeyPreferredRound: uint64(sd.PreferredRound),
		KeyLastVote:       lastVote,
	} {
		b, err := encMode.Marshal(v)
		if err != nil {
			return unavailable("encode "+key, err)
		}
		values[key] = b
	}
	return ps.internal.SetAll(values)
}

// Author returns the author that the storage is bound to. ok is false if the storage is not bound yet.
func (ps *PersistentStorage) Author() (author safetyrules.Author, ok bool, err error) {
	b, err := ps.internal.Get(KeyAuthor)
	if errors.Is(err, ErrKeyNotSet) {
		return author, false, nil
	}
	if err != nil {
		return author, false, err
	}
	if len(b) != safetyrules.AuthorLength {
		return author, false, unavailable("decode author", fmt.Errorf("expected %d bytes, got %d", safetyrules.AuthorLength, len(b)))
	}
	copy(author[:], b)
	return author, true, nil
}

// SetAuthor binds the storage to an author.
func (ps *PersistentStorage) SetAuthor(author safetyrules.Author) error {
	return ps.internal.Set(KeyAuthor, author[:])
}

// Reset sets the safety data back to the start of the given epoch. The identity and key are kept.
// It is only meant to be used by operator tooling.
func (ps *PersistentStorage) Reset(epoch safetyrules.Epoch) error {
	return ps.SetSafetyData(safetyrules.NewSafetyData(epoch))
}

// Close closes the wrapped storage.
func (ps *PersistentStorage) Close() error {
	return ps.internal.Close()
}

func (ps *PersistentStorage) get(key string, v interface{}) error {
	b, err := ps.internal.Get(key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := cbor.Unmarshal(b, v); err != nil {
		return unavailable("decode "+key, err)
	}
	return nil
}

func (ps *PersistentStorage) getUint64(key string, v *uint64) error {
	return ps.get(key, v)
}
