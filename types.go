package safetyrules

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// AuthorLength is the length of an Author in bytes.
const AuthorLength = 16

// Author is the stable identity of a validator.
type Author [AuthorLength]byte

// ParseAuthor parses a hex encoded author. A "0x" prefix is accepted.
func ParseAuthor(s string) (Author, error) {
	var a Author
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid author '%s': %w", s, err)
	}
	if len(b) != AuthorLength {
		return a, fmt.Errorf("invalid author '%s': expected %d bytes, got %d", s, AuthorLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func (a Author) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero returns true if the author has not been set.
func (a Author) IsZero() bool {
	return a == Author{}
}

// Epoch identifies a validator set configuration period.
type Epoch uint64

// Round is a consensus step number within an epoch.
type Round uint64

// Hash is a SHA256 hash
type Hash [32]byte

func (h Hash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// Payload is the opaque content of a block.
//
// The string type is used because it is immutable and can hold arbitrary bytes of any length.
type Payload string

// ToBytes is an object that can be converted into bytes for the purposes of hashing, signing, etc.
type ToBytes interface {
	// ToBytes returns the object as bytes.
	ToBytes() []byte
}

// Signing domains keep signatures over different object types apart.
const (
	DomainBlock      = "SAFETYRULES::Block"
	DomainLedgerInfo = "SAFETYRULES::LedgerInfo"
	DomainTimeout    = "SAFETYRULES::Timeout"
)

// SigningMessage returns the message that is signed for obj in the given domain.
func SigningMessage(domain string, obj ToBytes) []byte {
	b := obj.ToBytes()
	msg := make([]byte, 0, len(domain)+1+len(b))
	msg = append(msg, domain...)
	msg = append(msg, 0)
	return append(msg, b...)
}

func hashOf(obj ToBytes) Hash {
	return sha256.Sum256(obj.ToBytes())
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendBytes(buf []byte, v []byte) []byte {
	buf = appendUint64(buf, uint64(len(v)))
	return append(buf, v...)
}
