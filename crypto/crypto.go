// Package crypto implements the signature schemes that a validator can use to sign consensus messages.
// The supported schemes are:
// - ECDSA (P-256)
// - EDDSA (Ed25519)
// - BLS12 (BLS12-381)
//
// A Signer is the only way to use a private key once it has been loaded.
// Signers never expose the key material they hold.
package crypto

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
)

// Names of the supported signature schemes.
const (
	NameECDSA = "ecdsa"
	NameEDDSA = "eddsa"
	NameBLS12 = "bls12"
)

// PublicKey is the public part of a validator's key pair.
type PublicKey = crypto.PublicKey

// PrivateKey is the private part of a validator's key pair.
type PrivateKey interface {
	// Public returns the public key associated with this private key.
	Public() PublicKey
}

// Signer creates signatures with a private key that it does not reveal.
type Signer interface {
	// Sign returns a signature of the given message.
	Sign(message []byte) ([]byte, error)
	// Public returns the public key that verifies signatures created by this signer.
	Public() PublicKey
}

// NewSigner returns a Signer for the given private key.
func NewSigner(key PrivateKey) (Signer, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return &ecdsaSigner{key: k}, nil
	case ed25519.PrivateKey:
		return &eddsaSigner{key: k}, nil
	case *BLS12PrivateKey:
		return &bls12Signer{key: k}, nil
	default:
		return nil, fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, key)
	}
}

// Verify checks that signature is a valid signature of message by the owner of pub.
func Verify(pub PublicKey, message, signature []byte) error {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(k, message, signature)
	case ed25519.PublicKey:
		return verifyEDDSA(k, message, signature)
	case *BLS12PublicKey:
		return verifyBLS12(k, message, signature)
	default:
		return fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, pub)
	}
}

// GenerateKey generates a new private key for the named scheme.
func GenerateKey(scheme string) (PrivateKey, error) {
	switch scheme {
	case NameECDSA:
		return GenerateECDSAPrivateKey()
	case NameEDDSA:
		return GenerateEDDSAPrivateKey()
	case NameBLS12:
		return GenerateBLS12PrivateKey()
	default:
		return nil, fmt.Errorf("crypto: unknown signature scheme '%s'", scheme)
	}
}

// Scheme returns the name of the signature scheme that the public key belongs to.
func Scheme(pub PublicKey) (string, error) {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return NameECDSA, nil
	case ed25519.PublicKey:
		return NameEDDSA, nil
	case *BLS12PublicKey:
		return NameBLS12, nil
	default:
		return "", fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, pub)
	}
}

// PublicKeyEqual returns true if a and b are the same public key.
func PublicKeyEqual(a, b PublicKey) bool {
	ab, err := MarshalPublicKey(a)
	if err != nil {
		return false
	}
	bb, err := MarshalPublicKey(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
