package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const (
	// ECDSAPrivateKeyFileType is the PEM type for an ECDSA private key.
	ECDSAPrivateKeyFileType = "ECDSA PRIVATE KEY"
	// ECDSAPublicKeyFileType is the PEM type for an ECDSA public key.
	ECDSAPublicKeyFileType = "ECDSA PUBLIC KEY"
)

// GenerateECDSAPrivateKey returns a new ECDSA private key on the P-256 curve.
func GenerateECDSAPrivateKey() (*ecdsa.PrivateKey, error) {
	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ecdsa: failed to generate key: %w", err)
	}
	return pk, nil
}

type ecdsaSigner struct {
	key *ecdsa.PrivateKey
}

// Sign signs the SHA-256 hash of the message. The signature is ASN.1 encoded.
func (s *ecdsaSigner) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, hash[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa: sign failed: %w", err)
	}
	return sig, nil
}

func (s *ecdsaSigner) Public() PublicKey {
	return &s.key.PublicKey
}

func verifyECDSA(pub *ecdsa.PublicKey, message, signature []byte) error {
	hash := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(pub, hash[:], signature) {
		return fmt.Errorf("ecdsa: %w", ErrInvalidSignature)
	}
	return nil
}
