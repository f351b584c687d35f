package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

const (
	// EDDSAPrivateKeyFileType is the PEM type for an Ed25519 private key.
	EDDSAPrivateKeyFileType = "EDDSA PRIVATE KEY"
	// EDDSAPublicKeyFileType is the PEM type for an Ed25519 public key.
	EDDSAPublicKeyFileType = "EDDSA PUBLIC KEY"
)

// GenerateEDDSAPrivateKey returns a new Ed25519 private key.
func GenerateEDDSAPrivateKey() (ed25519.PrivateKey, error) {
	_, pk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("eddsa: failed to generate key: %w", err)
	}
	return pk, nil
}

type eddsaSigner struct {
	key ed25519.PrivateKey
}

func (s *eddsaSigner) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

func (s *eddsaSigner) Public() PublicKey {
	return s.key.Public()
}

func verifyEDDSA(pub ed25519.PublicKey, message, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("eddsa: invalid public key size %d", len(pub))
	}
	if !ed25519.Verify(pub, message, signature) {
		return fmt.Errorf("eddsa: %w", ErrInvalidSignature)
	}
	return nil
}
