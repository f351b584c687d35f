package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// MarshalPrivateKey encodes a private key as a PEM block.
func MarshalPrivateKey(key PrivateKey) ([]byte, error) {
	var (
		marshalled []byte
		keyType    string
		err        error
	)
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		marshalled, err = x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to marshal private key: %w", err)
		}
		keyType = ECDSAPrivateKeyFileType
	case ed25519.PrivateKey:
		marshalled, err = x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to marshal private key: %w", err)
		}
		keyType = EDDSAPrivateKeyFileType
	case *BLS12PrivateKey:
		marshalled = k.ToBytes()
		keyType = BLS12PrivateKeyFileType
	default:
		return nil, fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, key)
	}
	return pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: marshalled}), nil
}

// UnmarshalPrivateKey decodes a private key from a PEM block.
func UnmarshalPrivateKey(data []byte) (PrivateKey, error) {
	b, _ := pem.Decode(data)
	if b == nil {
		return nil, fmt.Errorf("crypto: failed to decode PEM")
	}
	switch b.Type {
	case ECDSAPrivateKeyFileType:
		key, err := x509.ParseECPrivateKey(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to parse private key: %w", err)
		}
		return key, nil
	case EDDSAPrivateKeyFileType:
		key, err := x509.ParsePKCS8PrivateKey(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to parse private key: %w", err)
		}
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, key)
		}
		return edKey, nil
	case BLS12PrivateKeyFileType:
		key := &BLS12PrivateKey{}
		if err := key.FromBytes(b.Bytes); err != nil {
			return nil, err
		}
		return key, nil
	default:
		return nil, fmt.Errorf("crypto: unknown private key type '%s'", b.Type)
	}
}

// MarshalPublicKey encodes a public key as a PEM block.
func MarshalPublicKey(key PublicKey) ([]byte, error) {
	var (
		marshalled []byte
		keyType    string
		err        error
	)
	switch k := key.(type) {
	case *ecdsa.PublicKey:
		marshalled, err = x509.MarshalPKIXPublicKey(k)
		keyType = ECDSAPublicKeyFileType
	case ed25519.PublicKey:
		marshalled, err = x509.MarshalPKIXPublicKey(k)
		keyType = EDDSAPublicKeyFileType
	case *BLS12PublicKey:
		marshalled = k.ToBytes()
		keyType = BLS12PublicKeyFileType
	default:
		return nil, fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, key)
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: marshalled}), nil
}

// UnmarshalPublicKey decodes a public key from a PEM block.
func UnmarshalPublicKey(data []byte) (PublicKey, error) {
	b, _ := pem.Decode(data)
	if b == nil {
		return nil, fmt.Errorf("crypto: failed to decode PEM")
	}
	switch b.Type {
	case ECDSAPublicKeyFileType, EDDSAPublicKeyFileType:
		key, err := x509.ParsePKIXPublicKey(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to parse public key: %w", err)
		}
		switch key.(type) {
		case *ecdsa.PublicKey, ed25519.PublicKey:
			return key, nil
		}
		return nil, fmt.Errorf("crypto: %w: %T", ErrUnsupportedKey, key)
	case BLS12PublicKeyFileType:
		key := &BLS12PublicKey{}
		if err := key.FromBytes(b.Bytes); err != nil {
			return nil, err
		}
		return key, nil
	default:
		return nil, fmt.Errorf("crypto: unknown public key type '%s'", b.Type)
	}
}

// WritePrivateKeyFile writes a private key to the specified file.
func WritePrivateKeyFile(key PrivateKey, filePath string) error {
	b, err := MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, b, 0o600)
}

// WritePublicKeyFile writes a public key to the specified file.
func WritePublicKeyFile(key PublicKey, filePath string) error {
	b, err := MarshalPublicKey(key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, b, 0o644)
}

// ReadPrivateKeyFile reads a private key from the specified file.
func ReadPrivateKeyFile(keyFile string) (PrivateKey, error) {
	b, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	return UnmarshalPrivateKey(b)
}

// ReadPublicKeyFile reads a public key from the specified file.
func ReadPublicKeyFile(keyFile string) (PublicKey, error) {
	b, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	return UnmarshalPublicKey(b)
}
