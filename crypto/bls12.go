package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	bls12 "github.com/kilic/bls12-381"
)

const (
	// BLS12PrivateKeyFileType is the PEM type for a BLS12-381 private key.
	BLS12PrivateKeyFileType = "BLS12-381 PRIVATE KEY"
	// BLS12PublicKeyFileType is the PEM type for a BLS12-381 public key.
	BLS12PublicKeyFileType = "BLS12-381 PUBLIC KEY"
)

var (
	domain = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

	// the order r of G1
	curveOrder, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)
)

// BLS12PublicKey is a bls12-381 public key.
type BLS12PublicKey struct {
	p *bls12.PointG1
}

// ToBytes marshals the public key to a byte slice.
func (pub BLS12PublicKey) ToBytes() []byte {
	return bls12.NewG1().ToCompressed(pub.p)
}

// FromBytes unmarshals the public key from a byte slice.
func (pub *BLS12PublicKey) FromBytes(b []byte) error {
	var err error
	pub.p, err = bls12.NewG1().FromCompressed(b)
	if err != nil {
		return fmt.Errorf("bls12: failed to decompress public key: %w", err)
	}
	return nil
}

// BLS12PrivateKey is a bls12-381 private key.
type BLS12PrivateKey struct {
	p *big.Int
}

// ToBytes marshals the private key to a byte slice.
func (priv BLS12PrivateKey) ToBytes() []byte {
	return priv.p.Bytes()
}

// FromBytes unmarshals the private key from a byte slice.
func (priv *BLS12PrivateKey) FromBytes(b []byte) error {
	p := new(big.Int).SetBytes(b)
	if p.Sign() == 0 || p.Cmp(curveOrder) >= 0 {
		return fmt.Errorf("bls12: private key out of range")
	}
	priv.p = p
	return nil
}

// GenerateBLS12PrivateKey generates a new private key.
func GenerateBLS12PrivateKey() (*BLS12PrivateKey, error) {
	// the private key is uniformly random integer such that 0 <= pk < r
	pk, err := rand.Int(rand.Reader, curveOrder)
	if err != nil {
		return nil, fmt.Errorf("bls12: failed to generate private key: %w", err)
	}
	return &BLS12PrivateKey{p: pk}, nil
}

// Public returns the public key associated with this private key.
func (priv *BLS12PrivateKey) Public() PublicKey {
	p := &bls12.PointG1{}
	// The public key is the secret key multiplied by the generator G1
	return &BLS12PublicKey{p: bls12.NewG1().MulScalarBig(p, &bls12.G1One, priv.p)}
}

type bls12Signer struct {
	key *BLS12PrivateKey
}

func (s *bls12Signer) Sign(message []byte) ([]byte, error) {
	g2 := bls12.NewG2()
	point, err := g2.HashToCurve(message, domain)
	if err != nil {
		return nil, fmt.Errorf("bls12: hash to curve failed: %w", err)
	}
	// multiply the point by the secret key, storing the result in the same point variable
	g2.MulScalarBig(point, point, s.key.p)
	return g2.ToCompressed(point), nil
}

func (s *bls12Signer) Public() PublicKey {
	return s.key.Public()
}

func subgroupCheck(point *bls12.PointG2) error {
	var p bls12.PointG2
	g2 := bls12.NewG2()
	g2.MulScalarBig(&p, point, curveOrder)
	if !g2.IsZero(&p) {
		return fmt.Errorf("bls12: point is not part of the subgroup")
	}
	return nil
}

func verifyBLS12(pub *BLS12PublicKey, message, signature []byte) error {
	if pub == nil || pub.p == nil {
		return fmt.Errorf("bls12: missing public key")
	}
	g2 := bls12.NewG2()
	sig, err := g2.FromCompressed(signature)
	if err != nil {
		return fmt.Errorf("bls12: %w: %v", ErrInvalidSignature, err)
	}
	if err := subgroupCheck(sig); err != nil {
		return err
	}
	messagePoint, err := g2.HashToCurve(message, domain)
	if err != nil {
		return fmt.Errorf("bls12: hash to curve failed: %w", err)
	}
	engine := bls12.NewEngine()
	engine.AddPairInv(&bls12.G1One, sig)
	engine.AddPair(pub.p, messagePoint)
	if !engine.Result().IsOne() {
		return fmt.Errorf("bls12: %w", ErrInvalidSignature)
	}
	return nil
}
