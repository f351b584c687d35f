package crypto

import "errors"

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnsupportedKey is returned for key types that none of the schemes implement.
	ErrUnsupportedKey = errors.New("unsupported key type")
)
