package safetyrules

import "errors"

// Kind classifies errors by how a caller should react to them.
type Kind uint8

const (
	// KindUnknown is used for errors that are not SafetyErrors.
	KindUnknown Kind = iota
	// KindConfiguration errors are fatal at startup.
	KindConfiguration
	// KindStorage errors abort the current request without producing a signature.
	KindStorage
	// KindSafetyViolation errors mean that the engine refused to sign.
	KindSafetyViolation
	// KindTransport errors mean that the outcome of the request is unknown.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindStorage:
		return "storage"
	case KindSafetyViolation:
		return "safety violation"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// SafetyError is an error with a stable reason that survives serialization.
// A SafetyError without a reason is a category; errors.Is matches every
// error of the same kind against it.
type SafetyError struct {
	Kind   Kind
	Reason string
	msg    string
}

func (e *SafetyError) Error() string {
	return e.msg
}

// Is reports whether target is the same sentinel or the category of e.
func (e *SafetyError) Is(target error) bool {
	t, ok := target.(*SafetyError)
	if !ok {
		return false
	}
	if t.Reason == "" {
		return t.Kind == e.Kind
	}
	return t.Reason == e.Reason
}

var (
	reasons    = make(map[string]*SafetyError)
	categories = make(map[Kind]*SafetyError)
)

func newCategory(kind Kind) *SafetyError {
	e := &SafetyError{Kind: kind, msg: kind.String() + " error"}
	categories[kind] = e
	return e
}

func newError(kind Kind, reason, msg string) *SafetyError {
	e := &SafetyError{Kind: kind, Reason: reason, msg: msg}
	reasons[reason] = e
	return e
}

// Error categories.
var (
	ErrConfiguration   = newCategory(KindConfiguration)
	ErrStorage         = newCategory(KindStorage)
	ErrSafetyViolation = newCategory(KindSafetyViolation)
	ErrTransport       = newCategory(KindTransport)
)

// Safety violations. These are expected during normal operation.
var (
	ErrNotInitialized          = newError(KindSafetyViolation, "NOT_INITIALIZED", "safety rules not initialized")
	ErrNotValidator            = newError(KindSafetyViolation, "NOT_VALIDATOR", "author is not in the validator set")
	ErrIdentityMismatch        = newError(KindSafetyViolation, "IDENTITY_MISMATCH", "identity does not match the bound identity")
	ErrIncorrectEpoch          = newError(KindSafetyViolation, "INCORRECT_EPOCH", "incorrect epoch")
	ErrIncorrectLastVotedRound = newError(KindSafetyViolation, "INCORRECT_LAST_VOTED_ROUND", "round is not above the last voted round")
	ErrIncorrectPreferredRound = newError(KindSafetyViolation, "INCORRECT_PREFERRED_ROUND", "round is below the preferred round")
	ErrInvalidProposal         = newError(KindSafetyViolation, "INVALID_PROPOSAL", "invalid proposal")
	ErrInvalidProposer         = newError(KindSafetyViolation, "INVALID_PROPOSER", "proposal author is not this validator")
	ErrInvalidQuorumCert       = newError(KindSafetyViolation, "INVALID_QUORUM_CERT", "invalid quorum certificate")
	ErrInvalidTimeout          = newError(KindSafetyViolation, "INVALID_TIMEOUT", "invalid timeout")
	ErrInvalidEpochChangeProof = newError(KindSafetyViolation, "INVALID_EPOCH_CHANGE_PROOF", "invalid epoch change proof")
	ErrInvalidRequest          = newError(KindSafetyViolation, "INVALID_REQUEST", "invalid request")
)

// Storage errors.
var (
	ErrStorageUnavailable = newError(KindStorage, "STORAGE_UNAVAILABLE", "storage unavailable")
	ErrStoreLocked        = newError(KindStorage, "STORE_LOCKED", "storage is locked by another process")
)

// Classify returns the kind and reason of err. Errors that are not
// SafetyErrors are KindUnknown with an empty reason.
func Classify(err error) (Kind, string) {
	var se *SafetyError
	if errors.As(err, &se) {
		return se.Kind, se.Reason
	}
	return KindUnknown, ""
}

type restoredError struct {
	msg  string
	base error
}

func (e *restoredError) Error() string { return e.msg }
func (e *restoredError) Unwrap() error { return e.base }

// RestoreError rebuilds an error reported by a remote engine. The returned
// error matches the local sentinel for reason, or the category for kind
// when the reason is unknown.
func RestoreError(kind Kind, reason, msg string) error {
	if base, ok := reasons[reason]; ok {
		return &restoredError{msg: msg, base: base}
	}
	if base, ok := categories[kind]; ok {
		return &restoredError{msg: msg, base: base}
	}
	return errors.New(msg)
}
