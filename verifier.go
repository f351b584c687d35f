package safetyrules

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/relab/safetyrules/crypto"
)

// ValidatorInfo describes a member of a validator set.
type ValidatorInfo struct {
	Author      Author
	PublicKey   crypto.PublicKey
	VotingPower uint64
}

// MaxTotalVotingPower is the largest total voting power of a validator set.
const MaxTotalVotingPower = math.MaxUint64 / 2

// ValidatorVerifier verifies signatures made by the members of a validator set.
type ValidatorVerifier struct {
	validators  []ValidatorInfo // sorted by author
	keys        [][]byte        // marshalled public keys, same order as validators
	index       map[Author]int
	totalPower  uint64
	quorumPower uint64
}

// NewValidatorVerifier returns a verifier for the given validators.
// The quorum voting power is more than two thirds of the total voting power.
func NewValidatorVerifier(validators []ValidatorInfo) (*ValidatorVerifier, error) {
	sorted := make([]ValidatorInfo, len(validators))
	copy(sorted, validators)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Author[:], sorted[j].Author[:]) < 0
	})

	v := &ValidatorVerifier{
		validators: sorted,
		keys:       make([][]byte, len(sorted)),
		index:      make(map[Author]int, len(sorted)),
	}
	for i, info := range sorted {
		if _, dup := v.index[info.Author]; dup {
			return nil, fmt.Errorf("duplicate validator %s", info.Author)
		}
		if info.VotingPower == 0 {
			return nil, fmt.Errorf("validator %s has no voting power", info.Author)
		}
		key, err := crypto.MarshalPublicKey(info.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("validator %s: %w", info.Author, err)
		}
		if info.VotingPower > MaxTotalVotingPower-v.totalPower {
			return nil, fmt.Errorf("total voting power exceeds %d", uint64(MaxTotalVotingPower))
		}
		v.keys[i] = key
		v.index[info.Author] = i
		v.totalPower += info.VotingPower
	}
	v.quorumPower = v.totalPower*2/3 + 1
	return v, nil
}

// Validators returns the validators in the set, sorted by author.
func (v *ValidatorVerifier) Validators() []ValidatorInfo {
	out := make([]ValidatorInfo, len(v.validators))
	copy(out, v.validators)
	return out
}

// Len returns the number of validators.
func (v *ValidatorVerifier) Len() int {
	return len(v.validators)
}

// Contains returns true if author is a member of the validator set.
func (v *ValidatorVerifier) Contains(author Author) bool {
	_, ok := v.index[author]
	return ok
}

// PublicKey returns the public key of the given validator.
func (v *ValidatorVerifier) PublicKey(author Author) (crypto.PublicKey, bool) {
	i, ok := v.index[author]
	if !ok {
		return nil, false
	}
	return v.validators[i].PublicKey, true
}

// MarshalledPublicKey returns the PEM encoding of the given validator's public key.
func (v *ValidatorVerifier) MarshalledPublicKey(author Author) ([]byte, bool) {
	i, ok := v.index[author]
	if !ok {
		return nil, false
	}
	return v.keys[i], true
}

// TotalVotingPower returns the sum of the voting power of all validators.
func (v *ValidatorVerifier) TotalVotingPower() uint64 {
	return v.totalPower
}

// QuorumVotingPower returns the voting power needed to form a quorum.
func (v *ValidatorVerifier) QuorumVotingPower() uint64 {
	return v.quorumPower
}

// VerifySignature verifies a signature made by a single validator.
func (v *ValidatorVerifier) VerifySignature(author Author, message, signature []byte) error {
	pk, ok := v.PublicKey(author)
	if !ok {
		return fmt.Errorf("unknown validator %s", author)
	}
	if err := crypto.Verify(pk, message, signature); err != nil {
		return fmt.Errorf("validator %s: %w", author, err)
	}
	return nil
}

// VerifyAggregatedSignatures verifies that the signatures are valid and that
// the signers hold a quorum of the voting power.
func (v *ValidatorVerifier) VerifyAggregatedSignatures(message []byte, signatures map[Author][]byte) error {
	var power uint64
	for author := range signatures {
		i, ok := v.index[author]
		if !ok {
			return fmt.Errorf("unknown validator %s", author)
		}
		power += v.validators[i].VotingPower
	}
	if power < v.quorumPower {
		return fmt.Errorf("too little voting power: got %d, need %d", power, v.quorumPower)
	}

	results := make(chan error, len(signatures))
	for author, sig := range signatures {
		go func(author Author, sig []byte) {
			results <- v.VerifySignature(author, message, sig)
		}(author, sig)
	}
	var err error
	for range signatures {
		err = errors.Join(err, <-results)
	}
	return err
}

// ToBytes returns the canonical byte representation of the validator set.
func (v *ValidatorVerifier) ToBytes() []byte {
	var buf []byte
	buf = appendUint64(buf, uint64(len(v.validators)))
	for i, info := range v.validators {
		buf = append(buf, info.Author[:]...)
		buf = appendBytes(buf, v.keys[i])
		buf = appendUint64(buf, info.VotingPower)
	}
	return buf
}

// Equal returns true if both verifiers describe the same validator set.
func (v *ValidatorVerifier) Equal(other *ValidatorVerifier) bool {
	if v == nil || other == nil {
		return v == other
	}
	return bytes.Equal(v.ToBytes(), other.ToBytes())
}

// EpochState is the validator set of an epoch.
type EpochState struct {
	Epoch    Epoch
	Verifier *ValidatorVerifier
}

// ToBytes returns the canonical byte representation of the epoch state.
func (es *EpochState) ToBytes() []byte {
	buf := appendUint64(nil, uint64(es.Epoch))
	if es.Verifier != nil {
		buf = append(buf, es.Verifier.ToBytes()...)
	}
	return buf
}

func (es *EpochState) String() string {
	n := 0
	if es.Verifier != nil {
		n = es.Verifier.Len()
	}
	return fmt.Sprintf("EpochState{ epoch: %d, validators: %d }", es.Epoch, n)
}
