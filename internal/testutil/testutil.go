// Package testutil provides helper methods that are useful for implementing tests.
package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/internal/mocks"
	"github.com/relab/safetyrules/storage"
)

// Validator is a member of a test validator set.
type Validator struct {
	Author safetyrules.Author
	Key    crypto.PrivateKey
	Signer crypto.Signer
}

// ValidatorSet is a validator set for one epoch, with helpers to build signed artifacts.
type ValidatorSet struct {
	Validators []Validator
	State      *safetyrules.EpochState
}

// NewValidatorSet returns a set of n validators with equal voting power in the given epoch.
func NewValidatorSet(t testing.TB, epoch safetyrules.Epoch, n int, scheme string) *ValidatorSet {
	t.Helper()
	validators := make([]Validator, n)
	for i := range validators {
		key, err := crypto.GenerateKey(scheme)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}
		validators[i] = Validator{Author: AuthorFor(i), Key: key, Signer: signer}
	}
	return newValidatorSet(t, epoch, validators)
}

func newValidatorSet(t testing.TB, epoch safetyrules.Epoch, validators []Validator) *ValidatorSet {
	t.Helper()
	infos := make([]safetyrules.ValidatorInfo, len(validators))
	for i, v := range validators {
		infos[i] = safetyrules.ValidatorInfo{Author: v.Author, PublicKey: v.Signer.Public(), VotingPower: 1}
	}
	verifier, err := safetyrules.NewValidatorVerifier(infos)
	if err != nil {
		t.Fatalf("failed to create validator verifier: %v", err)
	}
	return &ValidatorSet{
		Validators: validators,
		State:      &safetyrules.EpochState{Epoch: epoch, Verifier: verifier},
	}
}

// AuthorFor returns the author of the i'th validator of a test set.
func AuthorFor(i int) safetyrules.Author {
	var a safetyrules.Author
	a[0] = 0xa0
	binary.BigEndian.PutUint32(a[12:], uint32(i+1))
	return a
}

// Epoch returns the epoch of the set.
func (vs *ValidatorSet) Epoch() safetyrules.Epoch {
	return vs.State.Epoch
}

// Author returns the author of the i'th validator.
func (vs *ValidatorSet) Author(i int) safetyrules.Author {
	return vs.Validators[i].Author
}

// NextEpoch returns the same validators in the next epoch.
func (vs *ValidatorSet) NextEpoch(t testing.TB) *ValidatorSet {
	t.Helper()
	return newValidatorSet(t, vs.Epoch()+1, vs.Validators)
}

// Without returns the set without the i'th validator, in the next epoch.
func (vs *ValidatorSet) Without(t testing.TB, i int) *ValidatorSet {
	t.Helper()
	rest := make([]Validator, 0, len(vs.Validators)-1)
	rest = append(rest, vs.Validators[:i]...)
	rest = append(rest, vs.Validators[i+1:]...)
	return newValidatorSet(t, vs.Epoch()+1, rest)
}

// InitializeRequest returns the request that binds an engine to the i'th validator.
func (vs *ValidatorSet) InitializeRequest(i int) *safetyrules.InitializeRequest {
	return &safetyrules.InitializeRequest{
		Author:       vs.Author(i),
		ConsensusKey: vs.Validators[i].Signer.Public(),
		EpochState:   vs.State,
	}
}

// Storage returns an in-memory storage seeded with the i'th validator's key.
func (vs *ValidatorSet) Storage(t testing.TB, i int) *storage.PersistentStorage {
	t.Helper()
	ps, err := storage.Initialize(storage.NewInMemoryStorage(), vs.Validators[i].Key)
	if err != nil {
		t.Fatalf("failed to initialize storage: %v", err)
	}
	return ps
}

// BlockID returns a deterministic id for a synthetic block at round.
func (vs *ValidatorSet) BlockID(round safetyrules.Round) safetyrules.Hash {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(vs.Epoch()))
	binary.LittleEndian.PutUint64(b[8:], uint64(round))
	return sha256.Sum256(b[:])
}

// BlockInfo returns the info of a synthetic block at round.
func (vs *ValidatorSet) BlockInfo(round safetyrules.Round) safetyrules.BlockInfo {
	return safetyrules.BlockInfo{Epoch: vs.Epoch(), Round: round, ID: vs.BlockID(round)}
}

// GenesisQC returns the certificate of the round 0 block of the epoch.
func (vs *ValidatorSet) GenesisQC() *safetyrules.QuorumCert {
	return safetyrules.GenesisQuorumCert(vs.Epoch(), vs.BlockID(0))
}

// QC returns a quorum certificate, signed by every validator, for the block at
// round whose parent is at parentRound. Round 0 returns the genesis QC.
func (vs *ValidatorSet) QC(t testing.TB, round, parentRound safetyrules.Round) *safetyrules.QuorumCert {
	t.Helper()
	if round == 0 {
		return vs.GenesisQC()
	}
	vd := safetyrules.VoteData{Proposed: vs.BlockInfo(round), Parent: vs.BlockInfo(parentRound)}
	li := safetyrules.LedgerInfo{ConsensusDataHash: vd.Hash()}
	return &safetyrules.QuorumCert{
		VoteData:         vd,
		SignedLedgerInfo: vs.Sign(t, li),
	}
}

// Sign returns the ledger info signed by every validator.
func (vs *ValidatorSet) Sign(t testing.TB, li safetyrules.LedgerInfo) safetyrules.LedgerInfoWithSignatures {
	t.Helper()
	msg := safetyrules.SigningMessage(safetyrules.DomainLedgerInfo, &li)
	sigs := make(map[safetyrules.Author][]byte, len(vs.Validators))
	for _, v := range vs.Validators {
		sig, err := v.Signer.Sign(msg)
		if err != nil {
			t.Fatalf("failed to sign ledger info: %v", err)
		}
		sigs[v.Author] = sig
	}
	return safetyrules.LedgerInfoWithSignatures{LedgerInfo: li, Signatures: sigs}
}

// BlockData returns unsigned block data proposed by the i'th validator.
func (vs *ValidatorSet) BlockData(i int, round safetyrules.Round, qc *safetyrules.QuorumCert) *safetyrules.BlockData {
	return &safetyrules.BlockData{
		Epoch:      vs.Epoch(),
		Round:      round,
		Author:     vs.Author(i),
		Payload:    safetyrules.Payload("payload"),
		QuorumCert: qc,
	}
}

// Block returns a block proposed and signed by the i'th validator.
func (vs *ValidatorSet) Block(t testing.TB, i int, round safetyrules.Round, qc *safetyrules.QuorumCert) *safetyrules.Block {
	t.Helper()
	data := vs.BlockData(i, round, qc)
	sig, err := vs.Validators[i].Signer.Sign(safetyrules.SigningMessage(safetyrules.DomainBlock, data))
	if err != nil {
		t.Fatalf("failed to sign block: %v", err)
	}
	return &safetyrules.Block{BlockData: *data, Signature: sig}
}

// Proposal returns a vote proposal for a block at round that extends the block at qcRound,
// whose parent is at qcRound-1. The block is proposed by the last validator of the set.
func (vs *ValidatorSet) Proposal(t testing.TB, round, qcRound safetyrules.Round) *safetyrules.VoteProposal {
	t.Helper()
	parent := qcRound
	if parent > 0 {
		parent--
	}
	qc := vs.QC(t, qcRound, parent)
	return &safetyrules.VoteProposal{Block: vs.Block(t, len(vs.Validators)-1, round, qc)}
}

// EpochChangeProof returns a proof, signed by vs, that the epoch of vs ended with next.
func (vs *ValidatorSet) EpochChangeProof(t testing.TB, next *ValidatorSet) *safetyrules.EpochChangeProof {
	t.Helper()
	li := safetyrules.LedgerInfo{
		CommitInfo: safetyrules.BlockInfo{
			Epoch:          vs.Epoch(),
			Round:          100,
			ID:             vs.BlockID(100),
			NextEpochState: next.State,
		},
	}
	return &safetyrules.EpochChangeProof{LedgerInfos: []safetyrules.LedgerInfoWithSignatures{vs.Sign(t, li)}}
}

// CreateFailingStorage returns a mock storage that reads from inner and fails every write with err.
func CreateFailingStorage(t *testing.T, ctrl *gomock.Controller, inner storage.Storage, err error) *mocks.MockStorage {
	t.Helper()

	s := mocks.NewMockStorage(ctrl)
	s.
		EXPECT().
		Get(gomock.Any()).
		AnyTimes().
		DoAndReturn(inner.Get)
	s.
		EXPECT().
		Set(gomock.Any(), gomock.Any()).
		AnyTimes().
		Return(err)
	s.
		EXPECT().
		SetAll(gomock.Any()).
		AnyTimes().
		Return(err)
	s.
		EXPECT().
		Close().
		AnyTimes().
		Return(nil)

	return s
}
