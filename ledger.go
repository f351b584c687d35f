package safetyrules

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// LedgerInfo is what validators sign when they vote: the block being
// committed (if any) and the hash of the vote data.
type LedgerInfo struct {
	CommitInfo        BlockInfo
	ConsensusDataHash Hash
}

// ToBytes returns the raw byte form of the LedgerInfo.
func (li *LedgerInfo) ToBytes() []byte {
	return append(li.CommitInfo.ToBytes(), li.ConsensusDataHash[:]...)
}

// EndsEpoch returns true if the committed block ends its epoch.
func (li *LedgerInfo) EndsEpoch() bool {
	return li.CommitInfo.EndsEpoch()
}

// NextEpochState returns the validator set of the next epoch, if the ledger info ends the epoch.
func (li *LedgerInfo) NextEpochState() *EpochState {
	return li.CommitInfo.NextEpochState
}

// LedgerInfoWithSignatures is a LedgerInfo together with the signatures of the validators that signed it.
type LedgerInfoWithSignatures struct {
	LedgerInfo LedgerInfo
	Signatures map[Author][]byte
}

// SortedSigners returns the authors of the signatures in ascending order.
func (li *LedgerInfoWithSignatures) SortedSigners() []Author {
	signers := make([]Author, 0, len(li.Signatures))
	for a := range li.Signatures {
		signers = append(signers, a)
	}
	sort.Slice(signers, func(i, j int) bool {
		return bytes.Compare(signers[i][:], signers[j][:]) < 0
	})
	return signers
}

// ToBytes returns the raw byte form of the signed ledger info.
func (li *LedgerInfoWithSignatures) ToBytes() []byte {
	buf := li.LedgerInfo.ToBytes()
	for _, a := range li.SortedSigners() {
		buf = append(buf, a[:]...)
		buf = appendBytes(buf, li.Signatures[a])
	}
	return buf
}

// Verify checks that a quorum of the validator set signed the ledger info.
func (li *LedgerInfoWithSignatures) Verify(verifier *ValidatorVerifier) error {
	return verifier.VerifyAggregatedSignatures(SigningMessage(DomainLedgerInfo, &li.LedgerInfo), li.Signatures)
}

// QuorumCert proves that a quorum of validators voted for VoteData.Proposed.
type QuorumCert struct {
	VoteData         VoteData
	SignedLedgerInfo LedgerInfoWithSignatures
}

// GenesisQuorumCert returns the certificate of the round 0 block of an epoch.
// It carries no signatures.
func GenesisQuorumCert(epoch Epoch, id Hash) *QuorumCert {
	info := BlockInfo{Epoch: epoch, Round: 0, ID: id}
	vd := VoteData{Proposed: info, Parent: info}
	return &QuorumCert{
		VoteData: vd,
		SignedLedgerInfo: LedgerInfoWithSignatures{
			LedgerInfo: LedgerInfo{CommitInfo: info, ConsensusDataHash: vd.Hash()},
		},
	}
}

// CertifiedBlock returns the block certified by the QC.
func (qc *QuorumCert) CertifiedBlock() BlockInfo {
	return qc.VoteData.Proposed
}

// ParentBlock returns the parent of the certified block.
func (qc *QuorumCert) ParentBlock() BlockInfo {
	return qc.VoteData.Parent
}

// ToBytes returns the raw byte form of the QC.
func (qc *QuorumCert) ToBytes() []byte {
	return append(qc.VoteData.ToBytes(), qc.SignedLedgerInfo.ToBytes()...)
}

// Verify checks the structure of the QC and its signatures.
func (qc *QuorumCert) Verify(verifier *ValidatorVerifier) error {
	if qc.SignedLedgerInfo.LedgerInfo.ConsensusDataHash != qc.VoteData.Hash() {
		return errors.New("quorum cert's consensus data hash does not match its vote data")
	}
	if qc.CertifiedBlock().Round == 0 {
		if !qc.ParentBlock().Equal(qc.CertifiedBlock()) {
			return errors.New("genesis quorum cert's parent does not match the certified block")
		}
		if !qc.SignedLedgerInfo.LedgerInfo.CommitInfo.Equal(qc.CertifiedBlock()) {
			return errors.New("genesis quorum cert's commit info does not match the certified block")
		}
		if len(qc.SignedLedgerInfo.Signatures) != 0 {
			return errors.New("genesis quorum cert must not have signatures")
		}
		return nil
	}
	if err := qc.SignedLedgerInfo.Verify(verifier); err != nil {
		return fmt.Errorf("quorum cert signatures: %w", err)
	}
	return qc.VoteData.Verify()
}

func (qc *QuorumCert) String() string {
	return fmt.Sprintf("QC{ certified: %v, signers: %d }", qc.CertifiedBlock(), len(qc.SignedLedgerInfo.Signatures))
}

// EpochChangeProof is a chain of epoch-ending ledger infos.
type EpochChangeProof struct {
	LedgerInfos []LedgerInfoWithSignatures
	More        bool
}

// Verify verifies the proof starting from the current epoch state and
// returns the epoch state that the proof ends in. Ledger infos for epochs
// older than the current one are skipped.
func (p *EpochChangeProof) Verify(current *EpochState) (*EpochState, error) {
	if len(p.LedgerInfos) == 0 {
		return nil, errors.New("empty epoch change proof")
	}
	state := current
	for i := range p.LedgerInfos {
		li := &p.LedgerInfos[i]
		epoch := li.LedgerInfo.CommitInfo.Epoch
		if epoch < state.Epoch {
			continue
		}
		if epoch > state.Epoch {
			return nil, fmt.Errorf("proof skips from epoch %d to %d", state.Epoch, epoch)
		}
		if !li.LedgerInfo.EndsEpoch() {
			return nil, fmt.Errorf("ledger info for epoch %d does not end the epoch", epoch)
		}
		if err := li.Verify(state.Verifier); err != nil {
			return nil, fmt.Errorf("ledger info for epoch %d: %w", epoch, err)
		}
		next := li.LedgerInfo.NextEpochState()
		if next.Epoch != state.Epoch+1 {
			return nil, fmt.Errorf("epoch %d is followed by epoch %d", state.Epoch, next.Epoch)
		}
		if next.Verifier == nil {
			return nil, fmt.Errorf("epoch %d has no validator set", next.Epoch)
		}
		state = next
	}
	if state == current {
		return nil, errors.New("epoch change proof does not advance the epoch")
	}
	return state, nil
}
