package safetyrules

import (
	"errors"
	"fmt"
)

// Vote is a signed vote for VoteData.Proposed. The signature covers the LedgerInfo.
type Vote struct {
	VoteData   VoteData
	Author     Author
	LedgerInfo LedgerInfo
	Signature  []byte
}

// Epoch returns the epoch of the voted block.
func (v *Vote) Epoch() Epoch {
	return v.VoteData.Proposed.Epoch
}

// Round returns the round of the voted block.
func (v *Vote) Round() Round {
	return v.VoteData.Proposed.Round
}

// BlockID returns the id of the voted block.
func (v *Vote) BlockID() Hash {
	return v.VoteData.Proposed.ID
}

// Verify checks that the vote is consistent and signed by its author.
func (v *Vote) Verify(verifier *ValidatorVerifier) error {
	if v.LedgerInfo.ConsensusDataHash != v.VoteData.Hash() {
		return errors.New("vote's consensus data hash does not match its vote data")
	}
	return verifier.VerifySignature(v.Author, SigningMessage(DomainLedgerInfo, &v.LedgerInfo), v.Signature)
}

func (v *Vote) String() string {
	return fmt.Sprintf("Vote{ author: %s, epoch: %d, round: %d, block: %.6s, commit round: %d }",
		v.Author, v.Epoch(), v.Round(), v.BlockID(), v.LedgerInfo.CommitInfo.Round)
}

// Timeout is signed by a validator that gives up on a round.
type Timeout struct {
	Epoch  Epoch
	Round  Round
	HighQC *QuorumCert
}

// ToBytes returns the raw byte form of the timeout. The signature covers the
// round of the highest certified block, not the whole QC.
func (t *Timeout) ToBytes() []byte {
	buf := appendUint64(nil, uint64(t.Epoch))
	buf = appendUint64(buf, uint64(t.Round))
	if t.HighQC != nil {
		buf = appendUint64(buf, uint64(t.HighQC.CertifiedBlock().Round))
	}
	return buf
}

// VerifySignature checks a signature of the timeout by author.
func (t *Timeout) VerifySignature(verifier *ValidatorVerifier, author Author, signature []byte) error {
	return verifier.VerifySignature(author, SigningMessage(DomainTimeout, t), signature)
}

func (t *Timeout) String() string {
	hqc := "none"
	if t.HighQC != nil {
		hqc = fmt.Sprint(t.HighQC.CertifiedBlock().Round)
	}
	return fmt.Sprintf("Timeout{ epoch: %d, round: %d, high qc round: %s }", t.Epoch, t.Round, hqc)
}
