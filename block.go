package safetyrules

import (
	"bytes"
	"fmt"
)

// BlockInfo summarizes a block. A block with a NextEpochState ends its epoch.
type BlockInfo struct {
	Epoch          Epoch
	Round          Round
	ID             Hash
	NextEpochState *EpochState
}

// ToBytes returns the raw byte form of the BlockInfo, to be used for hashing, etc.
func (bi BlockInfo) ToBytes() []byte {
	buf := appendUint64(nil, uint64(bi.Epoch))
	buf = appendUint64(buf, uint64(bi.Round))
	buf = append(buf, bi.ID[:]...)
	if bi.NextEpochState != nil {
		buf = append(buf, 1)
		buf = appendBytes(buf, bi.NextEpochState.ToBytes())
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// EndsEpoch returns true if the block is the last block of its epoch.
func (bi BlockInfo) EndsEpoch() bool {
	return bi.NextEpochState != nil
}

// Equal returns true if both infos describe the same block.
func (bi BlockInfo) Equal(other BlockInfo) bool {
	return bytes.Equal(bi.ToBytes(), other.ToBytes())
}

func (bi BlockInfo) String() string {
	return fmt.Sprintf("BlockInfo{ epoch: %d, round: %d, id: %.6s }", bi.Epoch, bi.Round, bi.ID)
}

// VoteData is the pair of blocks that a vote is about: the proposed block and its parent.
type VoteData struct {
	Proposed BlockInfo
	Parent   BlockInfo
}

// ToBytes returns the raw byte form of the VoteData.
func (vd VoteData) ToBytes() []byte {
	return append(vd.Proposed.ToBytes(), vd.Parent.ToBytes()...)
}

// Hash returns the hash of the VoteData.
func (vd VoteData) Hash() Hash {
	return hashOf(vd)
}

// Verify checks that the parent precedes the proposed block in the same epoch.
func (vd VoteData) Verify() error {
	if vd.Parent.Epoch != vd.Proposed.Epoch {
		return fmt.Errorf("parent epoch %d does not match proposed epoch %d", vd.Parent.Epoch, vd.Proposed.Epoch)
	}
	if vd.Parent.Round >= vd.Proposed.Round {
		return fmt.Errorf("parent round %d is not below proposed round %d", vd.Parent.Round, vd.Proposed.Round)
	}
	return nil
}

// BlockData is the signed content of a block.
type BlockData struct {
	Epoch      Epoch
	Round      Round
	Author     Author
	Payload    Payload
	QuorumCert *QuorumCert
}

// ToBytes returns the raw byte form of the BlockData, to be used for hashing, etc.
func (bd *BlockData) ToBytes() []byte {
	buf := appendUint64(nil, uint64(bd.Epoch))
	buf = appendUint64(buf, uint64(bd.Round))
	buf = append(buf, bd.Author[:]...)
	buf = appendBytes(buf, []byte(bd.Payload))
	if bd.QuorumCert != nil {
		buf = appendBytes(buf, bd.QuorumCert.ToBytes())
	}
	return buf
}

// ID returns the hash of the BlockData.
func (bd *BlockData) ID() Hash {
	return hashOf(bd)
}

// Parent returns the block certified by the block's quorum certificate.
func (bd *BlockData) Parent() BlockInfo {
	if bd.QuorumCert == nil {
		return BlockInfo{}
	}
	return bd.QuorumCert.CertifiedBlock()
}

func (bd *BlockData) String() string {
	return fmt.Sprintf("Block{ id: %.6s, epoch: %d, round: %d, author: %s, parent round: %d }",
		bd.ID(), bd.Epoch, bd.Round, bd.Author, bd.Parent().Round)
}

// Block is a block signed by its author.
type Block struct {
	BlockData
	Signature []byte
}

// Info returns the BlockInfo of the block.
func (b *Block) Info() BlockInfo {
	return BlockInfo{Epoch: b.Epoch, Round: b.Round, ID: b.ID()}
}

// VerifySignature verifies the author's signature of the block.
func (b *Block) VerifySignature(verifier *ValidatorVerifier) error {
	return verifier.VerifySignature(b.Author, SigningMessage(DomainBlock, &b.BlockData), b.Signature)
}

// VoteProposal is a block that a validator is asked to vote for.
// NextEpochState is set if executing the block ends the epoch.
type VoteProposal struct {
	Block          *Block
	NextEpochState *EpochState
}

// ProposedInfo returns the BlockInfo that a vote for the proposal refers to.
func (vp *VoteProposal) ProposedInfo() BlockInfo {
	info := vp.Block.Info()
	info.NextEpochState = vp.NextEpochState
	return info
}
