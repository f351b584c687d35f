package safetyrules

import (
	"fmt"

	"github.com/relab/safetyrules/crypto"
)

// SafetyData is the persisted voting state of a validator.
// LastVotedRound never decreases within an epoch, and PreferredRound <= LastVotedRound.
type SafetyData struct {
	Epoch          Epoch
	LastVotedRound Round
	PreferredRound Round
	LastVote       *Vote
}

// NewSafetyData returns safety data for the start of an epoch.
func NewSafetyData(epoch Epoch) SafetyData {
	return SafetyData{Epoch: epoch}
}

func (sd SafetyData) String() string {
	return fmt.Sprintf("SafetyData{ epoch: %d, last voted round: %d, preferred round: %d, last vote: %t }",
		sd.Epoch, sd.LastVotedRound, sd.PreferredRound, sd.LastVote != nil)
}

// ConsensusState is a snapshot of the state of a safety rules engine.
type ConsensusState struct {
	SafetyData     SafetyData
	Author         Author
	Initialized    bool
	InValidatorSet bool
}

func (cs *ConsensusState) String() string {
	return fmt.Sprintf("ConsensusState{ author: %s, initialized: %t, in validator set: %t, %v }",
		cs.Author, cs.Initialized, cs.InValidatorSet, cs.SafetyData)
}

// InitializeRequest binds a safety rules engine to an identity and an epoch.
// ConsensusKey may be nil, in which case the stored key is used as is.
type InitializeRequest struct {
	Author       Author
	ConsensusKey crypto.PublicKey
	EpochState   *EpochState
}
