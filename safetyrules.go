// Package safetyrules defines the types shared by the safety rules service of
// a BFT validator.
//
// The safety rules engine decides whether it is safe to sign a vote, a proposal
// or a timeout, and it is the only holder of the validator's signing key.
// It can run in the caller's goroutine, on a dedicated OS thread, or in a child process.
//
//	consensus -> client -> [thread | process boundary] -> engine -> storage
//
// Every topology implements the SafetyRules interface, so that the caller
// cannot tell them apart, except through the errors that a transport may return.
package safetyrules

// SafetyRules is the interface that consensus uses to have artifacts signed.
// Implementations never process two requests at the same time.
type SafetyRules interface {
	// ConsensusState returns a snapshot of the persisted safety data and identity.
	ConsensusState() (*ConsensusState, error)
	// Initialize binds the engine to an identity and an epoch.
	Initialize(req *InitializeRequest) error
	// ConstructAndSignVote signs a vote for the proposal, if it is safe to do so.
	ConstructAndSignVote(proposal *VoteProposal) (*Vote, error)
	// SignProposal signs a block proposed by this validator.
	SignProposal(data *BlockData) (*Block, error)
	// SignTimeout signs a timeout for a round.
	SignTimeout(timeout *Timeout) ([]byte, error)
	// HandleEpochChangeProof moves the engine to a newer epoch.
	HandleEpochChangeProof(proof *EpochChangeProof) error
}
