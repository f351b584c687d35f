package service

import (
	"sync"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/rules"
)

// LocalClient shares an engine in the same process.
// ConsensusState may run concurrently with itself; all other operations are exclusive.
type LocalClient struct {
	mut    sync.RWMutex
	engine *rules.SafetyRules
}

var _ safetyrules.SafetyRules = (*LocalClient)(nil)

// NewLocalClient returns a client for the engine.
func NewLocalClient(engine *rules.SafetyRules) *LocalClient {
	return &LocalClient{engine: engine}
}

// ConsensusState implements safetyrules.SafetyRules.
func (c *LocalClient) ConsensusState() (*safetyrules.ConsensusState, error) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.engine.ConsensusState()
}

// Initialize implements safetyrules.SafetyRules.
func (c *LocalClient) Initialize(req *safetyrules.InitializeRequest) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.engine.Initialize(req)
}

// ConstructAndSignVote implements safetyrules.SafetyRules.
func (c *LocalClient) ConstructAndSignVote(proposal *safetyrules.VoteProposal) (*safetyrules.Vote, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.engine.ConstructAndSignVote(proposal)
}

// SignProposal implements safetyrules.SafetyRules.
func (c *LocalClient) SignProposal(data *safetyrules.BlockData) (*safetyrules.Block, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.engine.SignProposal(data)
}

// SignTimeout implements safetyrules.SafetyRules.
func (c *LocalClient) SignTimeout(timeout *safetyrules.Timeout) ([]byte, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.engine.SignTimeout(timeout)
}

// HandleEpochChangeProof implements safetyrules.SafetyRules.
func (c *LocalClient) HandleEpochChangeProof(proof *safetyrules.EpochChangeProof) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.engine.HandleEpochChangeProof(proof)
}
