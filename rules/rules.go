// Package rules implements the safety rules engine.
//
// The engine checks every request against the persisted safety data before it
// signs anything, and persists the updated safety data before it returns a
// signature. A SafetyRules is not safe for concurrent use; the topologies in
// the service package make sure that it only handles one request at a time.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/metrics"
	"github.com/relab/safetyrules/storage"
)

// Operation names used for logging and metrics.
const (
	OpConsensusState         = "consensus_state"
	OpInitialize             = "initialize"
	OpConstructAndSignVote   = "construct_and_sign_vote"
	OpSignProposal           = "sign_proposal"
	OpSignTimeout            = "sign_timeout"
	OpHandleEpochChangeProof = "handle_epoch_change_proof"
)

// SafetyRules is the safety rules engine of a single validator.
type SafetyRules struct {
	author  safetyrules.Author
	storage *storage.PersistentStorage
	logger  logging.Logger
	metrics *metrics.Collector

	// set by Initialize
	signer     crypto.Signer
	epochState *safetyrules.EpochState
}

// Option configures a SafetyRules.
type Option func(*SafetyRules)

// WithLogger sets the logger of the engine.
func WithLogger(logger logging.Logger) Option {
	return func(sr *SafetyRules) {
		sr.logger = logger
	}
}

// WithMetrics makes the engine report to the collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(sr *SafetyRules) {
		sr.metrics = c
	}
}

// New returns an engine for author that keeps its state in store.
// The engine must be initialized before it signs anything.
func New(author safetyrules.Author, store *storage.PersistentStorage, opts ...Option) *SafetyRules {
	sr := &SafetyRules{
		author:  author,
		storage: store,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if sr.logger == nil {
		sr.logger = logging.New("rules")
	}
	return sr
}

// ConsensusState returns a snapshot of the persisted safety data and the identity of the engine.
func (sr *SafetyRules) ConsensusState() (cs *safetyrules.ConsensusState, err error) {
	defer sr.observe(OpConsensusState, time.Now(), &err)
	sd, err := sr.safetyData()
	if err != nil {
		return nil, err
	}
	return &safetyrules.ConsensusState{
		SafetyData:     sd,
		Author:         sr.author,
		Initialized:    sr.initialized(),
		InValidatorSet: sr.inValidatorSet(),
	}, nil
}

// Initialize binds the engine to the identity in req and moves it to req.EpochState
// if that epoch is newer than the stored one. A newer epoch is only adopted while
// nothing has been signed in the stored epoch; otherwise the epoch must be advanced
// with HandleEpochChangeProof. Initializing again with the same identity and epoch
// has no effect.
func (sr *SafetyRules) Initialize(req *safetyrules.InitializeRequest) (err error) {
	defer sr.observe(OpInitialize, time.Now(), &err)
	if req == nil || req.EpochState == nil || req.EpochState.Verifier == nil {
		return fmt.Errorf("%w: initialize request without epoch state", safetyrules.ErrInvalidRequest)
	}
	if req.Author != sr.author {
		return fmt.Errorf("%w: engine is %s, request is for %s", safetyrules.ErrIdentityMismatch, sr.author, req.Author)
	}

	bound, ok, err := sr.storage.Author()
	if err != nil {
		return storageError(err)
	}
	if ok && bound != req.Author {
		return fmt.Errorf("%w: storage is bound to %s, request is for %s", safetyrules.ErrIdentityMismatch, bound, req.Author)
	}

	signer, err := sr.storage.Signer()
	if err != nil {
		return storageError(err)
	}
	if req.ConsensusKey != nil && !crypto.PublicKeyEqual(signer.Public(), req.ConsensusKey) {
		return fmt.Errorf("%w: consensus key does not match the stored signing key", safetyrules.ErrIdentityMismatch)
	}
	if key, member := req.EpochState.Verifier.PublicKey(req.Author); member && !crypto.PublicKeyEqual(signer.Public(), key) {
		return fmt.Errorf("%w: validator set has a different key for %s in epoch %d",
			safetyrules.ErrIdentityMismatch, req.Author, req.EpochState.Epoch)
	}

	sd, err := sr.safetyData()
	if err != nil {
		return err
	}
	switch {
	case req.EpochState.Epoch < sd.Epoch:
		return fmt.Errorf("%w: request is for epoch %d, safety data is at epoch %d",
			safetyrules.ErrIncorrectEpoch, req.EpochState.Epoch, sd.Epoch)
	case req.EpochState.Epoch > sd.Epoch:
		if !pristine(sd) {
			return fmt.Errorf("%w: request is for epoch %d, but the safety data of epoch %d is in use; an epoch change proof is needed",
				safetyrules.ErrIncorrectEpoch, req.EpochState.Epoch, sd.Epoch)
		}
		sr.logger.Infof("Initialize: moving from epoch %d to epoch %d", sd.Epoch, req.EpochState.Epoch)
		if err := sr.setSafetyData(safetyrules.NewSafetyData(req.EpochState.Epoch)); err != nil {
			return err
		}
	}

	if !ok {
		if err := sr.storage.SetAuthor(req.Author); err != nil {
			return storageError(err)
		}
	}

	sr.signer = signer
	sr.epochState = req.EpochState
	if !sr.inValidatorSet() {
		sr.logger.Warnf("Initialize: %s is not a validator in epoch %d", sr.author, req.EpochState.Epoch)
	}
	return nil
}

// ConstructAndSignVote signs a vote for the proposed block if it is safe to do so.
// The updated safety data is persisted before the vote is returned.
func (sr *SafetyRules) ConstructAndSignVote(proposal *safetyrules.VoteProposal) (vote *safetyrules.Vote, err error) {
	defer sr.observe(OpConstructAndSignVote, time.Now(), &err)
	if proposal == nil || proposal.Block == nil {
		return nil, fmt.Errorf("%w: vote proposal without block", safetyrules.ErrInvalidRequest)
	}
	if err := sr.ready(); err != nil {
		return nil, err
	}
	sd, err := sr.safetyData()
	if err != nil {
		return nil, err
	}

	block := proposal.Block
	if err := sr.verifyEpoch(block.Epoch, sd); err != nil {
		return nil, err
	}
	if err := block.VerifySignature(sr.epochState.Verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", safetyrules.ErrInvalidProposal, err)
	}
	qc := block.QuorumCert
	if err := sr.verifyQC(qc, sd); err != nil {
		return nil, err
	}
	certified := qc.CertifiedBlock()
	if certified.Round >= block.Round {
		return nil, fmt.Errorf("%w: block round %d does not extend its quorum cert at round %d",
			safetyrules.ErrInvalidProposal, block.Round, certified.Round)
	}
	if err := verifyLastVotedRound(block.Round, sd); err != nil {
		return nil, err
	}
	if err := verifyPreferredRound(certified.Round, sd); err != nil {
		return nil, err
	}

	voteData := safetyrules.VoteData{Proposed: proposal.ProposedInfo(), Parent: certified}
	ledgerInfo := safetyrules.LedgerInfo{
		CommitInfo:        commitInfo(block.Round, qc),
		ConsensusDataHash: voteData.Hash(),
	}
	sig, err := sr.signer.Sign(safetyrules.SigningMessage(safetyrules.DomainLedgerInfo, &ledgerInfo))
	if err != nil {
		return nil, fmt.Errorf("failed to sign vote: %w", err)
	}
	vote = &safetyrules.Vote{
		VoteData:   voteData,
		Author:     sr.author,
		LedgerInfo: ledgerInfo,
		Signature:  sig,
	}

	sd.LastVotedRound = block.Round
	if certified.Round > sd.PreferredRound {
		sd.PreferredRound = certified.Round
	}
	sd.LastVote = vote
	if err := sr.setSafetyData(sd); err != nil {
		return nil, err
	}
	sr.logger.Debugf("ConstructAndSignVote: voted for %v", vote)
	return vote, nil
}

// SignProposal signs a block proposed by this validator. It does not change the safety data.
func (sr *SafetyRules) SignProposal(data *safetyrules.BlockData) (block *safetyrules.Block, err error) {
	defer sr.observe(OpSignProposal, time.Now(), &err)
	if data == nil {
		return nil, fmt.Errorf("%w: missing block data", safetyrules.ErrInvalidRequest)
	}
	if err := sr.ready(); err != nil {
		return nil, err
	}
	sd, err := sr.safetyData()
	if err != nil {
		return nil, err
	}

	if data.Author != sr.author {
		return nil, fmt.Errorf("%w: proposal author is %s", safetyrules.ErrInvalidProposer, data.Author)
	}
	if err := sr.verifyEpoch(data.Epoch, sd); err != nil {
		return nil, err
	}
	if err := verifyLastVotedRound(data.Round, sd); err != nil {
		return nil, err
	}
	if err := sr.verifyQC(data.QuorumCert, sd); err != nil {
		return nil, err
	}
	certified := data.QuorumCert.CertifiedBlock()
	if certified.Round >= data.Round {
		return nil, fmt.Errorf("%w: block round %d does not extend its quorum cert at round %d",
			safetyrules.ErrInvalidProposal, data.Round, certified.Round)
	}
	if err := verifyPreferredRound(certified.Round, sd); err != nil {
		return nil, err
	}

	sig, err := sr.signer.Sign(safetyrules.SigningMessage(safetyrules.DomainBlock, data))
	if err != nil {
		return nil, fmt.Errorf("failed to sign proposal: %w", err)
	}
	return &safetyrules.Block{BlockData: *data, Signature: sig}, nil
}

// SignTimeout signs a timeout for a round. The last voted round is raised to the
// timeout round and persisted before the signature is returned.
func (sr *SafetyRules) SignTimeout(timeout *safetyrules.Timeout) (sig []byte, err error) {
	defer sr.observe(OpSignTimeout, time.Now(), &err)
	if timeout == nil {
		return nil, fmt.Errorf("%w: missing timeout", safetyrules.ErrInvalidRequest)
	}
	if err := sr.ready(); err != nil {
		return nil, err
	}
	sd, err := sr.safetyData()
	if err != nil {
		return nil, err
	}

	if err := sr.verifyEpoch(timeout.Epoch, sd); err != nil {
		return nil, err
	}
	if timeout.Round <= sd.PreferredRound {
		return nil, fmt.Errorf("%w: timeout round %d, preferred round %d",
			safetyrules.ErrIncorrectPreferredRound, timeout.Round, sd.PreferredRound)
	}
	if timeout.Round < sd.LastVotedRound {
		return nil, fmt.Errorf("%w: timeout round %d, last voted round %d",
			safetyrules.ErrIncorrectLastVotedRound, timeout.Round, sd.LastVotedRound)
	}
	if timeout.HighQC != nil {
		if err := sr.verifyQC(timeout.HighQC, sd); err != nil {
			return nil, err
		}
		if r := timeout.HighQC.CertifiedBlock().Round; r >= timeout.Round {
			return nil, fmt.Errorf("%w: high qc round %d is not below timeout round %d",
				safetyrules.ErrInvalidTimeout, r, timeout.Round)
		}
	}

	if timeout.Round > sd.LastVotedRound {
		sd.LastVotedRound = timeout.Round
		if err := sr.setSafetyData(sd); err != nil {
			return nil, err
		}
	}

	sig, err = sr.signer.Sign(safetyrules.SigningMessage(safetyrules.DomainTimeout, timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to sign timeout: %w", err)
	}
	sr.logger.Debugf("SignTimeout: signed %v", timeout)
	return sig, nil
}

// HandleEpochChangeProof moves the engine to the epoch that the proof ends in.
// The rounds are reset and the last vote is dropped.
func (sr *SafetyRules) HandleEpochChangeProof(proof *safetyrules.EpochChangeProof) (err error) {
	defer sr.observe(OpHandleEpochChangeProof, time.Now(), &err)
	if proof == nil || len(proof.LedgerInfos) == 0 {
		return fmt.Errorf("%w: empty epoch change proof", safetyrules.ErrInvalidEpochChangeProof)
	}
	if !sr.initialized() {
		return safetyrules.ErrNotInitialized
	}
	current := sr.epochState
	last := proof.LedgerInfos[len(proof.LedgerInfos)-1].LedgerInfo.CommitInfo.Epoch
	if last < current.Epoch {
		return fmt.Errorf("%w: proof ends at epoch %d, current epoch is %d", safetyrules.ErrIncorrectEpoch, last, current.Epoch)
	}
	next, err := proof.Verify(current)
	if err != nil {
		return fmt.Errorf("%w: %v", safetyrules.ErrInvalidEpochChangeProof, err)
	}
	if key, member := next.Verifier.PublicKey(sr.author); member && !crypto.PublicKeyEqual(sr.signer.Public(), key) {
		return fmt.Errorf("%w: validator set has a different key for %s in epoch %d",
			safetyrules.ErrIdentityMismatch, sr.author, next.Epoch)
	}
	if err := sr.setSafetyData(safetyrules.NewSafetyData(next.Epoch)); err != nil {
		return err
	}
	sr.epochState = next
	sr.logger.Infof("HandleEpochChangeProof: moved from epoch %d to epoch %d", current.Epoch, next.Epoch)
	return nil
}

func (sr *SafetyRules) initialized() bool {
	return sr.epochState != nil && sr.signer != nil
}

func (sr *SafetyRules) inValidatorSet() bool {
	return sr.initialized() && sr.epochState.Verifier.Contains(sr.author)
}

// ready returns an error if the engine may not sign.
func (sr *SafetyRules) ready() error {
	if !sr.initialized() {
		return safetyrules.ErrNotInitialized
	}
	if !sr.inValidatorSet() {
		return fmt.Errorf("%w: %s in epoch %d", safetyrules.ErrNotValidator, sr.author, sr.epochState.Epoch)
	}
	return nil
}

func (sr *SafetyRules) safetyData() (safetyrules.SafetyData, error) {
	sd, err := sr.storage.SafetyData()
	if err != nil {
		return sd, storageError(err)
	}
	return sd, nil
}

func (sr *SafetyRules) setSafetyData(sd safetyrules.SafetyData) error {
	if err := sr.storage.SetSafetyData(sd); err != nil {
		return storageError(err)
	}
	sr.metrics.SetSafetyData(sd)
	return nil
}

func (sr *SafetyRules) verifyEpoch(epoch safetyrules.Epoch, sd safetyrules.SafetyData) error {
	if epoch != sd.Epoch {
		return fmt.Errorf("%w: got epoch %d, safety data is at epoch %d", safetyrules.ErrIncorrectEpoch, epoch, sd.Epoch)
	}
	return nil
}

func (sr *SafetyRules) verifyQC(qc *safetyrules.QuorumCert, sd safetyrules.SafetyData) error {
	if qc == nil {
		return fmt.Errorf("%w: missing quorum cert", safetyrules.ErrInvalidQuorumCert)
	}
	if e := qc.CertifiedBlock().Epoch; e != sd.Epoch {
		return fmt.Errorf("%w: quorum cert is for epoch %d, safety data is at epoch %d", safetyrules.ErrInvalidQuorumCert, e, sd.Epoch)
	}
	if err := qc.Verify(sr.epochState.Verifier); err != nil {
		return fmt.Errorf("%w: %v", safetyrules.ErrInvalidQuorumCert, err)
	}
	return nil
}

func verifyLastVotedRound(round safetyrules.Round, sd safetyrules.SafetyData) error {
	if round <= sd.LastVotedRound {
		return fmt.Errorf("%w: round %d, last voted round %d", safetyrules.ErrIncorrectLastVotedRound, round, sd.LastVotedRound)
	}
	return nil
}

func verifyPreferredRound(qcRound safetyrules.Round, sd safetyrules.SafetyData) error {
	if qcRound < sd.PreferredRound {
		return fmt.Errorf("%w: quorum cert round %d, preferred round %d", safetyrules.ErrIncorrectPreferredRound, qcRound, sd.PreferredRound)
	}
	return nil
}

// commitInfo returns the block that a vote for a block at round commits.
// The grandparent is committed when the block, its parent and its grandparent are in consecutive rounds.
func commitInfo(round safetyrules.Round, qc *safetyrules.QuorumCert) safetyrules.BlockInfo {
	parent, grandparent := qc.CertifiedBlock(), qc.ParentBlock()
	if round == parent.Round+1 && parent.Round == grandparent.Round+1 {
		return grandparent
	}
	return safetyrules.BlockInfo{}
}

func storageError(err error) error {
	if errors.Is(err, safetyrules.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", safetyrules.ErrStorageUnavailable, err)
}

func (sr *SafetyRules) observe(op string, start time.Time, errp *error) {
	err := *errp
	sr.metrics.Observe(op, start, err)
	if err == nil {
		return
	}
	if errors.Is(err, safetyrules.ErrSafetyViolation) {
		sr.logger.Debugf("%s: refused: %v", op, err)
	} else {
		sr.logger.Warnf("%s: %v", op, err)
	}
}

// pristine reports whether nothing has been signed with the safety data since its epoch began.
func pristine(sd safetyrules.SafetyData) bool {
	return sd.LastVotedRound == 0 && sd.PreferredRound == 0 && sd.LastVote == nil
}
