package wire

import (
	"fmt"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
)

// MarshalEpochState encodes an epoch state.
func MarshalEpochState(es *safetyrules.EpochState) []byte {
	b := appendVarint(nil, 1, uint64(es.Epoch))
	if es.Verifier != nil {
		b = appendMessage(b, 2, marshalVerifier(es.Verifier))
	}
	return b
}

// UnmarshalEpochState decodes an epoch state.
func UnmarshalEpochState(b []byte) (*safetyrules.EpochState, error) {
	es := &safetyrules.EpochState{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var v uint64
			v, err = f.uint64()
			es.Epoch = safetyrules.Epoch(v)
		case 2:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				es.Verifier, err = unmarshalVerifier(raw)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return es, nil
}

func marshalVerifier(v *safetyrules.ValidatorVerifier) []byte {
	var b []byte
	for _, info := range v.Validators() {
		key, _ := v.MarshalledPublicKey(info.Author)
		var vb []byte
		vb = appendBytes(vb, 1, info.Author[:])
		vb = appendBytes(vb, 2, key)
		vb = appendVarint(vb, 3, info.VotingPower)
		b = appendMessage(b, 1, vb)
	}
	return b
}

func unmarshalVerifier(b []byte) (*safetyrules.ValidatorVerifier, error) {
	var validators []safetyrules.ValidatorInfo
	err := walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		raw, err := f.raw()
		if err != nil {
			return err
		}
		var info safetyrules.ValidatorInfo
		err = walk(raw, func(f field) (err error) {
			switch f.num {
			case 1:
				err = f.fixed(info.Author[:])
			case 2:
				var key []byte
				if key, err = f.raw(); err == nil {
					info.PublicKey, err = crypto.UnmarshalPublicKey(key)
				}
			case 3:
				info.VotingPower, err = f.uint64()
			}
			return err
		})
		if err != nil {
			return err
		}
		validators = append(validators, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	v, err := safetyrules.NewValidatorVerifier(validators)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

func marshalBlockInfo(bi safetyrules.BlockInfo) []byte {
	b := appendVarint(nil, 1, uint64(bi.Epoch))
	b = appendVarint(b, 2, uint64(bi.Round))
	b = appendBytes(b, 3, bi.ID[:])
	if bi.NextEpochState != nil {
		b = appendMessage(b, 4, MarshalEpochState(bi.NextEpochState))
	}
	return b
}

func unmarshalBlockInfo(b []byte) (bi safetyrules.BlockInfo, err error) {
	err = walk(b, func(f field) (err error) {
		var v uint64
		switch f.num {
		case 1:
			v, err = f.uint64()
			bi.Epoch = safetyrules.Epoch(v)
		case 2:
			v, err = f.uint64()
			bi.Round = safetyrules.Round(v)
		case 3:
			err = f.fixed(bi.ID[:])
		case 4:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				bi.NextEpochState, err = UnmarshalEpochState(raw)
			}
		}
		return err
	})
	return bi, err
}

func marshalVoteData(vd safetyrules.VoteData) []byte {
	b := appendMessage(nil, 1, marshalBlockInfo(vd.Proposed))
	return appendMessage(b, 2, marshalBlockInfo(vd.Parent))
}

func unmarshalVoteData(b []byte) (vd safetyrules.VoteData, err error) {
	err = walk(b, func(f field) (err error) {
		var raw []byte
		switch f.num {
		case 1:
			if raw, err = f.raw(); err == nil {
				vd.Proposed, err = unmarshalBlockInfo(raw)
			}
		case 2:
			if raw, err = f.raw(); err == nil {
				vd.Parent, err = unmarshalBlockInfo(raw)
			}
		}
		return err
	})
	return vd, err
}

func marshalLedgerInfo(li *safetyrules.LedgerInfo) []byte {
	b := appendMessage(nil, 1, marshalBlockInfo(li.CommitInfo))
	return appendBytes(b, 2, li.ConsensusDataHash[:])
}

func unmarshalLedgerInfo(b []byte) (li safetyrules.LedgerInfo, err error) {
	err = walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				li.CommitInfo, err = unmarshalBlockInfo(raw)
			}
		case 2:
			err = f.fixed(li.ConsensusDataHash[:])
		}
		return err
	})
	return li, err
}

func marshalSignedLedgerInfo(li *safetyrules.LedgerInfoWithSignatures) []byte {
	b := appendMessage(nil, 1, marshalLedgerInfo(&li.LedgerInfo))
	for _, author := range li.SortedSigners() {
		var sb []byte
		sb = appendBytes(sb, 1, author[:])
		sb = appendBytes(sb, 2, li.Signatures[author])
		b = appendMessage(b, 2, sb)
	}
	return b
}

func unmarshalSignedLedgerInfo(b []byte) (li safetyrules.LedgerInfoWithSignatures, err error) {
	err = walk(b, func(f field) error {
		raw, err := f.raw()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			li.LedgerInfo, err = unmarshalLedgerInfo(raw)
		case 2:
			var (
				author safetyrules.Author
				sig    []byte
			)
			err = walk(raw, func(f field) (err error) {
				switch f.num {
				case 1:
					err = f.fixed(author[:])
				case 2:
					sig, err = f.raw()
				}
				return err
			})
			if err == nil {
				if li.Signatures == nil {
					li.Signatures = make(map[safetyrules.Author][]byte)
				}
				li.Signatures[author] = sig
			}
		}
		return err
	})
	return li, err
}

// MarshalQuorumCert encodes a quorum certificate.
func MarshalQuorumCert(qc *safetyrules.QuorumCert) []byte {
	b := appendMessage(nil, 1, marshalVoteData(qc.VoteData))
	return appendMessage(b, 2, marshalSignedLedgerInfo(&qc.SignedLedgerInfo))
}

// UnmarshalQuorumCert decodes a quorum certificate.
func UnmarshalQuorumCert(b []byte) (*safetyrules.QuorumCert, error) {
	qc := &safetyrules.QuorumCert{}
	err := walk(b, func(f field) error {
		raw, err := f.raw()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			qc.VoteData, err = unmarshalVoteData(raw)
		case 2:
			qc.SignedLedgerInfo, err = unmarshalSignedLedgerInfo(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return qc, nil
}

// MarshalBlockData encodes block data.
func MarshalBlockData(bd *safetyrules.BlockData) []byte {
	b := appendVarint(nil, 1, uint64(bd.Epoch))
	b = appendVarint(b, 2, uint64(bd.Round))
	b = appendBytes(b, 3, bd.Author[:])
	b = appendBytes(b, 4, []byte(bd.Payload))
	if bd.QuorumCert != nil {
		b = appendMessage(b, 5, MarshalQuorumCert(bd.QuorumCert))
	}
	return b
}

// UnmarshalBlockData decodes block data.
func UnmarshalBlockData(b []byte) (*safetyrules.BlockData, error) {
	bd := &safetyrules.BlockData{}
	err := walk(b, func(f field) (err error) {
		var (
			v   uint64
			raw []byte
		)
		switch f.num {
		case 1:
			v, err = f.uint64()
			bd.Epoch = safetyrules.Epoch(v)
		case 2:
			v, err = f.uint64()
			bd.Round = safetyrules.Round(v)
		case 3:
			err = f.fixed(bd.Author[:])
		case 4:
			raw, err = f.raw()
			bd.Payload = safetyrules.Payload(raw)
		case 5:
			if raw, err = f.raw(); err == nil {
				bd.QuorumCert, err = UnmarshalQuorumCert(raw)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return bd, nil
}

// MarshalBlock encodes a signed block.
func MarshalBlock(block *safetyrules.Block) []byte {
	b := appendMessage(nil, 1, MarshalBlockData(&block.BlockData))
	return appendBytes(b, 2, block.Signature)
}

// UnmarshalBlock decodes a signed block.
func UnmarshalBlock(b []byte) (*safetyrules.Block, error) {
	block := &safetyrules.Block{}
	err := walk(b, func(f field) error {
		raw, err := f.raw()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			var bd *safetyrules.BlockData
			if bd, err = UnmarshalBlockData(raw); err == nil {
				block.BlockData = *bd
			}
		case 2:
			block.Signature = raw
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// MarshalVoteProposal encodes a vote proposal.
func MarshalVoteProposal(vp *safetyrules.VoteProposal) []byte {
	var b []byte
	if vp.Block != nil {
		b = appendMessage(b, 1, MarshalBlock(vp.Block))
	}
	if vp.NextEpochState != nil {
		b = appendMessage(b, 2, MarshalEpochState(vp.NextEpochState))
	}
	return b
}

// UnmarshalVoteProposal decodes a vote proposal.
func UnmarshalVoteProposal(b []byte) (*safetyrules.VoteProposal, error) {
	vp := &safetyrules.VoteProposal{}
	err := walk(b, func(f field) error {
		raw, err := f.raw()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			vp.Block, err = UnmarshalBlock(raw)
		case 2:
			vp.NextEpochState, err = UnmarshalEpochState(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if vp.Block == nil {
		return nil, fmt.Errorf("%w: vote proposal without block", ErrMalformed)
	}
	return vp, nil
}

// MarshalVote encodes a vote.
func MarshalVote(v *safetyrules.Vote) []byte {
	b := appendMessage(nil, 1, marshalVoteData(v.VoteData))
	b = appendBytes(b, 2, v.Author[:])
	b = appendMessage(b, 3, marshalLedgerInfo(&v.LedgerInfo))
	return appendBytes(b, 4, v.Signature)
}

// UnmarshalVote decodes a vote.
func UnmarshalVote(b []byte) (*safetyrules.Vote, error) {
	v := &safetyrules.Vote{}
	err := walk(b, func(f field) error {
		raw, err := f.raw()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			v.VoteData, err = unmarshalVoteData(raw)
		case 2:
			err = f.fixed(v.Author[:])
		case 3:
			v.LedgerInfo, err = unmarshalLedgerInfo(raw)
		case 4:
			v.Signature = raw
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalTimeout encodes a timeout.
func MarshalTimeout(t *safetyrules.Timeout) []byte {
	b := appendVarint(nil, 1, uint64(t.Epoch))
	b = appendVarint(b, 2, uint64(t.Round))
	if t.HighQC != nil {
		b = appendMessage(b, 3, MarshalQuorumCert(t.HighQC))
	}
	return b
}

// UnmarshalTimeout decodes a timeout.
func UnmarshalTimeout(b []byte) (*safetyrules.Timeout, error) {
	t := &safetyrules.Timeout{}
	err := walk(b, func(f field) (err error) {
		var v uint64
		switch f.num {
		case 1:
			v, err = f.uint64()
			t.Epoch = safetyrules.Epoch(v)
		case 2:
			v, err = f.uint64()
			t.Round = safetyrules.Round(v)
		case 3:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				t.HighQC, err = UnmarshalQuorumCert(raw)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MarshalEpochChangeProof encodes an epoch change proof.
func MarshalEpochChangeProof(p *safetyrules.EpochChangeProof) []byte {
	var b []byte
	for i := range p.LedgerInfos {
		b = appendMessage(b, 1, marshalSignedLedgerInfo(&p.LedgerInfos[i]))
	}
	return appendBool(b, 2, p.More)
}

// UnmarshalEpochChangeProof decodes an epoch change proof.
func UnmarshalEpochChangeProof(b []byte) (*safetyrules.EpochChangeProof, error) {
	p := &safetyrules.EpochChangeProof{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				var li safetyrules.LedgerInfoWithSignatures
				li, err = unmarshalSignedLedgerInfo(raw)
				p.LedgerInfos = append(p.LedgerInfos, li)
			}
		case 2:
			p.More, err = f.bool()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalSafetyData encodes safety data.
func MarshalSafetyData(sd *safetyrules.SafetyData) []byte {
	b := appendVarint(nil, 1, uint64(sd.Epoch))
	b = appendVarint(b, 2, uint64(sd.LastVotedRound))
	b = appendVarint(b, 3, uint64(sd.PreferredRound))
	if sd.LastVote != nil {
		b = appendMessage(b, 4, MarshalVote(sd.LastVote))
	}
	return b
}

// UnmarshalSafetyData decodes safety data.
func UnmarshalSafetyData(b []byte) (sd safetyrules.SafetyData, err error) {
	err = walk(b, func(f field) (err error) {
		var v uint64
		switch f.num {
		case 1:
			v, err = f.uint64()
			sd.Epoch = safetyrules.Epoch(v)
		case 2:
			v, err = f.uint64()
			sd.LastVotedRound = safetyrules.Round(v)
		case 3:
			v, err = f.uint64()
			sd.PreferredRound = safetyrules.Round(v)
		case 4:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				sd.LastVote, err = UnmarshalVote(raw)
			}
		}
		return err
	})
	return sd, err
}

// MarshalConsensusState encodes a consensus state.
func MarshalConsensusState(cs *safetyrules.ConsensusState) []byte {
	b := appendMessage(nil, 1, MarshalSafetyData(&cs.SafetyData))
	b = appendBytes(b, 2, cs.Author[:])
	b = appendBool(b, 3, cs.Initialized)
	return appendBool(b, 4, cs.InValidatorSet)
}

// UnmarshalConsensusState decodes a consensus state.
func UnmarshalConsensusState(b []byte) (*safetyrules.ConsensusState, error) {
	cs := &safetyrules.ConsensusState{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			var raw []byte
			if raw, err = f.raw(); err == nil {
				cs.SafetyData, err = UnmarshalSafetyData(raw)
			}
		case 2:
			err = f.fixed(cs.Author[:])
		case 3:
			cs.Initialized, err = f.bool()
		case 4:
			cs.InValidatorSet, err = f.bool()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// MarshalInitializeRequest encodes an initialize request.
func MarshalInitializeRequest(req *safetyrules.InitializeRequest) ([]byte, error) {
	b := appendBytes(nil, 1, req.Author[:])
	if req.ConsensusKey != nil {
		key, err := crypto.MarshalPublicKey(req.ConsensusKey)
		if err != nil {
			return nil, err
		}
		b = appendBytes(b, 2, key)
	}
	if req.EpochState != nil {
		b = appendMessage(b, 3, MarshalEpochState(req.EpochState))
	}
	return b, nil
}

// UnmarshalInitializeRequest decodes an initialize request.
func UnmarshalInitializeRequest(b []byte) (*safetyrules.InitializeRequest, error) {
	req := &safetyrules.InitializeRequest{}
	err := walk(b, func(f field) error {
		raw, err := f.raw()
		if err != nil {
			return err
		}
		switch f.num {
		case 1:
			err = f.fixed(req.Author[:])
		case 2:
			req.ConsensusKey, err = crypto.UnmarshalPublicKey(raw)
		case 3:
			req.EpochState, err = UnmarshalEpochState(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if req.EpochState == nil {
		return nil, fmt.Errorf("%w: initialize request without epoch state", ErrMalformed)
	}
	return req, nil
}

// MarshalSignature encodes a detached signature.
func MarshalSignature(sig []byte) []byte {
	return appendBytes(nil, 1, sig)
}

// UnmarshalSignature decodes a detached signature.
func UnmarshalSignature(b []byte) (sig []byte, err error) {
	err = walk(b, func(f field) (err error) {
		if f.num == 1 {
			sig, err = f.raw()
		}
		return err
	})
	return sig, err
}
