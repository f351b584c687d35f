package wire_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/internal/testutil"
	"github.com/relab/safetyrules/internal/wire"
)

func TestVoteProposal(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 3, 4, crypto.NameECDSA)
	want := vs.Proposal(t, 7, 6)
	want.NextEpochState = vs.NextEpoch(t).State

	got, err := wire.UnmarshalVoteProposal(wire.MarshalVoteProposal(want))
	if err != nil {
		t.Fatalf("UnmarshalVoteProposal failed: %v", err)
	}
	if got.Block.ID() != want.Block.ID() {
		t.Errorf("block id changed: got %v, want %v", got.Block.ID(), want.Block.ID())
	}
	if !bytes.Equal(got.Block.Signature, want.Block.Signature) {
		t.Error("block signature changed")
	}
	if err := got.Block.VerifySignature(vs.State.Verifier); err != nil {
		t.Errorf("decoded block does not verify: %v", err)
	}
	if err := got.Block.QuorumCert.Verify(vs.State.Verifier); err != nil {
		t.Errorf("decoded quorum cert does not verify: %v", err)
	}
	if !got.NextEpochState.Verifier.Equal(want.NextEpochState.Verifier) || got.NextEpochState.Epoch != 4 {
		t.Errorf("next epoch state changed: got %v, want %v", got.NextEpochState, want.NextEpochState)
	}
	if !bytes.Equal(wire.MarshalVoteProposal(got), wire.MarshalVoteProposal(want)) {
		t.Error("encoding is not deterministic")
	}
}

func TestEpochChangeProof(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameBLS12)
	next := vs.NextEpoch(t)
	want := vs.EpochChangeProof(t, next)
	want.More = true

	got, err := wire.UnmarshalEpochChangeProof(wire.MarshalEpochChangeProof(want))
	if err != nil {
		t.Fatalf("UnmarshalEpochChangeProof failed: %v", err)
	}
	if !got.More || len(got.LedgerInfos) != 1 {
		t.Fatalf("unexpected proof: %+v", got)
	}
	state, err := got.Verify(vs.State)
	if err != nil {
		t.Fatalf("decoded proof does not verify: %v", err)
	}
	if state.Epoch != 2 || !state.Verifier.Equal(next.State.Verifier) {
		t.Errorf("proof ends in %v, want %v", state, next.State)
	}
}

func TestConsensusState(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	qc := vs.QC(t, 5, 4)
	want := &safetyrules.ConsensusState{
		SafetyData: safetyrules.SafetyData{
			Epoch:          1,
			LastVotedRound: 6,
			PreferredRound: 5,
			LastVote: &safetyrules.Vote{
				VoteData:   qc.VoteData,
				Author:     vs.Author(2),
				LedgerInfo: qc.SignedLedgerInfo.LedgerInfo,
				Signature:  qc.SignedLedgerInfo.Signatures[vs.Author(2)],
			},
		},
		Author:         vs.Author(2),
		Initialized:    true,
		InValidatorSet: true,
	}

	got, err := wire.UnmarshalConsensusState(wire.MarshalConsensusState(want))
	if err != nil {
		t.Fatalf("UnmarshalConsensusState failed: %v", err)
	}
	if got.String() != want.String() {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := got.SafetyData.LastVote.Verify(vs.State.Verifier); err != nil {
		t.Errorf("decoded vote does not verify: %v", err)
	}
}

func TestInitializeRequest(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameECDSA)
	b, err := wire.MarshalInitializeRequest(vs.InitializeRequest(1))
	if err != nil {
		t.Fatal(err)
	}
	got, err := wire.UnmarshalInitializeRequest(b)
	if err != nil {
		t.Fatalf("UnmarshalInitializeRequest failed: %v", err)
	}
	if got.Author != vs.Author(1) || !crypto.PublicKeyEqual(got.ConsensusKey, vs.Validators[1].Signer.Public()) {
		t.Errorf("identity changed: %v", got.Author)
	}
	if !got.EpochState.Verifier.Equal(vs.State.Verifier) {
		t.Error("epoch state changed")
	}

	_, err = wire.UnmarshalInitializeRequest(nil)
	if !errors.Is(err, wire.ErrMalformed) {
		t.Errorf("expected ErrMalformed for a request without epoch state, got %v", err)
	}
}

func TestMalformed(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	b := wire.MarshalBlock(vs.Block(t, 0, 2, vs.QC(t, 1, 0)))

	for _, n := range []int{1, len(b) / 2, len(b) - 1} {
		if _, err := wire.UnmarshalBlock(b[:n]); !wire.IsMalformed(err) {
			t.Errorf("truncated to %d bytes: expected ErrMalformed, got %v", n, err)
		}
	}
}

func TestRequest(t *testing.T) {
	m, payload, err := wire.DecodeRequest(wire.EncodeRequest(wire.MethodSignTimeout, []byte("payload")))
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if m != wire.MethodSignTimeout || string(payload) != "payload" {
		t.Errorf("got (%v, %q)", m, payload)
	}

	// the consensus state request has an empty payload
	m, _, err = wire.DecodeRequest(wire.EncodeRequest(wire.MethodConsensusState, nil))
	if err != nil || m != wire.MethodConsensusState {
		t.Errorf("got (%v, %v), want ConsensusState", m, err)
	}

	if _, _, err := wire.DecodeRequest(nil); !wire.IsMalformed(err) {
		t.Errorf("empty request: expected ErrMalformed, got %v", err)
	}
	two := append(wire.EncodeRequest(wire.MethodSignTimeout, nil), wire.EncodeRequest(wire.MethodSignProposal, nil)...)
	if _, _, err := wire.DecodeRequest(two); !wire.IsMalformed(err) {
		t.Errorf("request with two methods: expected ErrMalformed, got %v", err)
	}
}

func TestResultErrors(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		category error
	}{
		{fmt.Errorf("round 5: %w", safetyrules.ErrIncorrectLastVotedRound), safetyrules.ErrIncorrectLastVotedRound, safetyrules.ErrSafetyViolation},
		{safetyrules.ErrNotInitialized, safetyrules.ErrNotInitialized, safetyrules.ErrSafetyViolation},
		{fmt.Errorf("%w: disk full", safetyrules.ErrStorageUnavailable), safetyrules.ErrStorageUnavailable, safetyrules.ErrStorage},
		{safetyrules.ErrConfiguration, safetyrules.ErrConfiguration, safetyrules.ErrConfiguration},
	}
	for _, test := range tests {
		_, err := wire.DecodeResult(wire.EncodeResult(nil, test.err))
		if err == nil {
			t.Fatalf("%v: error was lost", test.err)
		}
		if err.Error() != test.err.Error() {
			t.Errorf("message changed: got %q, want %q", err, test.err)
		}
		if !errors.Is(err, test.sentinel) || !errors.Is(err, test.category) {
			t.Errorf("%v: decoded error does not match %v and %v", err, test.sentinel, test.category)
		}
	}

	_, err := wire.DecodeResult(wire.EncodeResult(nil, errors.New("plain")))
	if kind, _ := safetyrules.Classify(err); err == nil || kind != safetyrules.KindUnknown {
		t.Errorf("plain error: got %v", err)
	}

	payload, err := wire.DecodeResult(wire.EncodeResult([]byte("ok"), nil))
	if err != nil || string(payload) != "ok" {
		t.Errorf("got (%q, %v), want (ok, nil)", payload, err)
	}
	payload, err = wire.DecodeResult(wire.EncodeResult(nil, nil))
	if err != nil || len(payload) != 0 {
		t.Errorf("empty result: got (%q, %v)", payload, err)
	}
}
