package serializer_test

import (
	"errors"
	"testing"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/internal/testutil"
	"github.com/relab/safetyrules/internal/wire"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/rules"
	"github.com/relab/safetyrules/serializer"
)

func newClient(t *testing.T, vs *testutil.ValidatorSet, i int) *serializer.SerializerClient {
	t.Helper()
	engine := rules.New(vs.Author(i), vs.Storage(t, i), rules.WithLogger(logging.Nop()))
	return serializer.NewSerializerClient(serializer.NewLocalService(engine))
}

func TestSerializerClient(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameECDSA)
	client := newClient(t, vs, 3)

	if _, err := client.ConstructAndSignVote(vs.Proposal(t, 1, 0)); !errors.Is(err, safetyrules.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := client.Initialize(vs.InitializeRequest(3)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for round := safetyrules.Round(1); round <= 3; round++ {
		v, err := client.ConstructAndSignVote(vs.Proposal(t, round, round-1))
		if err != nil {
			t.Fatalf("vote for round %d failed: %v", round, err)
		}
		if err := v.Verify(vs.State.Verifier); err != nil {
			t.Errorf("vote for round %d does not verify: %v", round, err)
		}
	}

	_, err := client.ConstructAndSignVote(vs.Proposal(t, 3, 2))
	if !errors.Is(err, safetyrules.ErrIncorrectLastVotedRound) || !errors.Is(err, safetyrules.ErrSafetyViolation) {
		t.Errorf("expected ErrIncorrectLastVotedRound, got %v", err)
	}

	block, err := client.SignProposal(vs.BlockData(3, 4, vs.QC(t, 3, 2)))
	if err != nil {
		t.Fatalf("SignProposal failed: %v", err)
	}
	if err := block.VerifySignature(vs.State.Verifier); err != nil {
		t.Errorf("block does not verify: %v", err)
	}
	_, err = client.SignProposal(vs.BlockData(0, 4, vs.QC(t, 3, 2)))
	if !errors.Is(err, safetyrules.ErrInvalidProposer) {
		t.Errorf("expected ErrInvalidProposer, got %v", err)
	}

	timeout := &safetyrules.Timeout{Epoch: 1, Round: 5, HighQC: vs.QC(t, 3, 2)}
	sig, err := client.SignTimeout(timeout)
	if err != nil {
		t.Fatalf("SignTimeout failed: %v", err)
	}
	if err := timeout.VerifySignature(vs.State.Verifier, vs.Author(3), sig); err != nil {
		t.Errorf("timeout signature does not verify: %v", err)
	}

	cs, err := client.ConsensusState()
	if err != nil {
		t.Fatalf("ConsensusState failed: %v", err)
	}
	if !cs.Initialized || !cs.InValidatorSet || cs.Author != vs.Author(3) {
		t.Errorf("unexpected consensus state: %v", cs)
	}
	if cs.SafetyData.LastVotedRound != 5 || cs.SafetyData.PreferredRound != 2 {
		t.Errorf("unexpected safety data: %v", cs.SafetyData)
	}

	next := vs.Without(t, 3)
	if err := client.HandleEpochChangeProof(vs.EpochChangeProof(t, next)); err != nil {
		t.Fatalf("HandleEpochChangeProof failed: %v", err)
	}
	cs, err = client.ConsensusState()
	if err != nil {
		t.Fatal(err)
	}
	if cs.SafetyData != safetyrules.NewSafetyData(2) || cs.InValidatorSet {
		t.Errorf("unexpected state after epoch change: %v", cs)
	}
	if _, err := client.ConstructAndSignVote(next.Proposal(t, 1, 0)); !errors.Is(err, safetyrules.ErrNotValidator) {
		t.Errorf("expected ErrNotValidator, got %v", err)
	}
}

func TestMissingArguments(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	client := newClient(t, vs, 0)

	if err := client.Initialize(nil); !errors.Is(err, safetyrules.ErrInvalidRequest) {
		t.Errorf("Initialize: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := client.ConstructAndSignVote(&safetyrules.VoteProposal{}); !errors.Is(err, safetyrules.ErrInvalidRequest) {
		t.Errorf("ConstructAndSignVote: expected ErrInvalidRequest, got %v", err)
	}
	if err := client.HandleEpochChangeProof(nil); !errors.Is(err, safetyrules.ErrInvalidEpochChangeProof) {
		t.Errorf("HandleEpochChangeProof: expected ErrInvalidEpochChangeProof, got %v", err)
	}
}

func TestMalformedRequest(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	service := serializer.NewSerializerService(rules.New(vs.Author(0), vs.Storage(t, 0), rules.WithLogger(logging.Nop())))

	for _, req := range [][]byte{
		nil,
		{0xff, 0xff},
		wire.EncodeRequest(wire.MethodConstructAndSignVote, []byte{0x0a, 0x05, 0x01}),
	} {
		res, err := service.HandleMessage(req)
		if !errors.Is(err, safetyrules.ErrInvalidRequest) {
			t.Errorf("HandleMessage(%x): expected ErrInvalidRequest, got %v", req, err)
		}
		if _, err := wire.DecodeResult(res); !errors.Is(err, safetyrules.ErrInvalidRequest) {
			t.Errorf("HandleMessage(%x): response does not carry ErrInvalidRequest: %v", req, err)
		}
	}
}

type transportFunc func([]byte) ([]byte, error)

func (f transportFunc) Request(req []byte) ([]byte, error) { return f(req) }

func TestTransportErrors(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)

	failing := serializer.NewSerializerClient(transportFunc(func([]byte) ([]byte, error) {
		return nil, errors.New("broken pipe")
	}))
	_, err := failing.ConstructAndSignVote(vs.Proposal(t, 1, 0))
	if !errors.Is(err, safetyrules.ErrTransport) {
		t.Errorf("failing transport: expected ErrTransport, got %v", err)
	}

	garbage := serializer.NewSerializerClient(transportFunc(func([]byte) ([]byte, error) {
		return []byte{0x0a, 0x7f}, nil
	}))
	if _, err := garbage.ConsensusState(); !errors.Is(err, safetyrules.ErrTransport) {
		t.Errorf("malformed response: expected ErrTransport, got %v", err)
	}

	// a well formed response with a payload of the wrong type
	wrongType := serializer.NewSerializerClient(transportFunc(func([]byte) ([]byte, error) {
		return wire.EncodeResult([]byte{0x08}, nil), nil
	}))
	if _, err := wrongType.SignProposal(vs.BlockData(0, 1, vs.GenesisQC())); !errors.Is(err, safetyrules.ErrTransport) {
		t.Errorf("undecodable payload: expected ErrTransport, got %v", err)
	}
}
