package manager_test

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/internal/config"
	"github.com/relab/safetyrules/internal/testutil"
	"github.com/relab/safetyrules/internal/wire"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/manager"
)

const childEnv = "SAFETYRULES_TEST_MANAGER_CHILD"

// TestMain lets the test binary act as the child of the spawned-process service.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "" {
		os.Exit(m.Run())
	}
	var path string
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			path = os.Args[i+1]
		}
	}
	cfg, err := config.Load(path)
	if err == nil {
		err = manager.RunProcess(cfg, os.Stdin, os.Stdout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func nodeConfig(t *testing.T, vs *testutil.ValidatorSet, serviceType string) *config.NodeConfig {
	t.Helper()
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "consensus.pem")
	if err := crypto.WritePrivateKeyFile(vs.Validators[0].Key, keyFile); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Author = vs.Author(0).String()
	cfg.SafetyRules.Backend = config.Backend{Type: "on-disk", Path: filepath.Join(dir, "safety.cbor"), Default: true}
	cfg.SafetyRules.Service.Type = serviceType
	cfg.SafetyRules.Service.Timeout = 10 * time.Second
	cfg.SafetyRules.Service.RestartInterval = time.Millisecond
	cfg.Test.ConsensusKey = keyFile
	return cfg
}

func startManager(t *testing.T, cfg *config.NodeConfig, opts ...manager.Option) *manager.Manager {
	t.Helper()
	if cfg.SafetyRules.Service.Type == config.ServiceSpawnedProcess {
		t.Setenv(childEnv, "1")
	}
	opts = append([]manager.Option{manager.WithLogger(logging.Nop())}, opts...)
	m, err := manager.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return m
}

func outcome(payload []byte, err error) string {
	if err != nil {
		kind, reason := safetyrules.Classify(err)
		return fmt.Sprintf("%v/%s", kind, reason)
	}
	return hex.EncodeToString(payload)
}

func state(client safetyrules.SafetyRules) string {
	cs, err := client.ConsensusState()
	if err != nil {
		return outcome(nil, err)
	}
	return cs.String()
}

func vote(t *testing.T, client safetyrules.SafetyRules, vs *testutil.ValidatorSet, round, qcRound safetyrules.Round) string {
	v, err := client.ConstructAndSignVote(vs.Proposal(t, round, qcRound))
	if err != nil {
		return outcome(nil, err)
	}
	return outcome(wire.MarshalVote(v), nil)
}

// scenario drives client through every operation and records the outcomes.
func scenario(t *testing.T, client safetyrules.SafetyRules, vs *testutil.ValidatorSet) []string {
	t.Helper()
	forged := testutil.NewValidatorSet(t, vs.Epoch(), len(vs.Validators), crypto.NameEDDSA)
	next := vs.NextEpoch(t)

	results := []string{state(client), vote(t, client, vs, 1, 0)}
	results = append(results, outcome(nil, client.Initialize(vs.InitializeRequest(0))), state(client))
	results = append(results,
		vote(t, client, vs, 1, 0),
		vote(t, client, vs, 2, 1),
		vote(t, client, vs, 3, 2),
		vote(t, client, vs, 3, 2),
		vote(t, client, vs, 5, 1),
		state(client),
	)

	block, err := client.SignProposal(vs.BlockData(0, 4, vs.QC(t, 3, 2)))
	if err == nil {
		results = append(results, outcome(wire.MarshalBlock(block), nil))
	} else {
		results = append(results, outcome(nil, err))
	}
	_, err = client.SignProposal(vs.BlockData(1, 4, vs.QC(t, 3, 2)))
	results = append(results, outcome(nil, err))

	results = append(results, outcome(client.SignTimeout(&safetyrules.Timeout{Epoch: 1, Round: 6, HighQC: vs.QC(t, 3, 2)})))
	results = append(results, outcome(client.SignTimeout(&safetyrules.Timeout{Epoch: 1, Round: 2})))
	results = append(results, state(client))

	results = append(results, outcome(nil, client.HandleEpochChangeProof(forged.EpochChangeProof(t, next))), state(client))
	results = append(results, outcome(nil, client.HandleEpochChangeProof(vs.EpochChangeProof(t, next))), state(client))
	results = append(results, vote(t, client, next, 1, 0), state(client))
	return results
}

func TestTopologyTransparency(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)

	var want []string
	for _, serviceType := range []string{
		config.ServiceLocal,
		config.ServiceSerializer,
		config.ServiceThread,
		config.ServiceSpawnedProcess,
	} {
		t.Run(serviceType, func(t *testing.T) {
			m := startManager(t, nodeConfig(t, vs, serviceType))
			got := scenario(t, m.Client(), vs)
			if want == nil {
				want = got
				return
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("outcomes differ from %s (-want +got):\n%s", config.ServiceLocal, diff)
			}
		})
	}

	// spot checks of the reference outcomes
	if len(want) < 8 {
		t.Fatal("reference scenario did not run")
	}
	if got := want[1]; got != outcome(nil, safetyrules.ErrNotInitialized) {
		t.Errorf("vote before Initialize: got %s", got)
	}
	if got := want[7]; got != outcome(nil, safetyrules.ErrIncorrectLastVotedRound) {
		t.Errorf("second vote for round 3: got %s", got)
	}
	if got := want[8]; got != outcome(nil, safetyrules.ErrIncorrectPreferredRound) {
		t.Errorf("vote extending round 1: got %s", got)
	}
}

func TestRestartKeepsSafetyData(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameECDSA)
	cfg := nodeConfig(t, vs, config.ServiceLocal)

	m, err := manager.New(cfg, manager.WithLogger(logging.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	client := m.Client()
	if err := client.Initialize(vs.InitializeRequest(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ConstructAndSignVote(vs.Proposal(t, 5, 4)); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	// the storage already holds a key, so seeding it again keeps the safety data
	m = startManager(t, cfg)
	client = m.Client()
	if err := client.Initialize(vs.InitializeRequest(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ConstructAndSignVote(vs.Proposal(t, 5, 4)); !errors.Is(err, safetyrules.ErrIncorrectLastVotedRound) {
		t.Errorf("vote for round 5 after restart: expected ErrIncorrectLastVotedRound, got %v", err)
	}
}

func TestStoreLocked(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	cfg := nodeConfig(t, vs, config.ServiceLocal)
	startManager(t, cfg)

	_, err := manager.New(cfg, manager.WithLogger(logging.Nop()))
	if !errors.Is(err, safetyrules.ErrStoreLocked) {
		t.Errorf("second manager on the same store: expected ErrStoreLocked, got %v", err)
	}
}

func TestConfigurationErrors(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)

	cfg := nodeConfig(t, vs, "remote")
	if _, err := manager.New(cfg); !errors.Is(err, safetyrules.ErrConfiguration) {
		t.Errorf("unknown service: expected ErrConfiguration, got %v", err)
	}

	cfg = nodeConfig(t, vs, config.ServiceLocal)
	cfg.Test.ConsensusKey = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := manager.New(cfg); !errors.Is(err, safetyrules.ErrConfiguration) {
		t.Errorf("missing key file: expected ErrConfiguration, got %v", err)
	}
}

func TestExtractServiceInputs(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameBLS12)
	cfg := nodeConfig(t, vs, config.ServiceLocal)

	author, ps, err := manager.ExtractServiceInputs(cfg, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if author != vs.Author(0) {
		t.Errorf("got author %v, want %v", author, vs.Author(0))
	}
	signer, err := ps.Signer()
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.PublicKeyEqual(signer.Public(), vs.Validators[0].Signer.Public()) {
		t.Error("storage was not seeded with the test consensus key")
	}
	if err := ps.Close(); err != nil {
		t.Fatal(err)
	}

	// without default, the storage is used as is
	cfg.SafetyRules.Backend.Default = false
	cfg.SafetyRules.Backend.Path = filepath.Join(t.TempDir(), "empty.cbor")
	_, ps, err = manager.ExtractServiceInputs(cfg, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Close()
	if ok, err := ps.HasKey(); err != nil || ok {
		t.Errorf("HasKey() = (%t, %v), want (false, nil)", ok, err)
	}
}

func TestMetrics(t *testing.T) {
	vs := testutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	registry := prometheus.NewRegistry()
	m := startManager(t, nodeConfig(t, vs, config.ServiceThread), manager.WithRegistry(registry))
	client := m.Client()

	if err := client.Initialize(vs.InitializeRequest(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ConstructAndSignVote(vs.Proposal(t, 2, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ConstructAndSignVote(vs.Proposal(t, 2, 1)); err == nil {
		t.Fatal("second vote for round 2 was accepted")
	}

	n, err := promtestutil.GatherAndCount(registry, "safety_rules_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	// initialize/success, construct_and_sign_vote/success, construct_and_sign_vote/safety_violation
	if n != 3 {
		t.Errorf("got %d request series, want 3", n)
	}
}
