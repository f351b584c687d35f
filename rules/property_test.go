package rules_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	sttestutil "github.com/relab/safetyrules/internal/testutil"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/metrics"
	"github.com/relab/safetyrules/rules"
	"pgregory.net/rapid"
)

// TestVotingProperties checks the voting rules against random sequences of votes and timeouts.
func TestVotingProperties(t *testing.T) {
	vs := sttestutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)

	rapid.Check(t, func(rt *rapid.T) {
		sr := rules.New(vs.Author(0), vs.Storage(t, 0), rules.WithLogger(logging.Nop()))
		if err := sr.Initialize(vs.InitializeRequest(0)); err != nil {
			rt.Fatalf("Initialize failed: %v", err)
		}

		voted := make(map[safetyrules.Round]bool)
		var lvr, pr safetyrules.Round

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			round := safetyrules.Round(rapid.IntRange(1, 15).Draw(rt, "round"))
			if rapid.Bool().Draw(rt, "timeout") {
				_, err := sr.SignTimeout(&safetyrules.Timeout{Epoch: 1, Round: round})
				accept := round > pr && round >= lvr
				if accept != (err == nil) {
					rt.Fatalf("timeout at round %d with (lvr %d, pr %d): accepted=%t, err=%v", round, lvr, pr, accept, err)
				}
				if err == nil && round > lvr {
					lvr = round
				}
			} else {
				qcRound := safetyrules.Round(rapid.IntRange(0, int(round)-1).Draw(rt, "qcRound"))
				v, err := sr.ConstructAndSignVote(vs.Proposal(t, round, qcRound))
				accept := round > lvr && qcRound >= pr
				if accept != (err == nil) {
					rt.Fatalf("vote for round %d (qc %d) with (lvr %d, pr %d): accepted=%t, err=%v", round, qcRound, lvr, pr, accept, err)
				}
				if err != nil {
					if !errors.Is(err, safetyrules.ErrSafetyViolation) {
						rt.Fatalf("unexpected error kind: %v", err)
					}
					continue
				}
				if voted[v.Round()] {
					rt.Fatalf("voted twice in round %d", v.Round())
				}
				voted[v.Round()] = true
				lvr = round
				if qcRound > pr {
					pr = qcRound
				}
			}

			cs, err := sr.ConsensusState()
			if err != nil {
				rt.Fatalf("ConsensusState failed: %v", err)
			}
			sd := cs.SafetyData
			if sd.LastVotedRound != lvr || sd.PreferredRound != pr {
				rt.Fatalf("got (lvr %d, pr %d), want (%d, %d)", sd.LastVotedRound, sd.PreferredRound, lvr, pr)
			}
			if sd.PreferredRound > sd.LastVotedRound {
				rt.Fatalf("preferred round %d is above last voted round %d", sd.PreferredRound, sd.LastVotedRound)
			}
		}
	})
}

func TestMetrics(t *testing.T) {
	vs := sttestutil.NewValidatorSet(t, 1, 4, crypto.NameEDDSA)
	reg := prometheus.NewRegistry()
	sr := rules.New(vs.Author(0), vs.Storage(t, 0), rules.WithLogger(logging.Nop()), rules.WithMetrics(metrics.NewCollector(reg)))
	if err := sr.Initialize(vs.InitializeRequest(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := sr.ConstructAndSignVote(vs.Proposal(t, 2, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := sr.ConstructAndSignVote(vs.Proposal(t, 2, 1)); err == nil {
		t.Fatal("second vote for round 2 was accepted")
	}

	want := `
# HELP safety_rules_last_voted_round last voted round of the safety data
# TYPE safety_rules_last_voted_round gauge
safety_rules_last_voted_round 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "safety_rules_last_voted_round"); err != nil {
		t.Error(err)
	}
	n, err := testutil.GatherAndCount(reg, "safety_rules_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	// initialize/success, vote/success, vote/safety_violation
	if n != 3 {
		t.Errorf("expected 3 request series, got %d", n)
	}
}
