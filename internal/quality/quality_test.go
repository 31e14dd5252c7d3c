package quality

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/fama/internal/agent"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

func ok(name, text string) agent.ParallelResult {
	return agent.ParallelResult{Agent: name, Status: agent.StatusSuccess, Result: &agent.Result{Text: text}}
}

func failed(name, msg string) agent.ParallelResult {
	return agent.ParallelResult{Agent: name, Status: agent.StatusError, Error: msg, Err: errors.New(msg)}
}

func factor(t *testing.T, s Score, name string) Factor {
	t.Helper()
	for _, f := range s.Breakdown {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("factor %s missing", name)
	return Factor{}
}

func TestAssess_AllGreen(t *testing.T) {
	s := Assess([]agent.ParallelResult{
		ok(AgentTestWriter, "100% coverage, all tests passing"),
		ok(AgentSecurityAuditor, "no vulnerabilities found, clean"),
		ok(AgentCodeReviewer, "LGTM approved"),
	}, DefaultConfig())

	for _, name := range []string{FactorCompletion, FactorTesting, FactorSecurity, FactorReview} {
		assert.Equal(t, 100, factor(t, s, name).Score, name)
	}
	assert.Equal(t, workflow.PhaseValidation, s.Phase)
	assert.Equal(t, 100, s.Score)
	assert.True(t, s.Passed)
	assert.Empty(t, s.Recommendations)
}

func TestAssess_FailuresAndAbsence(t *testing.T) {
	s := Assess([]agent.ParallelResult{
		ok(AgentTestWriter, "3 tests failing in auth package"),
		failed(AgentSecurityAuditor, "timeout"),
	}, DefaultConfig())

	assert.Equal(t, 50, factor(t, s, FactorCompletion).Score)
	assert.Equal(t, 30, factor(t, s, FactorTesting).Score)
	assert.Equal(t, 0, factor(t, s, FactorSecurity).Score)
	assert.Equal(t, 50, factor(t, s, FactorReview).Score)

	// 0.30*50 + 0.25*30 + 0.25*0 + 0.20*50 = 32.5
	assert.Equal(t, 33, s.Score)
	assert.False(t, s.Passed)
	assert.Len(t, s.Recommendations, 6)
	assert.Contains(t, s.Recommendations, "Run code-reviewer to cover review")
	assert.Contains(t, s.Recommendations, "Re-run security-auditor after fixing: timeout")
}

func TestAssess_CoveragePercentage(t *testing.T) {
	cases := map[string]int{
		"Achieved 85% coverage across packages": 85,
		"coverage: 62.4% of statements":         62,
		"Wrote 12 tests":                        70,
		"Nothing to report":                     70,
	}
	for text, want := range cases {
		s := Assess([]agent.ParallelResult{ok(AgentTestWriter, text)}, DefaultConfig())
		assert.Equal(t, want, factor(t, s, FactorTesting).Score, text)
	}
}

func TestAssess_ReviewAndSecurityOrdering(t *testing.T) {
	s := Assess([]agent.ParallelResult{
		ok(AgentCodeReviewer, "Changes requested: not approved until errors are handled"),
		ok(AgentSecurityAuditor, "Found a critical SQL injection vulnerability"),
	}, DefaultConfig())
	assert.Equal(t, 40, factor(t, s, FactorReview).Score)
	assert.Equal(t, 20, factor(t, s, FactorSecurity).Score)
}

func TestAssess_ZeroWeightFactorIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = Weights{Completion: 1}
	s := Assess([]agent.ParallelResult{ok("anything", "done")}, cfg)
	assert.Equal(t, 100, s.Score)
	assert.True(t, s.Passed)
}

func TestAssess_PassedMatchesThreshold(t *testing.T) {
	results := []agent.ParallelResult{
		ok(AgentTestWriter, "coverage 70%"),
		ok(AgentSecurityAuditor, "clean"),
		ok(AgentCodeReviewer, "approved"),
	}
	for _, min := range []int{0, 50, 90, 100} {
		cfg := DefaultConfig()
		cfg.MinimumScore = min
		s := Assess(results, cfg)
		assert.Equal(t, s.Score >= min, s.Passed)
	}
}

func TestHeuristicAssessor(t *testing.T) {
	var a Assessor = HeuristicAssessor{}
	s := a.Assess(nil, DefaultConfig())
	assert.Equal(t, 0, factor(t, s, FactorCompletion).Score)
	assert.False(t, s.Passed)
}

func TestShouldLoopBack(t *testing.T) {
	cfg := DefaultConfig()
	failing := Score{Score: 55, Passed: false}

	d := ShouldLoopBack(failing, 0, cfg)
	assert.True(t, d.LoopBack)
	assert.Contains(t, d.Reason, "15 below the minimum of 70")

	assert.False(t, ShouldLoopBack(failing, 2, cfg).LoopBack)
	assert.False(t, ShouldLoopBack(failing, 3, cfg).LoopBack)
	assert.False(t, ShouldLoopBack(Score{Score: 90, Passed: true}, 0, cfg).LoopBack)

	cfg.LoopBackEnabled = false
	d = ShouldLoopBack(failing, 0, cfg)
	assert.False(t, d.LoopBack)
	assert.Equal(t, "loop-back is disabled", d.Reason)
}

func TestAssess_ZeroConfigUsesDefaults(t *testing.T) {
	results := []agent.ParallelResult{
		failed(AgentTestWriter, "timeout"),
		failed(AgentSecurityAuditor, "timeout"),
		failed(AgentCodeReviewer, "timeout"),
	}
	s := Assess(results, Config{})
	want := Assess(results, DefaultConfig())

	assert.Equal(t, want.Score, s.Score)
	assert.False(t, s.Passed)
	assert.NotEmpty(t, s.Recommendations)
	assert.Equal(t, 0.30, factor(t, s, FactorCompletion).Weight)

	d := ShouldLoopBack(s, 0, Config{})
	assert.True(t, d.LoopBack)
	assert.Contains(t, d.Reason, "minimum of 70")
	assert.False(t, ShouldLoopBack(s, 2, Config{}).LoopBack)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Weights.Security = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.Weights = Weights{}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MinimumScore = 101
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}
