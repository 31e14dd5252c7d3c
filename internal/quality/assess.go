package quality

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/fyrsmithlabs/fama/internal/agent"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Factor names.
const (
	FactorCompletion = "completion"
	FactorTesting    = "testing"
	FactorSecurity   = "security"
	FactorReview     = "review"
)

// Factor is one weighted component of a Score.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  int     `json:"score"`
	Reason string  `json:"reason"`
}

// Score is the outcome of assessing a batch of validation results.
type Score struct {
	Phase           workflow.Phase `json:"phase"`
	Score           int            `json:"score"`
	Breakdown       []Factor       `json:"breakdown"`
	Passed          bool           `json:"passed"`
	Recommendations []string       `json:"recommendations"`
}

// Assessor scores validation results. HeuristicAssessor is the built-in
// implementation.
type Assessor interface {
	Assess(results []agent.ParallelResult, cfg Config) Score
}

// rule maps a pattern to a fixed score, or to the first captured number
// when score is negative.
type rule struct {
	re     *regexp.Regexp
	score  int
	reason string
}

const capture = -1

var testingRules = []rule{
	{regexp.MustCompile(`(?i)100\s*%\s*(test\s+)?coverage|all\s+tests\s+(pass|passed|passing)\b`), 100, "full coverage or all tests passing"},
	{regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s*(?:test\s+)?coverage`), capture, "reported coverage"},
	{regexp.MustCompile(`(?i)coverage[^0-9\n]{0,20}(\d{1,3}(?:\.\d+)?)\s*%`), capture, "reported coverage"},
	{regexp.MustCompile(`(?i)\b(fail(s|ed|ing|ure|ures)?|errors?|broken)\b`), 30, "test failures reported"},
	{regexp.MustCompile(`(?i)\btests?\b`), 70, "tests reported without coverage figures"},
}

var securityRules = []rule{
	{regexp.MustCompile(`(?i)\bno\s+(known\s+)?(vulnerabilit(y|ies)|security\s+(issues|findings|problems)|issues|findings)\b|\bclean\b`), 100, "no vulnerabilities found"},
	{regexp.MustCompile(`(?i)\bcritical\b`), 20, "critical security findings"},
	{regexp.MustCompile(`(?i)\bhigh\b[^.\n]{0,30}\b(severity|risk|vulnerabilit(y|ies))\b`), 40, "high severity security findings"},
	{regexp.MustCompile(`(?i)vulnerab|insecure|\b(fail(s|ed|ing|ure)?|errors?|broken)\b`), 30, "security problems reported"},
	{regexp.MustCompile(`(?i)\b(low|minor|informational)\b`), 80, "only minor security notes"},
}

var reviewRules = []rule{
	{regexp.MustCompile(`(?i)changes\s+requested|request(ing)?\s+changes|not\s+approved|needs\s+(work|changes)|\breject(ed)?\b`), 40, "changes requested"},
	{regexp.MustCompile(`(?i)\b(lgtm|approved?|looks\s+good)\b`), 100, "approved"},
	{regexp.MustCompile(`(?i)\b(fail(s|ed|ing|ure)?|errors?|broken)\b`), 30, "review found defects"},
	{regexp.MustCompile(`(?i)\b(nits?|minor|suggestions?)\b`), 80, "minor suggestions only"},
}

const unmatchedScore = 70

// HeuristicAssessor scores results with ordered keyword heuristics.
type HeuristicAssessor struct{}

var _ Assessor = HeuristicAssessor{}

// Assess implements Assessor.
func (HeuristicAssessor) Assess(results []agent.ParallelResult, cfg Config) Score {
	return Assess(results, cfg)
}

// Assess scores a batch of parallel validation results.
func Assess(results []agent.ParallelResult, cfg Config) Score {
	cfg.applyDefaults()

	byAgent := make(map[string]agent.ParallelResult, len(results))
	for _, r := range results {
		if _, seen := byAgent[r.Agent]; !seen {
			byAgent[r.Agent] = r
		}
	}

	var recs []string
	factors := []Factor{completionFactor(results, cfg.Weights.Completion)}
	for _, def := range []struct {
		name   string
		agent  string
		weight float64
		rules  []rule
	}{
		{FactorTesting, cfg.Agents.Testing, cfg.Weights.Testing, testingRules},
		{FactorSecurity, cfg.Agents.Security, cfg.Weights.Security, securityRules},
		{FactorReview, cfg.Agents.Review, cfg.Weights.Review, reviewRules},
	} {
		f, rec := agentFactor(def.name, def.agent, def.weight, def.rules, byAgent)
		factors = append(factors, f)
		if rec != "" {
			recs = append(recs, rec)
		}
	}

	var weighted, total float64
	for _, f := range factors {
		if f.Weight <= 0 {
			continue
		}
		weighted += f.Weight * float64(f.Score)
		total += f.Weight
	}
	score := 0
	if total > 0 {
		score = int(math.Round(weighted / total))
	}

	out := Score{
		Phase:           workflow.PhaseValidation,
		Score:           score,
		Breakdown:       factors,
		Passed:          score >= cfg.MinimumScore,
		Recommendations: []string{},
	}
	if out.Passed {
		return out
	}
	for _, f := range factors {
		if f.Weight > 0 && f.Score < 70 {
			out.Recommendations = append(out.Recommendations, fmt.Sprintf("Improve %s (scored %d): %s", f.Name, f.Score, f.Reason))
		}
	}
	out.Recommendations = append(out.Recommendations, recs...)
	return out
}

func completionFactor(results []agent.ParallelResult, weight float64) Factor {
	f := Factor{Name: FactorCompletion, Weight: weight}
	if len(results) == 0 {
		f.Reason = "no validation agents ran"
		return f
	}
	ok := 0
	for _, r := range results {
		if r.Succeeded() {
			ok++
		}
	}
	f.Score = int(math.Round(float64(ok) * 100 / float64(len(results))))
	f.Reason = fmt.Sprintf("%d of %d agents succeeded", ok, len(results))
	return f
}

// agentFactor scores one named agent's output. The second return value is
// a recommendation when the agent failed or never ran.
func agentFactor(name, agentName string, weight float64, rules []rule, byAgent map[string]agent.ParallelResult) (Factor, string) {
	f := Factor{Name: name, Weight: weight}
	r, ok := byAgent[agentName]
	switch {
	case !ok:
		f.Score = 50
		f.Reason = fmt.Sprintf("%s did not run", agentName)
		return f, fmt.Sprintf("Run %s to cover %s", agentName, name)
	case !r.Succeeded() || r.Result == nil:
		f.Score = 0
		f.Reason = fmt.Sprintf("%s failed: %s", agentName, r.Error)
		return f, fmt.Sprintf("Re-run %s after fixing: %s", agentName, r.Error)
	}

	f.Score, f.Reason = match(r.Result.Text, rules)
	return f, ""
}

func match(text string, rules []rule) (int, string) {
	for _, rl := range rules {
		m := rl.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if rl.score != capture {
			return rl.score, rl.reason
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		pct := int(math.Round(math.Min(v, 100)))
		return pct, fmt.Sprintf("%s %d%%", rl.reason, pct)
	}
	return unmatchedScore, "no conclusive signal in output"
}
