package quality

import "fmt"

// LoopDecision says whether Validation should send the workflow back to
// Execution.
type LoopDecision struct {
	LoopBack bool   `json:"loopBack"`
	Reason   string `json:"reason"`
}

// ShouldLoopBack decides on a loop-back. It does not count loops; callers
// pass the number already taken.
func ShouldLoopBack(score Score, currentLoops int, cfg Config) LoopDecision {
	cfg.applyDefaults()
	switch {
	case score.Passed:
		return LoopDecision{Reason: fmt.Sprintf("quality score %d meets the minimum of %d", score.Score, cfg.MinimumScore)}
	case !cfg.LoopBackEnabled:
		return LoopDecision{Reason: "loop-back is disabled"}
	case currentLoops >= cfg.MaxLoops:
		return LoopDecision{Reason: fmt.Sprintf("maximum loops reached (%d/%d); proceeding with score %d", currentLoops, cfg.MaxLoops, score.Score)}
	}
	return LoopDecision{
		LoopBack: true,
		Reason: fmt.Sprintf("quality score %d is %d below the minimum of %d (loop %d of %d)",
			score.Score, cfg.MinimumScore-score.Score, cfg.MinimumScore, currentLoops+1, cfg.MaxLoops),
	}
}
