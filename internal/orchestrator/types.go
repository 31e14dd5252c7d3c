package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/fama/internal/gates"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

var (
	// ErrGateFailed is matched by every *GateError.
	ErrGateFailed = errors.New("gate check failed")

	// ErrWorkflowExists is returned by Init when a workflow is already on disk.
	ErrWorkflowExists = errors.New("workflow already exists")

	// ErrWorkflowComplete is returned when mutating a finished workflow.
	ErrWorkflowComplete = errors.New("workflow is complete")

	// ErrNotInValidation is returned by LoopBack outside the Validation phase.
	ErrNotInValidation = errors.New("loop-back is only possible from Validation")
)

// GateError reports a denied transition. State is left unchanged.
type GateError struct {
	From    workflow.Phase
	To      workflow.Phase
	Reason  string
	Hints   []string
	Results []gates.Result
}

func (e *GateError) Error() string {
	msg := fmt.Sprintf("transition %s blocked: %s", gates.Transition(e.From, e.To), e.Reason)
	if len(e.Hints) > 0 {
		msg += " (" + strings.Join(e.Hints, "; ") + ")"
	}
	return msg
}

// Is makes errors.Is(err, ErrGateFailed) true.
func (e *GateError) Is(target error) bool { return target == ErrGateFailed }

// GatesConfig selects built-in checks and supplies dynamic gate definitions.
type GatesConfig struct {
	RequirePlan     bool               `koanf:"requirePlan" json:"requirePlan"`
	RequireApproval bool               `koanf:"requireApproval" json:"requireApproval"`
	Gates           []gates.Definition `koanf:"gates" json:"gates"`
}

// AdvanceResult describes what Advance did. Terminal is true when the last
// active phase was completed and there is nowhere left to go.
type AdvanceResult struct {
	From     workflow.Phase `json:"from"`
	To       workflow.Phase `json:"to,omitempty"`
	Terminal bool           `json:"terminal"`
}

// Recommendation lists the agents and skills suited to a phase.
type Recommendation struct {
	Agents []string `json:"agents"`
	Skills []string `json:"skills"`
}

var recommendations = map[workflow.Phase]Recommendation{
	workflow.PhasePlanning: {
		Agents: []string{"planner", "architect"},
		Skills: []string{"requirements-analysis", "task-breakdown", "architecture-design"},
	},
	workflow.PhaseReview: {
		Agents: []string{"plan-reviewer"},
		Skills: []string{"plan-review", "risk-assessment"},
	},
	workflow.PhaseExecution: {
		Agents: []string{"implementer"},
		Skills: []string{"tdd", "incremental-implementation", "refactoring"},
	},
	workflow.PhaseValidation: {
		Agents: []string{"test-writer", "security-auditor", "code-reviewer"},
		Skills: []string{"testing", "security-audit", "code-review"},
	},
	workflow.PhaseCompletion: {
		Agents: []string{"documenter"},
		Skills: []string{"documentation", "changelog", "handoff-summary"},
	},
}

// RecommendedAgents returns the agents suited to p.
func RecommendedAgents(p workflow.Phase) []string {
	return append([]string(nil), recommendations[p].Agents...)
}

// RecommendedSkills returns the skills suited to p.
func RecommendedSkills(p workflow.Phase) []string {
	return append([]string(nil), recommendations[p].Skills...)
}
