package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/gates"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// builtinGates returns the definitions implied by the boolean switches.
// require_plan only guards P->R; require_approval guards every transition.
func (o *Orchestrator) builtinGates(from, to workflow.Phase) []gates.Definition {
	t := gates.Transition(from, to)
	var defs []gates.Definition
	if o.gates.RequirePlan && from == workflow.PhasePlanning && to == workflow.PhaseReview {
		defs = append(defs, gates.Definition{Type: gates.TypeRequirePlan, Phases: []string{t}})
	}
	if o.gates.RequireApproval {
		defs = append(defs, gates.Definition{Type: gates.TypeRequireApproval, Phases: []string{t}})
	}
	return defs
}

// checkGate runs the built-in checks, then the configured gates, for the
// transition. The first failure is returned as a *GateError.
func (o *Orchestrator) checkGate(ctx context.Context, st *workflow.State, from, to workflow.Phase) error {
	in := gates.Input{State: st, From: from, To: to, ProjectDir: o.projectDir}

	for _, defs := range [][]gates.Definition{o.builtinGates(from, to), o.gates.Gates} {
		out := o.registry.Check(ctx, defs, in)
		if out.Passed {
			continue
		}
		gate := ""
		for _, r := range out.Results {
			if !r.Passed {
				gate = r.Gate
				break
			}
		}
		o.metrics.RecordGateFailure(ctx, from, to, gate)
		o.logger.Info("transition blocked",
			zap.String("workflow", st.Name),
			zap.String("transition", gates.Transition(from, to)),
			zap.String("gate", gate),
			zap.String("reason", out.Reason),
		)
		return &GateError{From: from, To: to, Reason: out.Reason, Hints: out.Hints, Results: out.Results}
	}
	return nil
}
