package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/agent"
	"github.com/fyrsmithlabs/fama/internal/agentoutput"
	"github.com/fyrsmithlabs/fama/internal/manifold"
	"github.com/fyrsmithlabs/fama/internal/prompt"
	"github.com/fyrsmithlabs/fama/internal/quality"
	"github.com/fyrsmithlabs/fama/internal/reranker"
	"github.com/fyrsmithlabs/fama/internal/runs"
	"github.com/fyrsmithlabs/fama/internal/tokens"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// ErrAllAgentsFailed is returned when no agent of a non-validation phase
// produced a result.
var ErrAllAgentsFailed = errors.New("every agent in the phase failed")

// PhaseReport is the outcome of RunPhase.
type PhaseReport struct {
	Phase    workflow.Phase          `json:"phase"`
	Handoff  manifold.Selection      `json:"handoff"`
	Results  []agent.ParallelResult  `json:"results"`
	Outputs  []manifold.PhaseOutput  `json:"outputs"`
	RunIDs   []string                `json:"runIds"`
	Warnings []string                `json:"warnings,omitempty"`
	Quality  *quality.Score          `json:"quality,omitempty"`
	Loop     *quality.LoopDecision   `json:"loop,omitempty"`
}

// ExecutorConfig holds the knobs RunPhase reads.
type ExecutorConfig struct {
	Budgets tokens.Profiles
	Quality quality.Config
	Strict  bool
}

// Executor runs the current phase's agents: it selects the handoff,
// assembles prompts, invokes agents, and records what they produced.
type Executor struct {
	orch      *Orchestrator
	manifold  *manifold.Service
	runs      *runs.Store
	library   prompt.Library
	ranker    reranker.Reranker
	assembler *prompt.Assembler
	agents    agent.Executor
	assessor  quality.Assessor
	cfg       ExecutorConfig
	logger    *zap.Logger
	now       func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLibrary sets where agent playbooks and skills come from.
func WithLibrary(l prompt.Library) ExecutorOption {
	return func(e *Executor) { e.library = l }
}

// WithReranker sets how skills are ranked against the task. The default
// is a CosineReranker.
func WithReranker(r reranker.Reranker) ExecutorOption {
	return func(e *Executor) { e.ranker = r }
}

// WithAssessor replaces the heuristic quality assessor.
func WithAssessor(a quality.Assessor) ExecutorOption {
	return func(e *Executor) { e.assessor = a }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor wires an executor.
func NewExecutor(orch *Orchestrator, mf *manifold.Service, rs *runs.Store, agents agent.Executor, cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		orch:     orch,
		manifold: mf,
		runs:     rs,
		agents:   agents,
		assessor: quality.HeuristicAssessor{},
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      orch.now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.assembler = prompt.NewAssembler(e.ranker)
	e.logger = e.logger.Named("executor")
	return e
}

// Close releases the skill reranker.
func (e *Executor) Close() error {
	return e.assembler.Close()
}

// RunPhase executes the current phase for task.
func (e *Executor) RunPhase(ctx context.Context, task string) (*PhaseReport, error) {
	ctx, span := Tracer().Start(ctx, "executor.RunPhase")
	defer span.End()

	st, err := e.orch.State()
	if err != nil {
		return nil, err
	}
	if st.IsComplete() {
		return nil, ErrWorkflowComplete
	}
	phase := st.CurrentPhase
	ref := manifold.RefFromState(st)
	budget := e.cfg.Budgets.For(st.Scale)
	span.SetAttributes(attribute.String("workflow", st.Name), attribute.String("phase", string(phase)))

	report := &PhaseReport{Phase: phase}

	h, err := e.handoff(ctx, st, phase, budget.Context, report)
	if err != nil {
		spanError(span, err)
		return nil, err
	}

	reqs, err := e.requests(ctx, task, phase, h, budget)
	if err != nil {
		spanError(span, err)
		return nil, err
	}

	e.logger.Info("running phase",
		zap.String("workflow", st.Name),
		zap.String("phase", string(phase)),
		zap.Int("agents", len(reqs)),
	)
	report.Results = agent.ExecuteParallel(ctx, e.agents, reqs)

	if err := e.record(ctx, ref, phase, task, report); err != nil {
		spanError(span, err)
		return report, err
	}

	if phase == workflow.PhaseValidation {
		if err := e.assess(ctx, st.Loops, report); err != nil {
			spanError(span, err)
			return report, err
		}
		return report, nil
	}

	for _, r := range report.Results {
		if r.Succeeded() {
			return report, nil
		}
	}
	err = fmt.Errorf("%w: %s", ErrAllAgentsFailed, phase.Name())
	if len(report.Results) > 0 && report.Results[0].Err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrAllAgentsFailed, phase.Name(), report.Results[0].Err)
	}
	spanError(span, err)
	return report, err
}

// handoffText is the rendered prior-phase context, split into the sections
// that must survive truncation and the rest.
type handoffText struct {
	pinned string
	rest   string
}

// handoff renders the prior-phase context. Without a manifold document it
// falls back to run records referenced by earlier phases.
func (e *Executor) handoff(ctx context.Context, st *workflow.State, phase workflow.Phase, budget int, report *PhaseReport) (handoffText, error) {
	sel, m, err := e.manifold.Handoff(phase, budget)
	if err != nil {
		return handoffText{}, err
	}
	report.Handoff = sel
	if m != nil {
		h := handoffText{pinned: manifold.FormatPinned(sel), rest: manifold.FormatEntries(sel, m)}
		e.orch.metrics.RecordHandoff(ctx, phase, tokens.EstimateTokens(h.pinned)+sel.TotalTokens)
		return h, nil
	}
	legacy, err := e.runs.LoadLegacyContext(st, phase)
	if err != nil {
		return handoffText{}, err
	}
	legacy = tokens.TruncateToTokenBudget(legacy, budget)
	e.orch.metrics.RecordHandoff(ctx, phase, tokens.EstimateTokens(legacy))
	return handoffText{rest: legacy}, nil
}

func (e *Executor) requests(ctx context.Context, task string, phase workflow.Phase, h handoffText, budget tokens.Budget) ([]agent.Request, error) {
	var skills []prompt.Skill
	if e.library != nil {
		var err error
		if skills, err = e.library.Skills(); err != nil {
			return nil, err
		}
	}

	names := RecommendedAgents(phase)
	if phase != workflow.PhaseValidation && len(names) > 1 {
		names = names[:1]
	}

	reqs := make([]agent.Request, 0, len(names))
	for _, name := range names {
		def := prompt.Agent{Name: name, Playbook: defaultPlaybook(name, phase)}
		if e.library != nil {
			d, err := e.library.Agent(name)
			switch {
			case err == nil:
				def = d
			case !errors.Is(err, prompt.ErrAgentNotFound):
				return nil, err
			}
		}
		p, err := e.assembler.Assemble(ctx, prompt.Input{
			Playbook: def.Playbook,
			Skills:   skills,
			Pinned:   h.pinned,
			Context:  h.rest,
			Task:     task,
		}, budget)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, agent.Request{
			Agent:        name,
			Task:         p.User,
			SystemPrompt: p.System,
			AllowedTools: def.Tools,
			Model:        def.Model,
			MaxTurns:     def.MaxTurns,
			Cwd:          e.orch.projectDir,
		})
	}
	return reqs, nil
}

func defaultPlaybook(name string, phase workflow.Phase) string {
	return fmt.Sprintf("You are the %s agent for the %s phase. "+
		"Finish with a fenced JSON block containing summary, artifacts, decisions and issues.", name, phase.Name())
}

// record saves a run record, appends its reference to the phase and adds
// the interpreted output to the manifold for every successful result.
func (e *Executor) record(ctx context.Context, ref manifold.WorkflowRef, phase workflow.Phase, task string, report *PhaseReport) error {
	for _, r := range report.Results {
		if !r.Succeeded() {
			e.logger.Warn("agent failed", zap.String("agent", r.Agent), zap.String("error", r.Error))
			continue
		}
		cost := r.Result.CostUSD
		ms := r.Duration.Milliseconds()
		id, err := e.runs.Save(&runs.Record{
			Phase:      phase,
			Agent:      r.Agent,
			Task:       task,
			Result:     r.Result.Text,
			Timestamp:  e.now(),
			CostUSD:    &cost,
			DurationMs: &ms,
		})
		if err != nil {
			return err
		}
		report.RunIDs = append(report.RunIDs, id)
		if err := e.orch.AppendOutput(ctx, phase, id); err != nil {
			return err
		}

		in, err := agentoutput.Interpret(r.Result.Text, r.Agent, e.cfg.Strict)
		if err != nil {
			return fmt.Errorf("output of %s: %w", r.Agent, err)
		}
		if in.ParseErr != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", r.Agent, in.ParseErr))
		}
		if _, err := e.manifold.AddOutput(ref, phase, in.Output); err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, in.Output)
	}
	return nil
}

func (e *Executor) assess(ctx context.Context, loops int, report *PhaseReport) error {
	score := e.assessor.Assess(report.Results, e.cfg.Quality)
	decision := quality.ShouldLoopBack(score, loops, e.cfg.Quality)
	report.Quality = &score
	report.Loop = &decision
	e.orch.metrics.RecordQuality(ctx, score.Score, score.Passed)

	e.logger.Info("validation assessed",
		zap.Int("score", score.Score),
		zap.Bool("passed", score.Passed),
		zap.Bool("loop_back", decision.LoopBack),
		zap.String("reason", decision.Reason),
	)
	if !decision.LoopBack {
		return nil
	}
	_, err := e.orch.LoopBack(ctx, decision.Reason)
	return err
}
