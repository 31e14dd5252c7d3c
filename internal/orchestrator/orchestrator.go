package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/gates"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Orchestrator drives the PREVEC state machine for one project. Every
// operation loads the state document, mutates it and writes it back whole.
type Orchestrator struct {
	store      *workflow.Store
	registry   *gates.Registry
	gates      GatesConfig
	projectDir string
	logger     *zap.Logger
	metrics    *Metrics
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGates sets the gate configuration.
func WithGates(cfg GatesConfig) Option {
	return func(o *Orchestrator) { o.gates = cfg }
}

// WithRegistry replaces the default gate registry.
func WithRegistry(r *gates.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an orchestrator over store. Without WithRegistry it uses the
// built-in gates.
func New(store *workflow.Store, projectDir string, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		store:      store,
		projectDir: projectDir,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	if o.registry == nil {
		r, err := gates.NewDefaultRegistry(gates.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		o.registry = r
	}
	return o, nil
}

// Registry returns the gate registry so callers can add gate types.
func (o *Orchestrator) Registry() *gates.Registry { return o.registry }

// State loads the current workflow.
func (o *Orchestrator) State() (*workflow.State, error) {
	return o.store.Load()
}

// Init creates and persists a new workflow.
func (o *Orchestrator) Init(ctx context.Context, name string, scale workflow.Scale) (*workflow.State, error) {
	if !scale.Valid() {
		return nil, fmt.Errorf("%w: %d", workflow.ErrUnknownScale, int(scale))
	}
	exists, err := o.store.Exists()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrWorkflowExists
	}
	return o.Reset(ctx, name, scale)
}

// Reset creates a new workflow, replacing any existing one.
func (o *Orchestrator) Reset(_ context.Context, name string, scale workflow.Scale) (*workflow.State, error) {
	st, err := workflow.NewState(name, scale, o.now())
	if err != nil {
		return nil, err
	}
	if err := o.store.Save(st); err != nil {
		return nil, err
	}
	o.logger.Info("workflow initialised",
		zap.String("workflow", name),
		zap.String("scale", scale.String()),
		zap.String("phase", string(st.CurrentPhase)),
	)
	return st, nil
}

// Advance moves to the next active phase, or completes the workflow when
// the current phase is the last one. A gate failure returns a *GateError
// and leaves the state untouched.
func (o *Orchestrator) Advance(ctx context.Context) (AdvanceResult, error) {
	ctx, span := Tracer().Start(ctx, "orchestrator.Advance")
	defer span.End()

	st, err := o.store.Load()
	if err != nil {
		return AdvanceResult{}, err
	}
	from := st.CurrentPhase
	span.SetAttributes(attribute.String("workflow", st.Name), attribute.String("from", string(from)))

	next, ok, err := st.NextActivePhase()
	if err != nil {
		return AdvanceResult{}, err
	}
	now := o.now()

	if !ok {
		if o.complete(st, from, now) {
			if err := o.store.Save(st); err != nil {
				return AdvanceResult{}, err
			}
			o.metrics.RecordTransition(ctx, from, "")
			o.logger.Info("workflow complete", zap.String("workflow", st.Name), zap.String("phase", string(from)))
		}
		return AdvanceResult{From: from, Terminal: true}, nil
	}

	if err := o.checkGate(ctx, st, from, next); err != nil {
		spanError(span, err)
		return AdvanceResult{}, err
	}

	o.complete(st, from, now)
	ps := st.Phase(next)
	started := now
	ps.Status = workflow.StatusInProgress
	ps.StartedAt = &started
	ps.CompletedAt = nil
	st.CurrentPhase = next
	st.Log(now, next, workflow.ActionStarted, "")

	if err := o.store.Save(st); err != nil {
		return AdvanceResult{}, err
	}
	span.SetAttributes(attribute.String("to", string(next)))
	o.metrics.RecordTransition(ctx, from, next)
	o.logger.Info("phase advanced",
		zap.String("workflow", st.Name),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
	return AdvanceResult{From: from, To: next}, nil
}

// complete marks p completed and logs it. It reports false when p was
// already completed.
func (o *Orchestrator) complete(st *workflow.State, p workflow.Phase, now time.Time) bool {
	ps := st.Phase(p)
	if ps.Status == workflow.StatusCompleted {
		return false
	}
	done := now
	ps.Status = workflow.StatusCompleted
	ps.CompletedAt = &done
	st.Log(now, p, workflow.ActionCompleted, "")
	return true
}

// CompleteCurrentPhase marks the current phase completed without advancing.
func (o *Orchestrator) CompleteCurrentPhase(_ context.Context) (*workflow.State, error) {
	st, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if o.complete(st, st.CurrentPhase, o.now()) {
		if err := o.store.Save(st); err != nil {
			return nil, err
		}
		o.logger.Info("phase completed", zap.String("workflow", st.Name), zap.String("phase", string(st.CurrentPhase)))
	}
	return st, nil
}

// AppendOutput appends an output reference to phase.
func (o *Orchestrator) AppendOutput(_ context.Context, phase workflow.Phase, ref string) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: %q", workflow.ErrUnknownPhase, phase)
	}
	st, err := o.store.Load()
	if err != nil {
		return err
	}
	ps := st.Phase(phase)
	ps.Outputs = append(ps.Outputs, ref)
	return o.store.Save(st)
}

// Approve records an approval of phase by the named person.
func (o *Orchestrator) Approve(_ context.Context, phase workflow.Phase, by string) (*workflow.State, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("%w: %q", workflow.ErrUnknownPhase, phase)
	}
	if by == "" {
		return nil, errors.New("approver is required")
	}
	st, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if st.Approvals == nil {
		st.Approvals = make(map[workflow.Phase]workflow.Approval)
	}
	st.Approvals[phase] = workflow.Approval{By: by, At: o.now()}
	if err := o.store.Save(st); err != nil {
		return nil, err
	}
	o.logger.Info("phase approved", zap.String("workflow", st.Name), zap.String("phase", string(phase)), zap.String("by", by))
	return st, nil
}

// LoopBack sends the workflow from Validation back to Execution. The loop
// counter is incremented and the reason is logged in history.
func (o *Orchestrator) LoopBack(ctx context.Context, reason string) (*workflow.State, error) {
	st, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if st.CurrentPhase != workflow.PhaseValidation {
		return nil, fmt.Errorf("%w (current phase %s)", ErrNotInValidation, st.CurrentPhase)
	}
	if !st.Scale.IsActive(workflow.PhaseExecution) {
		return nil, &workflow.StateError{Op: "loop-back", Msg: fmt.Sprintf("Execution is not active at scale %s", st.Scale)}
	}

	now := o.now()
	v := st.Phase(workflow.PhaseValidation)
	v.Status = workflow.StatusPending
	v.StartedAt = nil
	v.CompletedAt = nil

	e := st.Phase(workflow.PhaseExecution)
	started := now
	e.Status = workflow.StatusInProgress
	e.StartedAt = &started
	e.CompletedAt = nil

	st.CurrentPhase = workflow.PhaseExecution
	st.Loops++
	st.Log(now, workflow.PhaseExecution, workflow.ActionStarted, "loop-back: "+reason)

	if err := o.store.Save(st); err != nil {
		return nil, err
	}
	o.metrics.RecordLoopBack(ctx)
	o.logger.Info("looped back to execution",
		zap.String("workflow", st.Name),
		zap.Int("loops", st.Loops),
		zap.String("reason", reason),
	)
	return st, nil
}

// IsComplete reports whether every active phase is completed or skipped.
func (o *Orchestrator) IsComplete() (bool, error) {
	st, err := o.store.Load()
	if err != nil {
		return false, err
	}
	return st.IsComplete(), nil
}

// Recommendations returns the agents and skills for the current phase.
func (o *Orchestrator) Recommendations() (workflow.Phase, Recommendation, error) {
	st, err := o.store.Load()
	if err != nil {
		return "", Recommendation{}, err
	}
	p := st.CurrentPhase
	return p, Recommendation{Agents: RecommendedAgents(p), Skills: RecommendedSkills(p)}, nil
}

func spanError(span trace.Span, err error) {
	if err != nil && span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
