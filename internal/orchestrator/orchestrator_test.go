package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/fama/internal/gates"
	"github.com/fyrsmithlabs/fama/internal/telemetry"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

type fixture struct {
	fs    afero.Fs
	store *workflow.Store
	orch  *Orchestrator
	now   time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		fs:  afero.NewMemMapFs(),
		now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.store = workflow.NewStore(f.fs, "/proj")
	clock := WithClock(func() time.Time {
		f.now = f.now.Add(time.Minute)
		return f.now
	})
	o, err := New(f.store, "/proj", append([]Option{clock}, opts...)...)
	require.NoError(t, err)
	f.orch = o
	return f
}

func (f *fixture) load(t *testing.T) *workflow.State {
	t.Helper()
	st, err := f.store.Load()
	require.NoError(t, err)
	return st
}

func TestInit_Medium(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.Init(ctx, "x", workflow.ScaleMedium)
	require.NoError(t, err)

	assert.Equal(t, workflow.PhasePlanning, st.CurrentPhase)
	assert.Equal(t, workflow.StatusSkipped, st.Phases[workflow.PhaseCompletion].Status)
	assert.Equal(t, workflow.StatusInProgress, st.Phases[workflow.PhasePlanning].Status)
	assert.NotNil(t, st.Phases[workflow.PhasePlanning].StartedAt)
	for _, p := range []workflow.Phase{workflow.PhaseReview, workflow.PhaseExecution, workflow.PhaseValidation} {
		assert.Equal(t, workflow.StatusPending, st.Phases[p].Status, p)
	}
	require.Len(t, st.History, 1)
	assert.Equal(t, workflow.ActionStarted, st.History[0].Action)

	assert.Equal(t, st.CurrentPhase, f.load(t).CurrentPhase)

	_, err = f.orch.Init(ctx, "y", workflow.ScaleSmall)
	assert.ErrorIs(t, err, ErrWorkflowExists)

	st, err = f.orch.Reset(ctx, "y", workflow.ScaleQuick)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseExecution, st.CurrentPhase)
}

func TestInit_ActivePhasesPerScale(t *testing.T) {
	want := map[workflow.Scale][]workflow.Phase{
		workflow.ScaleQuick:  {workflow.PhaseExecution, workflow.PhaseValidation},
		workflow.ScaleSmall:  {workflow.PhasePlanning, workflow.PhaseExecution, workflow.PhaseValidation},
		workflow.ScaleMedium: {workflow.PhasePlanning, workflow.PhaseReview, workflow.PhaseExecution, workflow.PhaseValidation},
		workflow.ScaleLarge:  workflow.AllPhases,
	}
	for scale, active := range want {
		f := newFixture(t)
		st, err := f.orch.Init(context.Background(), "w", scale)
		require.NoError(t, err)

		var got []workflow.Phase
		for _, p := range workflow.AllPhases {
			if st.Phases[p].Status != workflow.StatusSkipped {
				got = append(got, p)
			}
		}
		assert.Equal(t, active, got, scale.String())
	}
}

func TestInit_InvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Init(context.Background(), "x", workflow.Scale(9))
	assert.ErrorIs(t, err, workflow.ErrUnknownScale)
	_, err = f.orch.Init(context.Background(), " ", workflow.ScaleQuick)
	assert.ErrorIs(t, err, workflow.ErrEmptyName)
}

func TestAdvance_ToTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "big", workflow.ScaleLarge)
	require.NoError(t, err)

	phases := workflow.AllPhases
	for i := 0; i < len(phases)-1; i++ {
		res, err := f.orch.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, AdvanceResult{From: phases[i], To: phases[i+1]}, res)

		st := f.load(t)
		assert.Equal(t, workflow.StatusCompleted, st.Phases[phases[i]].Status)
		assert.NotNil(t, st.Phases[phases[i]].CompletedAt)
		assert.Equal(t, workflow.StatusInProgress, st.Phases[phases[i+1]].Status)
		assert.Len(t, st.InProgress(), 1)
	}

	complete, err := f.orch.IsComplete()
	require.NoError(t, err)
	assert.False(t, complete)

	res, err := f.orch.Advance(ctx)
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Equal(t, workflow.PhaseCompletion, res.From)

	complete, err = f.orch.IsComplete()
	require.NoError(t, err)
	assert.True(t, complete)

	st := f.load(t)
	assert.Empty(t, st.InProgress())
	assert.Len(t, st.History, 1+4*2+1)

	res, err = f.orch.Advance(ctx)
	require.NoError(t, err)
	assert.True(t, res.Terminal)
	assert.Len(t, f.load(t).History, 10, "repeated terminal advance logs nothing")
}

func TestAdvance_NoWorkflow(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Advance(context.Background())
	assert.ErrorIs(t, err, workflow.ErrNoWorkflow)
}

func TestAdvance_DynamicRequirePlan(t *testing.T) {
	f := newFixture(t, WithGates(GatesConfig{
		Gates: []gates.Definition{{Type: gates.TypeRequirePlan, Phases: []string{"P->R"}}},
	}))
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "x", workflow.ScaleMedium)
	require.NoError(t, err)
	before := f.load(t)

	_, err = f.orch.Advance(ctx)
	require.ErrorIs(t, err, ErrGateFailed)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, workflow.PhasePlanning, gerr.From)
	assert.Equal(t, workflow.PhaseReview, gerr.To)
	assert.Contains(t, gerr.Reason, "Planning phase is not completed")
	assert.NotEmpty(t, gerr.Hints)

	assert.Equal(t, before, f.load(t), "failed gate leaves state unchanged")

	st, err := f.orch.CompleteCurrentPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhasePlanning, st.CurrentPhase)
	assert.Equal(t, workflow.StatusCompleted, st.Phases[workflow.PhasePlanning].Status)

	res, err := f.orch.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseReview, res.To)

	// Completed by CompleteCurrentPhase: Advance must not log it twice.
	completions := 0
	for _, h := range f.load(t).History {
		if h.Phase == workflow.PhasePlanning && h.Action == workflow.ActionCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
}

func TestAdvance_BuiltinRequirePlanSwitch(t *testing.T) {
	f := newFixture(t, WithGates(GatesConfig{RequirePlan: true}))
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "x", workflow.ScaleLarge)
	require.NoError(t, err)

	_, err = f.orch.Advance(ctx)
	assert.ErrorIs(t, err, ErrGateFailed)

	// SMALL skips Review, so P->E is not guarded by require_plan.
	f = newFixture(t, WithGates(GatesConfig{RequirePlan: true}))
	_, err = f.orch.Init(ctx, "x", workflow.ScaleSmall)
	require.NoError(t, err)
	res, err := f.orch.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseExecution, res.To)
}

func TestAdvance_RequireApproval(t *testing.T) {
	f := newFixture(t, WithGates(GatesConfig{RequireApproval: true}))
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "x", workflow.ScaleQuick)
	require.NoError(t, err)

	_, err = f.orch.Advance(ctx)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Reason, "Execution phase has not been approved")

	st, err := f.orch.Approve(ctx, workflow.PhaseExecution, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Approvals[workflow.PhaseExecution].By)

	res, err := f.orch.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseValidation, res.To)

	_, err = f.orch.Approve(ctx, workflow.PhaseValidation, "")
	assert.Error(t, err)
}

func TestAdvance_UnknownGateType(t *testing.T) {
	f := newFixture(t, WithGates(GatesConfig{
		Gates: []gates.Definition{
			{Type: "require_coffee", Phases: []string{"E->V"}},
			{Type: gates.TypeRequirePlan, Phases: []string{"P->R"}},
		},
	}))
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "x", workflow.ScaleQuick)
	require.NoError(t, err)

	_, err = f.orch.Advance(ctx)
	var gerr *GateError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Reason, `unknown gate type "require_coffee"`)
	require.Len(t, gerr.Results, 1, "the P->R gate is inert for E->V")
}

func TestLoopBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "x", workflow.ScaleQuick)
	require.NoError(t, err)

	_, err = f.orch.LoopBack(ctx, "too early")
	assert.ErrorIs(t, err, ErrNotInValidation)

	_, err = f.orch.Advance(ctx)
	require.NoError(t, err)

	st, err := f.orch.LoopBack(ctx, "score 40 below 70")
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseExecution, st.CurrentPhase)
	assert.Equal(t, workflow.StatusInProgress, st.Phases[workflow.PhaseExecution].Status)
	assert.Equal(t, workflow.StatusPending, st.Phases[workflow.PhaseValidation].Status)
	assert.Equal(t, 1, st.Loops)
	last := st.History[len(st.History)-1]
	assert.Equal(t, "loop-back: score 40 below 70", last.Notes)

	persisted := f.load(t)
	assert.Equal(t, 1, persisted.Loops)
	assert.Len(t, persisted.InProgress(), 1)
}

func TestAppendOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.orch.Init(ctx, "x", workflow.ScaleSmall)
	require.NoError(t, err)

	require.NoError(t, f.orch.AppendOutput(ctx, workflow.PhasePlanning, "run-1"))
	require.NoError(t, f.orch.AppendOutput(ctx, workflow.PhasePlanning, "run-2"))
	assert.Equal(t, []string{"run-1", "run-2"}, f.load(t).Phases[workflow.PhasePlanning].Outputs)

	assert.ErrorIs(t, f.orch.AppendOutput(ctx, "Z", "run-3"), workflow.ErrUnknownPhase)
}

func TestRecommendations(t *testing.T) {
	assert.Equal(t, []string{"test-writer", "security-auditor", "code-reviewer"}, RecommendedAgents(workflow.PhaseValidation))
	assert.Contains(t, RecommendedSkills(workflow.PhaseExecution), "tdd")
	assert.Empty(t, RecommendedAgents("Z"))

	agents := RecommendedAgents(workflow.PhasePlanning)
	agents[0] = "mutated"
	assert.Equal(t, "planner", RecommendedAgents(workflow.PhasePlanning)[0])

	f := newFixture(t)
	_, err := f.orch.Init(context.Background(), "x", workflow.ScaleQuick)
	require.NoError(t, err)
	p, rec, err := f.orch.Recommendations()
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseExecution, p)
	assert.Equal(t, []string{"implementer"}, rec.Agents)
}

func TestMetrics_Transitions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	f := newFixture(t, WithMetrics(m), WithGates(GatesConfig{RequireApproval: true}))
	ctx := context.Background()
	_, err = f.orch.Init(ctx, "x", workflow.ScaleQuick)
	require.NoError(t, err)

	_, err = f.orch.Advance(ctx)
	require.Error(t, err)
	_, err = f.orch.Approve(ctx, workflow.PhaseExecution, "bob")
	require.NoError(t, err)
	_, err = f.orch.Advance(ctx)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if s, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["fama.workflow.transitions.total"])
	assert.Equal(t, int64(1), sums["fama.workflow.gate_failures.total"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition(context.Background(), workflow.PhasePlanning, workflow.PhaseReview)
	m.RecordLoopBack(context.Background())

	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.True(t, m.initialized)
}

func TestAdvance_Traced(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tt.TracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	m, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)
	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()
	_, err = f.orch.Init(ctx, "traced", workflow.ScaleSmall)
	require.NoError(t, err)

	_, err = f.orch.Advance(ctx)
	require.NoError(t, err)

	tt.AssertSpanExists(t, "orchestrator.Advance")
	tt.AssertSpanAttribute(t, "orchestrator.Advance", "from", "P")
	tt.AssertSpanAttribute(t, "orchestrator.Advance", "to", "E")

	rm, err := tt.Collect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rm.ScopeMetrics)
}
