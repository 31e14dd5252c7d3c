package manifold

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManifold() *Manifold {
	return New(WorkflowRef{Name: "auth", Scale: workflow.ScaleMedium, CurrentPhase: workflow.PhasePlanning}, testNow)
}

func TestAddOutput_RegistersAndAppends(t *testing.T) {
	m := newTestManifold()

	entry := m.AddOutput(workflow.PhasePlanning, PhaseOutput{
		Agent:   "planner",
		Summary: "Plan the auth refactor",
		Artifacts: []ArtifactInput{
			{Type: ArtifactFile, Path: "docs/plan.md", Content: "# Plan"},
			{Type: ArtifactReference, Path: "https://example.com/rfc"},
		},
		Decisions: []DecisionInput{{Decision: "Use JWT", Rationale: "stateless", Reversibility: ReversibilityHard}},
		Issues:    []IssueInput{{ID: "iss-1", Description: "Legacy sessions", Severity: SeverityHigh}},
	}, testNow)

	require.Len(t, m.Phases[workflow.PhasePlanning], 1)
	assert.Len(t, m.Artifacts, 2)
	assert.Len(t, entry.ArtifactKeys, 2)
	assert.Equal(t, HashContent("# Plan"), entry.ArtifactKeys[0])
	assert.Equal(t, HashContent("https://example.com/rfc"), entry.ArtifactKeys[1])
	assert.Len(t, entry.ArtifactKeys[0], 16)

	require.Len(t, entry.Decisions, 1)
	assert.NotEmpty(t, entry.Decisions[0].ID)
	require.Len(t, entry.Issues, 1)
	assert.Equal(t, "iss-1", entry.Issues[0].ID)
	assert.False(t, entry.Issues[0].Resolved)
	assert.Greater(t, entry.EstimatedTokens, 0)
	assert.Equal(t, testNow, m.UpdatedAt)
}

func TestAddOutput_DedupAcrossPhasesAndAgents(t *testing.T) {
	m := newTestManifold()
	art := ArtifactInput{Type: ArtifactFile, Path: "internal/auth/jwt.go", Content: "package auth"}

	m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "planner", Artifacts: []ArtifactInput{art}}, testNow)
	later := testNow.Add(time.Hour)
	e := m.AddOutput(workflow.PhaseExecution, PhaseOutput{Agent: "implementer", Artifacts: []ArtifactInput{art, art}}, later)

	require.Len(t, m.Artifacts, 1)
	a := m.Artifacts[HashContent("package auth")]
	assert.Equal(t, workflow.PhasePlanning, a.SourcePhase)
	assert.Equal(t, "planner", a.SourceAgent)
	assert.Equal(t, testNow, a.CreatedAt)
	assert.Len(t, e.ArtifactKeys, 1)
}

func TestAddOutput_ExplicitHashWins(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "a", Artifacts: []ArtifactInput{{Hash: "custom", Content: "x"}}}, testNow)
	m.AddOutput(workflow.PhaseReview, PhaseOutput{Agent: "b", Artifacts: []ArtifactInput{{Hash: "custom", Content: "y"}}}, testNow)

	require.Len(t, m.Artifacts, 1)
	assert.Equal(t, "x", m.Artifacts["custom"].Content)
}

func TestAddOutput_SkipsUnaddressableArtifacts(t *testing.T) {
	m := newTestManifold()
	e := m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "a", Artifacts: []ArtifactInput{{Type: ArtifactTask}}}, testNow)
	assert.Empty(t, m.Artifacts)
	assert.Empty(t, e.ArtifactKeys)
}

func TestAddOutput_TruncatesSummary(t *testing.T) {
	m := newTestManifold()
	e := m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "a", Summary: strings.Repeat("word ", 60)}, testNow)

	assert.LessOrEqual(t, len([]rune(e.Summary)), MaxSummaryLength)
	assert.True(t, strings.HasSuffix(e.Summary, "..."))
}

func TestSelectForPhase_KeyDecisionIgnoresBudget(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{
		Agent:     "planner",
		Summary:   "Chose the storage engine",
		Decisions: []DecisionInput{{ID: "d-1", Decision: "Adopt event sourcing", Rationale: "audit trail", Reversibility: ReversibilityIrreversible}},
	}, testNow)

	sel := m.SelectForPhase(workflow.PhaseExecution, 1, testNow)

	require.Len(t, sel.KeyDecisions, 1)
	assert.Equal(t, "d-1", sel.KeyDecisions[0].ID)
	assert.Equal(t, workflow.PhasePlanning, sel.KeyDecisions[0].Phase)
	assert.Empty(t, sel.Entries)
	assert.Equal(t, 1, sel.SkippedCount)
	assert.Equal(t, 0, sel.TotalTokens)
}

func TestSelectForPhase_BudgetBound(t *testing.T) {
	m := newTestManifold()
	for i := 0; i < 10; i++ {
		m.AddOutput(workflow.PhaseExecution, PhaseOutput{
			Agent:   fmt.Sprintf("agent-%d", i),
			Summary: fmt.Sprintf("Implemented module number %02d with plain words here", i),
		}, testNow.Add(-time.Duration(i)*time.Hour))
	}
	for _, e := range m.Phases[workflow.PhaseExecution] {
		require.InDelta(t, 15, e.EstimatedTokens, 3)
	}

	sel := m.SelectForPhase(workflow.PhaseValidation, 50, testNow)

	assert.Less(t, len(sel.Entries), 10)
	assert.Greater(t, sel.SkippedCount, 0)
	assert.Equal(t, 10, len(sel.Entries)+sel.SkippedCount)
	sum := 0
	for _, e := range sel.Entries {
		sum += e.EstimatedTokens
	}
	assert.LessOrEqual(t, sum, 50)
	assert.Equal(t, sum, sel.TotalTokens)
	assert.Equal(t, "agent-0", sel.Entries[0].Agent, "most recent entry scores highest")
}

func TestSelectForPhase_BlockingIssues(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhaseReview, PhaseOutput{
		Agent:   "reviewer",
		Summary: "Reviewed plan",
		Issues: []IssueInput{
			{ID: "crit", Description: "SQL injection", Severity: SeverityCritical},
			{ID: "low", Description: "Naming", Severity: SeverityLow},
			{ID: "high", Description: "Missing auth", Severity: SeverityHigh},
		},
	}, testNow)
	require.NoError(t, m.ResolveIssue("high", testNow))

	sel := m.SelectForPhase(workflow.PhaseExecution, 0, testNow)

	require.Len(t, sel.BlockingIssues, 1)
	assert.Equal(t, "crit", sel.BlockingIssues[0].ID)
	assert.Empty(t, sel.Entries)
}

func TestSelectForPhase_OnlyPrecedingPhases(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhaseValidation, PhaseOutput{
		Agent:  "tester",
		Issues: []IssueInput{{ID: "v", Description: "flaky", Severity: SeverityCritical}},
	}, testNow)

	sel := m.SelectForPhase(workflow.PhaseExecution, 1000, testNow)
	assert.True(t, sel.Empty())

	sel = m.SelectForPhase(workflow.PhasePlanning, 1000, testNow)
	assert.True(t, sel.Empty())
}

func TestSelectForPhase_RelevanceMap(t *testing.T) {
	m := newTestManifold()
	old := testNow.Add(-48 * time.Hour)
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "planner", Summary: "plan"}, old)
	m.AddOutput(workflow.PhaseExecution, PhaseOutput{Agent: "implementer", Summary: "code"}, old)
	m.AddOutput(workflow.PhaseReview, PhaseOutput{Agent: "reviewer", Summary: "review"}, old)

	sel := m.SelectForPhase(workflow.PhaseValidation, 1000, testNow)
	require.Len(t, sel.Entries, 3)
	assert.Equal(t, 20.0, sel.Entries[0].Score)
	assert.Equal(t, workflow.PhaseReview, sel.Entries[0].Phase)
	assert.Equal(t, workflow.PhaseExecution, sel.Entries[1].Phase)
	assert.Equal(t, workflow.PhasePlanning, sel.Entries[2].Phase)
	assert.Equal(t, 0.0, sel.Entries[2].Score)
}

func TestSelectForPhase_ReadOnly(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "planner", Summary: "plan"}, testNow)
	before := m.UpdatedAt

	_ = m.SelectForPhase(workflow.PhaseReview, 100, testNow.Add(time.Hour))
	assert.Equal(t, before, m.UpdatedAt)
	assert.Len(t, m.Phases[workflow.PhasePlanning], 1)
}

func TestFormatForPrompt(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{
		Agent:     "planner",
		Summary:   "Designed token flow",
		Artifacts: []ArtifactInput{{Type: ArtifactFile, Path: "docs/design.md", Content: "design"}},
		Decisions: []DecisionInput{{Decision: "Use JWT", Rationale: "stateless", Reversibility: ReversibilityHard}},
		Issues:    []IssueInput{{Description: "Key rotation undefined", Severity: SeverityCritical}},
	}, testNow)
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "writer", Summary: strings.Repeat("long ", 19)}, testNow.Add(-20*time.Hour))

	sel := m.SelectForPhase(workflow.PhaseReview, 30, testNow)
	require.Equal(t, 1, sel.SkippedCount)
	out := FormatForPrompt(sel, m)

	issues := strings.Index(out, "## Blocking Issues")
	decisions := strings.Index(out, "## Key Decisions")
	context := strings.Index(out, "## Prior Phase Context")
	artifacts := strings.Index(out, "## Artifacts")
	require.True(t, issues >= 0 && decisions > issues && context > decisions && artifacts > context, out)

	assert.Contains(t, out, "[CRITICAL] Key rotation undefined")
	assert.Contains(t, out, "Use JWT (hard): stateless")
	assert.Contains(t, out, "- [P] planner (2026-03-01): Designed token flow")
	assert.Contains(t, out, "- docs/design.md")
	assert.Contains(t, out, "1 earlier entries omitted")
}

func TestFormatForPrompt_Empty(t *testing.T) {
	assert.Equal(t, "", FormatForPrompt(Selection{}, nil))
}

func TestFormatPinnedAndEntries(t *testing.T) {
	m := newTestManifold()
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{
		Agent:     "planner",
		Summary:   "Designed token flow",
		Decisions: []DecisionInput{{Decision: "Use JWT", Reversibility: ReversibilityIrreversible}},
		Issues:    []IssueInput{{Description: "Key rotation undefined", Severity: SeverityHigh}},
	}, testNow)

	sel := m.SelectForPhase(workflow.PhaseReview, 1000, testNow)
	pinned := FormatPinned(sel)
	entries := FormatEntries(sel, m)

	assert.Contains(t, pinned, "## Blocking Issues")
	assert.Contains(t, pinned, "- Use JWT (irreversible)")
	assert.NotContains(t, pinned, "## Prior Phase Context")
	assert.Contains(t, entries, "Designed token flow")
	assert.NotContains(t, entries, "Use JWT")
	assert.Equal(t, pinned+"\n"+entries, FormatForPrompt(sel, m))

	assert.Empty(t, FormatPinned(Selection{}))
	assert.Empty(t, FormatEntries(Selection{}, nil))
}

func TestMutators(t *testing.T) {
	m := newTestManifold()

	assert.True(t, m.AddConstraint("no new deps", testNow))
	assert.False(t, m.AddConstraint("no new deps", testNow))
	assert.Equal(t, []string{"no new deps"}, m.Globals.ActiveConstraints)

	m.UpdateStackInfo(StackInfo{Languages: []string{"go"}}, testNow)
	require.NotNil(t, m.Globals.ProjectStack)
	assert.Equal(t, []string{"go"}, m.Globals.ProjectStack.Languages)

	m.UpdateCodebaseSummary("monorepo", testNow)
	assert.Equal(t, "monorepo", m.Globals.CodebaseSummary)

	assert.ErrorIs(t, m.ResolveIssue("missing", testNow), ErrIssueNotFound)
}

func TestResolveIssue_AllMatches(t *testing.T) {
	m := newTestManifold()
	issue := IssueInput{ID: "dup", Description: "x", Severity: SeverityHigh}
	m.AddOutput(workflow.PhasePlanning, PhaseOutput{Agent: "a", Issues: []IssueInput{issue}}, testNow)
	m.AddOutput(workflow.PhaseReview, PhaseOutput{Agent: "b", Issues: []IssueInput{issue}}, testNow)

	require.NoError(t, m.ResolveIssue("dup", testNow))
	assert.True(t, m.Phases[workflow.PhasePlanning][0].Issues[0].Resolved)
	assert.True(t, m.Phases[workflow.PhaseReview][0].Issues[0].Resolved)
}
