// Package manifold implements the context manifold: a structured,
// deduplicated record of everything each phase produced, queried with a
// token budget when handing context to the next phase.
package manifold

import (
	"time"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Version is the current document format.
const Version = "1.0"

// Reversibility grades how costly a decision is to undo.
type Reversibility string

const (
	ReversibilityEasy         Reversibility = "easy"
	ReversibilityModerate     Reversibility = "moderate"
	ReversibilityHard         Reversibility = "hard"
	ReversibilityIrreversible Reversibility = "irreversible"
)

// IsKey reports whether decisions of this grade are always handed off.
func (r Reversibility) IsKey() bool {
	return r == ReversibilityHard || r == ReversibilityIrreversible
}

// Valid reports whether r is a known grade.
func (r Reversibility) Valid() bool {
	switch r {
	case ReversibilityEasy, ReversibilityModerate, ReversibilityHard, ReversibilityIrreversible:
		return true
	}
	return false
}

// Severity grades an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsBlocking reports whether unresolved issues of this severity are always
// handed off.
func (s Severity) IsBlocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// ArtifactType classifies an artifact.
type ArtifactType string

const (
	ArtifactFile      ArtifactType = "file"
	ArtifactDecision  ArtifactType = "decision"
	ArtifactTask      ArtifactType = "task"
	ArtifactIssue     ArtifactType = "issue"
	ArtifactReference ArtifactType = "reference"
)

// Valid reports whether t is a known artifact type.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactFile, ArtifactDecision, ArtifactTask, ArtifactIssue, ArtifactReference:
		return true
	}
	return false
}

// Decision is a choice recorded by an agent.
type Decision struct {
	ID            string        `json:"id"`
	Decision      string        `json:"decision"`
	Rationale     string        `json:"rationale"`
	Reversibility Reversibility `json:"reversibility"`
}

// Issue is a problem recorded by an agent.
type Issue struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Resolved    bool     `json:"resolved"`
}

// Artifact is one content-addressed output. The registry holds exactly one
// entry per hash.
type Artifact struct {
	Hash        string         `json:"hash"`
	Type        ArtifactType   `json:"type"`
	Path        string         `json:"path,omitempty"`
	Content     string         `json:"content,omitempty"`
	SourcePhase workflow.Phase `json:"sourcePhase"`
	SourceAgent string         `json:"sourceAgent"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Entry is one agent's contribution to a phase. Entries are immutable once
// appended, except that issues may be marked resolved.
type Entry struct {
	Agent           string     `json:"agent"`
	Timestamp       time.Time  `json:"timestamp"`
	Summary         string     `json:"summary"`
	ArtifactKeys    []string   `json:"artifactKeys"`
	Decisions       []Decision `json:"decisions"`
	Issues          []Issue    `json:"issues"`
	EstimatedTokens int        `json:"estimatedTokens"`
}

// StackInfo describes the project's technology stack.
type StackInfo struct {
	Languages  []string `json:"languages,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
	Tools      []string `json:"tools,omitempty"`
}

// WorkflowRef mirrors the parts of the workflow state the manifold keeps.
type WorkflowRef struct {
	Name         string         `json:"name"`
	Scale        workflow.Scale `json:"scale"`
	CurrentPhase workflow.Phase `json:"currentPhase"`
}

// Globals are project-wide facts not tied to a phase.
type Globals struct {
	ProjectStack      *StackInfo  `json:"projectStack,omitempty"`
	CodebaseSummary   string      `json:"codebaseSummary,omitempty"`
	WorkflowState     WorkflowRef `json:"workflowState"`
	ActiveConstraints []string    `json:"activeConstraints"`
}

// Manifold is the persisted document.
type Manifold struct {
	Version      string                     `json:"version"`
	WorkflowName string                     `json:"workflowName"`
	Phases       map[workflow.Phase][]Entry `json:"phases"`
	Globals      Globals                    `json:"globals"`
	Artifacts    map[string]Artifact        `json:"artifacts"`
	UpdatedAt    time.Time                  `json:"updatedAt"`
}

// New returns an empty manifold bound to a workflow.
func New(ref WorkflowRef, now time.Time) *Manifold {
	m := &Manifold{
		Version:      Version,
		WorkflowName: ref.Name,
		Phases:       make(map[workflow.Phase][]Entry, len(workflow.AllPhases)),
		Globals: Globals{
			WorkflowState:     ref,
			ActiveConstraints: []string{},
		},
		Artifacts: make(map[string]Artifact),
		UpdatedAt: now,
	}
	for _, p := range workflow.AllPhases {
		m.Phases[p] = []Entry{}
	}
	return m
}

// RefFromState builds a WorkflowRef from a workflow state.
func RefFromState(st *workflow.State) WorkflowRef {
	return WorkflowRef{Name: st.Name, Scale: st.Scale, CurrentPhase: st.CurrentPhase}
}

// ArtifactInput is an artifact as produced by an agent.
type ArtifactInput struct {
	Type    ArtifactType `json:"type"`
	Path    string       `json:"path,omitempty"`
	Content string       `json:"content,omitempty"`
	Hash    string       `json:"hash,omitempty"`
}

// DecisionInput is a decision as produced by an agent.
type DecisionInput struct {
	ID            string        `json:"id,omitempty"`
	Decision      string        `json:"decision"`
	Rationale     string        `json:"rationale,omitempty"`
	Reversibility Reversibility `json:"reversibility"`
}

// IssueInput is an issue as produced by an agent.
type IssueInput struct {
	ID          string   `json:"id,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// PhaseOutput is the structured result of one agent run.
type PhaseOutput struct {
	Agent     string          `json:"agent"`
	Summary   string          `json:"summary"`
	Artifacts []ArtifactInput `json:"artifacts,omitempty"`
	Decisions []DecisionInput `json:"decisions,omitempty"`
	Issues    []IssueInput    `json:"issues,omitempty"`
}
