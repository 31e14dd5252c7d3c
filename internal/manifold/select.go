package manifold

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/fama/internal/reranker"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

const (
	recencyWindowHours = 10.0
	relevantPhaseBonus = 20.0
	openIssueBonus     = 5.0
	decisionBonus      = 3.0
)

// relevantPhases lists the earlier phases each phase leans on most.
var relevantPhases = map[workflow.Phase][]workflow.Phase{
	workflow.PhasePlanning:   nil,
	workflow.PhaseReview:     {workflow.PhasePlanning},
	workflow.PhaseExecution:  {workflow.PhasePlanning, workflow.PhaseReview},
	workflow.PhaseValidation: {workflow.PhaseExecution, workflow.PhaseReview},
	workflow.PhaseCompletion: {workflow.PhaseValidation, workflow.PhaseExecution},
}

// IssueRef is an issue with its origin.
type IssueRef struct {
	Issue
	Phase workflow.Phase `json:"phase"`
	Agent string         `json:"agent"`
}

// DecisionRef is a decision with its origin.
type DecisionRef struct {
	Decision
	Phase workflow.Phase `json:"phase"`
	Agent string         `json:"agent"`
}

// SelectedEntry is an entry picked for a handoff.
type SelectedEntry struct {
	Entry
	Phase workflow.Phase `json:"phase"`
	Score float64        `json:"score"`
}

// Selection is the budgeted handoff for one phase.
type Selection struct {
	Target         workflow.Phase  `json:"target"`
	Entries        []SelectedEntry `json:"entries"`
	ArtifactKeys   []string        `json:"artifactKeys"`
	BlockingIssues []IssueRef      `json:"blockingIssues"`
	KeyDecisions   []DecisionRef   `json:"keyDecisions"`
	TotalTokens    int             `json:"totalTokens"`
	SkippedCount   int             `json:"skippedCount"`
}

// Empty reports whether the selection carries nothing.
func (s Selection) Empty() bool {
	return len(s.Entries) == 0 && len(s.BlockingIssues) == 0 && len(s.KeyDecisions) == 0
}

// SelectForPhase chooses what earlier-phase context target should see.
// Unresolved critical or high issues and hard or irreversible decisions
// are always included. Remaining entries are scored and packed greedily
// so that TotalTokens never exceeds budget. The manifold is not modified.
func (m *Manifold) SelectForPhase(target workflow.Phase, budget int, now time.Time) Selection {
	sel := Selection{
		Target:         target,
		Entries:        []SelectedEntry{},
		ArtifactKeys:   []string{},
		BlockingIssues: []IssueRef{},
		KeyDecisions:   []DecisionRef{},
	}

	var candidates []SelectedEntry
	for _, phase := range precedingPhases(target) {
		for _, e := range m.Phases[phase] {
			for _, is := range e.Issues {
				if !is.Resolved && is.Severity.IsBlocking() {
					sel.BlockingIssues = append(sel.BlockingIssues, IssueRef{Issue: is, Phase: phase, Agent: e.Agent})
				}
			}
			for _, d := range e.Decisions {
				if d.Reversibility.IsKey() {
					sel.KeyDecisions = append(sel.KeyDecisions, DecisionRef{Decision: d, Phase: phase, Agent: e.Agent})
				}
			}
			candidates = append(candidates, SelectedEntry{
				Entry: e,
				Phase: phase,
				Score: scoreEntry(e, phase, target, now),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	packed := reranker.SelectWithinBudget(candidates, budget, func(c SelectedEntry) int {
		return c.EstimatedTokens
	})
	sel.Entries = append(sel.Entries, packed.Selected...)
	sel.TotalTokens = packed.TotalTokens
	sel.SkippedCount = packed.SkippedCount

	seenKeys := make(map[string]bool)
	for _, c := range sel.Entries {
		for _, k := range c.ArtifactKeys {
			if !seenKeys[k] {
				seenKeys[k] = true
				sel.ArtifactKeys = append(sel.ArtifactKeys, k)
			}
		}
	}
	return sel
}

func precedingPhases(target workflow.Phase) []workflow.Phase {
	idx := target.Index()
	if idx <= 0 {
		return nil
	}
	return workflow.AllPhases[:idx]
}

func scoreEntry(e Entry, phase, target workflow.Phase, now time.Time) float64 {
	hours := now.Sub(e.Timestamp).Hours()
	score := math.Max(0, recencyWindowHours-hours)
	for _, p := range relevantPhases[target] {
		if p == phase {
			score += relevantPhaseBonus
			break
		}
	}
	for _, is := range e.Issues {
		if !is.Resolved {
			score += openIssueBonus
		}
	}
	score += decisionBonus * float64(len(e.Decisions))
	return score
}

// FormatForPrompt renders a selection as a prompt section: the pinned
// sections from FormatPinned followed by FormatEntries.
func FormatForPrompt(sel Selection, m *Manifold) string {
	var parts []string
	for _, part := range []string{FormatPinned(sel), FormatEntries(sel, m)} {
		if part != "" {
			parts = append(parts, strings.TrimRight(part, "\n"))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// FormatPinned renders the blocking issues and key decisions. These are
// never dropped to fit a budget, so callers keep them apart from the
// truncatable remainder.
func FormatPinned(sel Selection) string {
	var b strings.Builder

	if len(sel.BlockingIssues) > 0 {
		b.WriteString("## Blocking Issues\n")
		for _, is := range sel.BlockingIssues {
			fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", strings.ToUpper(string(is.Severity)), is.Description, is.Phase.Name(), is.Agent)
		}
		b.WriteString("\n")
	}

	if len(sel.KeyDecisions) > 0 {
		b.WriteString("## Key Decisions\n")
		for _, d := range sel.KeyDecisions {
			fmt.Fprintf(&b, "- %s (%s)", d.Decision.Decision, d.Reversibility)
			if d.Rationale != "" {
				fmt.Fprintf(&b, ": %s", d.Rationale)
			}
			b.WriteString("\n")
		}
	}
	return trimSection(b.String())
}

// FormatEntries renders one line per selected entry, the referenced
// artifact paths and a note on omitted entries.
func FormatEntries(sel Selection, m *Manifold) string {
	var b strings.Builder

	if len(sel.Entries) > 0 {
		b.WriteString("## Prior Phase Context\n")
		for _, e := range sel.Entries {
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", e.Phase, e.Agent, e.Timestamp.Format("2006-01-02"), e.Summary)
		}
		b.WriteString("\n")
	}

	var paths []string
	if m != nil {
		for _, k := range sel.ArtifactKeys {
			if a, ok := m.Artifacts[k]; ok && a.Path != "" {
				paths = append(paths, a.Path)
			}
		}
	}
	if len(paths) > 0 {
		b.WriteString("## Artifacts\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	if sel.SkippedCount > 0 {
		fmt.Fprintf(&b, "_%d earlier entries omitted to fit the context budget._\n", sel.SkippedCount)
	}
	return trimSection(b.String())
}

func trimSection(s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	return s + "\n"
}
