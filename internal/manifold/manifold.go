package manifold

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/fama/internal/tokens"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// MaxSummaryLength caps entry summaries, in characters.
const MaxSummaryLength = 100

// HashContent returns the content address used for artifact dedup: the
// first 16 hex characters of the SHA-256 digest.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// ArtifactHash returns the explicit hash when set, else the hash of the
// content, else the hash of the path. ok is false when there is nothing
// to address.
func ArtifactHash(a ArtifactInput) (hash string, ok bool) {
	switch {
	case a.Hash != "":
		return a.Hash, true
	case a.Content != "":
		return HashContent(a.Content), true
	case a.Path != "":
		return HashContent(a.Path), true
	}
	return "", false
}

// RegisterArtifact adds a to the registry unless its hash is already
// present, and returns the hash. Registration is a no-op for known hashes
// regardless of which phase or agent registered them first.
func (m *Manifold) RegisterArtifact(a ArtifactInput, phase workflow.Phase, agent string, now time.Time) (string, bool) {
	hash, ok := ArtifactHash(a)
	if !ok {
		return "", false
	}
	if m.Artifacts == nil {
		m.Artifacts = make(map[string]Artifact)
	}
	if _, exists := m.Artifacts[hash]; exists {
		return hash, true
	}
	typ := a.Type
	if typ == "" {
		typ = ArtifactFile
		if a.Path == "" {
			typ = ArtifactReference
		}
	}
	m.Artifacts[hash] = Artifact{
		Hash:        hash,
		Type:        typ,
		Path:        a.Path,
		Content:     a.Content,
		SourcePhase: phase,
		SourceAgent: agent,
		CreatedAt:   now,
	}
	return hash, true
}

// AddOutput registers the output's artifacts, converts its decisions and
// issues (issues start unresolved), and appends a new entry to phase.
func (m *Manifold) AddOutput(phase workflow.Phase, out PhaseOutput, now time.Time) Entry {
	entry := Entry{
		Agent:        out.Agent,
		Timestamp:    now,
		Summary:      truncateSummary(out.Summary),
		ArtifactKeys: []string{},
		Decisions:    make([]Decision, 0, len(out.Decisions)),
		Issues:       make([]Issue, 0, len(out.Issues)),
	}

	seen := make(map[string]bool)
	for _, a := range out.Artifacts {
		hash, ok := m.RegisterArtifact(a, phase, out.Agent, now)
		if !ok || seen[hash] {
			continue
		}
		seen[hash] = true
		entry.ArtifactKeys = append(entry.ArtifactKeys, hash)
	}

	for _, d := range out.Decisions {
		rev := d.Reversibility
		if rev == "" {
			rev = ReversibilityModerate
		}
		entry.Decisions = append(entry.Decisions, Decision{
			ID:            idOrNew(d.ID),
			Decision:      d.Decision,
			Rationale:     d.Rationale,
			Reversibility: rev,
		})
	}
	for _, is := range out.Issues {
		sev := is.Severity
		if sev == "" {
			sev = SeverityMedium
		}
		entry.Issues = append(entry.Issues, Issue{
			ID:          idOrNew(is.ID),
			Description: is.Description,
			Severity:    sev,
		})
	}
	entry.EstimatedTokens = estimateEntry(entry)

	if m.Phases == nil {
		m.Phases = make(map[workflow.Phase][]Entry)
	}
	m.Phases[phase] = append(m.Phases[phase], entry)
	m.UpdatedAt = now
	return entry
}

func estimateEntry(e Entry) int {
	var b strings.Builder
	b.WriteString(e.Summary)
	for _, d := range e.Decisions {
		b.WriteString("\n")
		b.WriteString(d.Decision)
		b.WriteString(" ")
		b.WriteString(d.Rationale)
	}
	for _, is := range e.Issues {
		b.WriteString("\n")
		b.WriteString(is.Description)
	}
	return tokens.EstimateTokens(b.String())
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxSummaryLength {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:MaxSummaryLength-3])) + "..."
}

func idOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// UpdateStackInfo replaces the project stack.
func (m *Manifold) UpdateStackInfo(info StackInfo, now time.Time) {
	m.Globals.ProjectStack = &info
	m.UpdatedAt = now
}

// UpdateCodebaseSummary replaces the codebase summary.
func (m *Manifold) UpdateCodebaseSummary(summary string, now time.Time) {
	m.Globals.CodebaseSummary = summary
	m.UpdatedAt = now
}

// UpdateWorkflowState refreshes the mirrored workflow fields.
func (m *Manifold) UpdateWorkflowState(ref WorkflowRef, now time.Time) {
	m.Globals.WorkflowState = ref
	m.WorkflowName = ref.Name
	m.UpdatedAt = now
}

// AddConstraint appends c unless it is already present. It reports whether
// the constraint was added.
func (m *Manifold) AddConstraint(c string, now time.Time) bool {
	for _, existing := range m.Globals.ActiveConstraints {
		if existing == c {
			return false
		}
	}
	m.Globals.ActiveConstraints = append(m.Globals.ActiveConstraints, c)
	m.UpdatedAt = now
	return true
}

// ResolveIssue marks every issue with the given id resolved, across all
// phases. It returns ErrIssueNotFound when nothing matched.
func (m *Manifold) ResolveIssue(id string, now time.Time) error {
	found := false
	for phase, entries := range m.Phases {
		for i := range entries {
			for j := range entries[i].Issues {
				if entries[i].Issues[j].ID == id {
					entries[i].Issues[j].Resolved = true
					found = true
				}
			}
		}
		m.Phases[phase] = entries
	}
	if !found {
		return ErrIssueNotFound
	}
	m.UpdatedAt = now
	return nil
}

// EntryCount returns the number of entries across all phases.
func (m *Manifold) EntryCount() int {
	n := 0
	for _, entries := range m.Phases {
		n += len(entries)
	}
	return n
}
