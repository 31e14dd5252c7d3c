// Package workflow holds the PREVEC workflow state model and its on-disk store.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Phase is one of the five PREVEC phases.
type Phase string

const (
	// PhasePlanning is the first phase, where the approach is written down.
	PhasePlanning Phase = "P"

	// PhaseReview checks the plan before any code is touched.
	PhaseReview Phase = "R"

	// PhaseExecution is where the work happens.
	PhaseExecution Phase = "E"

	// PhaseValidation runs tests, audits and review in parallel.
	PhaseValidation Phase = "V"

	// PhaseCompletion wraps up docs and hand-off.
	PhaseCompletion Phase = "C"
)

// AllPhases lists every phase in PREVEC order.
var AllPhases = []Phase{PhasePlanning, PhaseReview, PhaseExecution, PhaseValidation, PhaseCompletion}

var phaseNames = map[Phase]string{
	PhasePlanning:   "Planning",
	PhaseReview:     "Review",
	PhaseExecution:  "Execution",
	PhaseValidation: "Validation",
	PhaseCompletion: "Completion",
}

// Name returns the human-readable phase name.
func (p Phase) Name() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return string(p)
}

// Index returns the position of p in PREVEC order, or -1.
func (p Phase) Index() int {
	for i, ph := range AllPhases {
		if ph == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p.Index() >= 0 }

// ParsePhase accepts a phase code ("E") or name ("execution").
func ParsePhase(s string) (Phase, error) {
	s = strings.TrimSpace(s)
	for _, p := range AllPhases {
		if strings.EqualFold(s, string(p)) || strings.EqualFold(s, p.Name()) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
}

// Scale sizes a workflow and decides which phases run.
type Scale int

const (
	ScaleQuick Scale = iota
	ScaleSmall
	ScaleMedium
	ScaleLarge
)

var scaleNames = []string{"QUICK", "SMALL", "MEDIUM", "LARGE"}

var activePhases = map[Scale][]Phase{
	ScaleQuick:  {PhaseExecution, PhaseValidation},
	ScaleSmall:  {PhasePlanning, PhaseExecution, PhaseValidation},
	ScaleMedium: {PhasePlanning, PhaseReview, PhaseExecution, PhaseValidation},
	ScaleLarge:  {PhasePlanning, PhaseReview, PhaseExecution, PhaseValidation, PhaseCompletion},
}

func (s Scale) String() string {
	if s < ScaleQuick || s > ScaleLarge {
		return fmt.Sprintf("Scale(%d)", int(s))
	}
	return scaleNames[s]
}

// Valid reports whether s is one of the four known scales.
func (s Scale) Valid() bool { return s >= ScaleQuick && s <= ScaleLarge }

// ParseScale accepts a scale name (case-insensitive) or its ordinal.
func ParseScale(s string) (Scale, error) {
	s = strings.TrimSpace(s)
	for i, n := range scaleNames {
		if strings.EqualFold(s, n) || s == fmt.Sprint(i) {
			return Scale(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScale, s)
}

// ActivePhases returns the phases that run at this scale, in order.
func (s Scale) ActivePhases() []Phase {
	phases := activePhases[s]
	out := make([]Phase, len(phases))
	copy(out, phases)
	return out
}

// IsActive reports whether p runs at this scale.
func (s Scale) IsActive(p Phase) bool {
	for _, ph := range activePhases[s] {
		if ph == p {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s Scale) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScale, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scale) UnmarshalText(text []byte) error {
	v, err := ParseScale(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalYAML writes the scale by name.
func (s Scale) MarshalYAML() (interface{}, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScale, int(s))
	}
	return s.String(), nil
}

// UnmarshalYAML accepts either the name or the ordinal.
func (s *Scale) UnmarshalYAML(node *yaml.Node) error {
	return s.UnmarshalText([]byte(node.Value))
}

// Status is the lifecycle state of a single phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// Action is a history log verb.
type Action string

const (
	ActionStarted   Action = "started"
	ActionCompleted Action = "completed"
	ActionSkipped   Action = "skipped"
)

// PhaseStatus tracks one phase.
type PhaseStatus struct {
	Status      Status     `yaml:"status" json:"status"`
	StartedAt   *time.Time `yaml:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt *time.Time `yaml:"completedAt,omitempty" json:"completedAt,omitempty"`
	Outputs     []string   `yaml:"outputs" json:"outputs"`
}

// HistoryEntry is one line of the append-only workflow log.
type HistoryEntry struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Phase     Phase     `yaml:"phase" json:"phase"`
	Action    Action    `yaml:"action" json:"action"`
	Notes     string    `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Approval records who signed off a phase.
type Approval struct {
	By string    `yaml:"by" json:"by"`
	At time.Time `yaml:"at" json:"at"`
}

// State is the persisted workflow document.
type State struct {
	Name         string                `yaml:"name" json:"name"`
	Scale        Scale                 `yaml:"scale" json:"scale"`
	CurrentPhase Phase                 `yaml:"currentPhase" json:"currentPhase"`
	Phases       map[Phase]*PhaseStatus `yaml:"phases" json:"phases"`
	History      []HistoryEntry        `yaml:"history" json:"history"`
	StartedAt    time.Time             `yaml:"startedAt" json:"startedAt"`
	Approvals    map[Phase]Approval    `yaml:"approvals,omitempty" json:"approvals,omitempty"`
	Loops        int                   `yaml:"loops,omitempty" json:"loops,omitempty"`
}

// NewState builds a freshly initialised workflow: the first active phase is
// in progress, the remaining active phases are pending and everything else
// is skipped.
func NewState(name string, scale Scale, now time.Time) (*State, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	active := scale.ActivePhases()
	if len(active) == 0 {
		return nil, &StateError{Op: "init", Msg: fmt.Sprintf("scale %s has no active phases", scale)}
	}

	st := &State{
		Name:         name,
		Scale:        scale,
		CurrentPhase: active[0],
		Phases:       make(map[Phase]*PhaseStatus, len(AllPhases)),
		StartedAt:    now,
	}
	for _, p := range AllPhases {
		ps := &PhaseStatus{Status: StatusSkipped, Outputs: []string{}}
		if scale.IsActive(p) {
			ps.Status = StatusPending
		}
		st.Phases[p] = ps
	}
	started := now
	st.Phases[active[0]].Status = StatusInProgress
	st.Phases[active[0]].StartedAt = &started
	st.Log(now, active[0], ActionStarted, "")
	return st, nil
}

// Log appends a history entry.
func (s *State) Log(at time.Time, p Phase, action Action, notes string) {
	s.History = append(s.History, HistoryEntry{Timestamp: at, Phase: p, Action: action, Notes: notes})
}

// Phase returns the status record for p, creating an empty one if missing.
func (s *State) Phase(p Phase) *PhaseStatus {
	if s.Phases == nil {
		s.Phases = make(map[Phase]*PhaseStatus)
	}
	ps, ok := s.Phases[p]
	if !ok {
		ps = &PhaseStatus{Status: StatusSkipped, Outputs: []string{}}
		if s.Scale.IsActive(p) {
			ps.Status = StatusPending
		}
		s.Phases[p] = ps
	}
	return ps
}

// NextActivePhase returns the active phase after the current one. ok is
// false when the current phase is the last active phase.
func (s *State) NextActivePhase() (Phase, bool, error) {
	active := s.Scale.ActivePhases()
	if len(active) == 0 {
		return "", false, &StateError{Op: "advance", Msg: fmt.Sprintf("scale %s has no active phases", s.Scale)}
	}
	for i, p := range active {
		if p == s.CurrentPhase {
			if i == len(active)-1 {
				return "", false, nil
			}
			return active[i+1], true, nil
		}
	}
	return "", false, &StateError{Op: "advance", Msg: fmt.Sprintf("current phase %q is not active at scale %s", s.CurrentPhase, s.Scale)}
}

// IsComplete reports whether every active phase is completed or skipped.
func (s *State) IsComplete() bool {
	for _, p := range s.Scale.ActivePhases() {
		ps, ok := s.Phases[p]
		if !ok {
			return false
		}
		if ps.Status != StatusCompleted && ps.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// InProgress returns every phase currently marked in_progress.
func (s *State) InProgress() []Phase {
	var out []Phase
	for _, p := range AllPhases {
		if ps, ok := s.Phases[p]; ok && ps.Status == StatusInProgress {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the structural invariants of a loaded document.
func (s *State) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &StateError{Op: "validate", Msg: "name is required"}
	}
	if !s.Scale.Valid() {
		return &StateError{Op: "validate", Msg: fmt.Sprintf("invalid scale %d", int(s.Scale))}
	}
	if !s.CurrentPhase.Valid() {
		return &StateError{Op: "validate", Msg: fmt.Sprintf("invalid current phase %q", s.CurrentPhase)}
	}
	if len(s.Phases) == 0 {
		return &StateError{Op: "validate", Msg: "phases are required"}
	}
	for p, ps := range s.Phases {
		if !p.Valid() {
			return &StateError{Op: "validate", Msg: fmt.Sprintf("unknown phase %q", p)}
		}
		if ps == nil {
			return &StateError{Op: "validate", Msg: fmt.Sprintf("phase %s has no status", p)}
		}
	}
	if n := len(s.InProgress()); n > 1 {
		return &StateError{Op: "validate", Msg: fmt.Sprintf("%d phases in progress", n)}
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Phases = make(map[Phase]*PhaseStatus, len(s.Phases))
	for p, ps := range s.Phases {
		cp := *ps
		cp.Outputs = append([]string(nil), ps.Outputs...)
		c.Phases[p] = &cp
	}
	c.History = append([]HistoryEntry(nil), s.History...)
	if s.Approvals != nil {
		c.Approvals = make(map[Phase]Approval, len(s.Approvals))
		for p, a := range s.Approvals {
			c.Approvals[p] = a
		}
	}
	return &c
}
