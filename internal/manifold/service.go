package manifold

import (
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/tokens"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Service applies each mutation as a load, mutate, save cycle against the
// store. It assumes a single writer per project directory.
type Service struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a manifold service.
func NewService(store *Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Named("manifold")
	return s
}

// Load returns the stored manifold, or nil when none exists yet.
func (s *Service) Load() (*Manifold, error) {
	return s.store.Load()
}

// LoadOrCreate returns the stored manifold or a fresh one for ref. A fresh
// manifold is not saved until the first mutation.
func (s *Service) LoadOrCreate(ref WorkflowRef) (*Manifold, error) {
	m, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = New(ref, s.now())
	}
	return m, nil
}

func (s *Service) mutate(ref WorkflowRef, fn func(m *Manifold, now time.Time) error) (*Manifold, error) {
	m, err := s.LoadOrCreate(ref)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if ref.Name != "" {
		m.UpdateWorkflowState(ref, now)
	}
	if err := fn(m, now); err != nil {
		return nil, err
	}
	if err := s.store.Save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddOutput records an agent's structured output under phase.
func (s *Service) AddOutput(ref WorkflowRef, phase workflow.Phase, out PhaseOutput) (Entry, error) {
	var entry Entry
	_, err := s.mutate(ref, func(m *Manifold, now time.Time) error {
		before := len(m.Artifacts)
		entry = m.AddOutput(phase, out, now)
		s.logger.Debug("output recorded",
			zap.String("phase", string(phase)),
			zap.String("agent", out.Agent),
			zap.Int("artifacts_new", len(m.Artifacts)-before),
			zap.Int("estimated_tokens", entry.EstimatedTokens),
		)
		return nil
	})
	return entry, err
}

// Handoff selects context for target within budget. The rendered pinned
// sections are charged against budget first and entries get what is left.
// With no manifold on disk it returns an empty selection and a nil
// manifold.
func (s *Service) Handoff(target workflow.Phase, budget int) (Selection, *Manifold, error) {
	m, err := s.store.Load()
	if err != nil {
		return Selection{}, nil, err
	}
	if m == nil {
		return (&Manifold{}).SelectForPhase(target, budget, s.now()), nil, nil
	}
	now := s.now()
	sel := m.SelectForPhase(target, budget, now)
	pinned := tokens.EstimateTokens(FormatPinned(sel))
	if pinned > 0 && sel.TotalTokens+pinned > budget {
		sel = m.SelectForPhase(target, max(0, budget-pinned), now)
	}
	s.logger.Debug("handoff selected",
		zap.String("target", string(target)),
		zap.Int("pinned_tokens", pinned),
		zap.Int("entries", len(sel.Entries)),
		zap.Int("skipped", sel.SkippedCount),
		zap.Int("tokens", sel.TotalTokens),
	)
	return sel, m, nil
}

// UpdateStackInfo replaces the stored project stack.
func (s *Service) UpdateStackInfo(ref WorkflowRef, info StackInfo) error {
	_, err := s.mutate(ref, func(m *Manifold, now time.Time) error {
		m.UpdateStackInfo(info, now)
		return nil
	})
	return err
}

// UpdateCodebaseSummary replaces the stored codebase summary.
func (s *Service) UpdateCodebaseSummary(ref WorkflowRef, summary string) error {
	_, err := s.mutate(ref, func(m *Manifold, now time.Time) error {
		m.UpdateCodebaseSummary(summary, now)
		return nil
	})
	return err
}

// AddConstraint adds a constraint if not already present.
func (s *Service) AddConstraint(ref WorkflowRef, c string) error {
	_, err := s.mutate(ref, func(m *Manifold, now time.Time) error {
		m.AddConstraint(c, now)
		return nil
	})
	return err
}

// ResolveIssue marks an issue resolved everywhere it appears.
func (s *Service) ResolveIssue(ref WorkflowRef, id string) error {
	_, err := s.mutate(ref, func(m *Manifold, now time.Time) error {
		return m.ResolveIssue(id, now)
	})
	return err
}
