package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Built-in gate type names.
const (
	TypeRequirePlan          = "require_plan"
	TypeRequireApproval      = "require_approval"
	TypeRequireTests         = "require_tests"
	TypeRequireSecurityAudit = "require_security_audit"
)

// Builtins holds the dependencies of the built-in gates.
type Builtins struct {
	fs      afero.Fs
	scanner Scanner
	logger  *zap.Logger
}

// BuiltinOption configures Builtins.
type BuiltinOption func(*Builtins)

// WithFs sets the filesystem used for file reads and the mtime fallback.
func WithFs(fs afero.Fs) BuiltinOption {
	return func(b *Builtins) { b.fs = fs }
}

// WithScanner replaces the secret scanner used by require_security_audit.
func WithScanner(s Scanner) BuiltinOption {
	return func(b *Builtins) { b.scanner = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BuiltinOption {
	return func(b *Builtins) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuiltins returns the built-in gates with the given options.
func NewBuiltins(opts ...BuiltinOption) *Builtins {
	b := &Builtins{fs: afero.NewOsFs(), logger: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	if b.scanner == nil {
		b.scanner = NewGitleaksScanner(b.fs)
	}
	b.logger = b.logger.Named("gates")
	return b
}

// Register adds every built-in gate to r.
func (b *Builtins) Register(r *Registry) error {
	for name, fn := range map[string]Func{
		TypeRequirePlan:          RequirePlan,
		TypeRequireApproval:      RequireApproval,
		TypeRequireTests:         b.RequireTests,
		TypeRequireSecurityAudit: b.RequireSecurityAudit,
	} {
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry with the built-in gates.
func NewDefaultRegistry(opts ...BuiltinOption) (*Registry, error) {
	r := NewRegistry()
	if err := NewBuiltins(opts...).Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RequirePlan passes once Planning is completed. Scales that do not run a
// separate planning phase before review are exempt.
func RequirePlan(_ context.Context, in Input) (Result, error) {
	st := in.State
	if st == nil {
		return Result{}, fmt.Errorf("%w: no state", workflow.ErrInvalidState)
	}
	if st.Scale <= workflow.ScaleSmall || !st.Scale.IsActive(workflow.PhasePlanning) {
		return Result{Passed: true, Reason: fmt.Sprintf("planning not required at scale %s", st.Scale)}, nil
	}
	ps := st.Phase(workflow.PhasePlanning)
	if ps.Status == workflow.StatusCompleted {
		return Result{Passed: true}, nil
	}
	return Result{
		Passed: false,
		Reason: fmt.Sprintf("Planning phase is not completed (status: %s)", ps.Status),
		Hints: []string{
			"finish the plan, then run `fama complete` before advancing",
		},
	}, nil
}

// RequireApproval passes when the phase being left has a recorded approval.
// An "approvers" config list restricts who may approve.
func RequireApproval(_ context.Context, in Input) (Result, error) {
	st := in.State
	if st == nil {
		return Result{}, fmt.Errorf("%w: no state", workflow.ErrInvalidState)
	}
	a, ok := st.Approvals[in.From]
	if !ok || a.By == "" {
		return Result{
			Passed: false,
			Reason: fmt.Sprintf("%s phase has not been approved", in.From.Name()),
			Hints:  []string{fmt.Sprintf("run `fama approve %s` once the output is reviewed", in.From)},
		}, nil
	}
	if approvers := stringSlice(in.Config, "approvers"); len(approvers) > 0 {
		for _, who := range approvers {
			if strings.EqualFold(who, a.By) {
				return Result{Passed: true}, nil
			}
		}
		return Result{
			Passed: false,
			Reason: fmt.Sprintf("%s phase was approved by %q, who is not an allowed approver", in.From.Name(), a.By),
			Hints:  []string{fmt.Sprintf("allowed approvers: %s", strings.Join(approvers, ", "))},
		}, nil
	}
	return Result{Passed: true}, nil
}

func stringSlice(cfg map[string]any, key string) []string {
	raw, ok := cfg[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(v, ",")
	}
	return nil
}

func intValue(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
