package gates

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

const defaultMaxScanBytes = 1 << 20

// sinceFor is when the phase being left started, falling back to the
// workflow start.
func sinceFor(st *workflow.State, p workflow.Phase) time.Time {
	if ps, ok := st.Phases[p]; ok && ps.StartedAt != nil {
		return *ps.StartedAt
	}
	return st.StartedAt
}

// RequireTests passes when at least one test file changed since the phase
// being left started. A "patterns" config list overrides the defaults.
func (b *Builtins) RequireTests(ctx context.Context, in Input) (Result, error) {
	if in.State == nil {
		return Result{}, fmt.Errorf("%w: no state", workflow.ErrInvalidState)
	}
	since := sinceFor(in.State, in.From)
	files, source, err := changedFiles(ctx, b.fs, in.ProjectDir, since)
	if err != nil {
		return Result{}, fmt.Errorf("listing changed files: %w", err)
	}

	patterns := stringSlice(in.Config, "patterns")
	if len(patterns) == 0 {
		patterns = defaultTestPatterns
	}

	var tests []string
	for _, f := range files {
		if isTestFile(f, patterns) {
			tests = append(tests, f)
		}
	}
	b.logger.Debug("require_tests",
		zap.String("source", string(source)),
		zap.Int("changed", len(files)),
		zap.Int("tests", len(tests)),
	)

	if len(tests) == 0 {
		return Result{
			Passed: false,
			Reason: fmt.Sprintf("no test files changed since the %s phase started", in.From.Name()),
			Hints: []string{
				"add or update tests covering the change",
				fmt.Sprintf("test file patterns: %v", patterns),
			},
		}, nil
	}
	return Result{Passed: true, Reason: fmt.Sprintf("%d test files changed", len(tests))}, nil
}

// RequireSecurityAudit scans files changed since the phase being left
// started and fails on any detected secret. "maxFileBytes" caps how much
// of each file is read.
func (b *Builtins) RequireSecurityAudit(ctx context.Context, in Input) (Result, error) {
	if in.State == nil {
		return Result{}, fmt.Errorf("%w: no state", workflow.ErrInvalidState)
	}
	since := sinceFor(in.State, in.From)
	files, _, err := changedFiles(ctx, b.fs, in.ProjectDir, since)
	if err != nil {
		return Result{}, fmt.Errorf("listing changed files: %w", err)
	}

	findings, err := scanFiles(ctx, b.fs, b.scanner, in.ProjectDir, files, intValue(in.Config, "maxFileBytes", defaultMaxScanBytes))
	if err != nil {
		return Result{}, err
	}
	if len(findings) == 0 {
		return Result{Passed: true, Reason: fmt.Sprintf("%d changed files scanned, no secrets found", len(files))}, nil
	}

	hints := make([]string, 0, len(findings)+1)
	for _, f := range findings {
		hints = append(hints, fmt.Sprintf("%s:%d %s", f.File, f.Line, f.RuleID))
	}
	hints = append(hints, "remove the secrets or allowlist false positives in .gitleaks.toml")
	return Result{
		Passed: false,
		Reason: fmt.Sprintf("security audit found %d potential secrets in changed files", len(findings)),
		Hints:  hints,
	}, nil
}
