package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/fama/internal/orchestrator"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// withHint appends the next action a user should take for well-known
// failures.
func withHint(err error) error {
	var ge *orchestrator.GateError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workflow.ErrNoWorkflow):
		return fmt.Errorf("%w\nnext: run `fama init <name>` first", err)
	case errors.Is(err, orchestrator.ErrWorkflowExists):
		return fmt.Errorf("%w\nnext: pass --force to replace it", err)
	case errors.Is(err, orchestrator.ErrWorkflowComplete):
		return fmt.Errorf("%w\nnext: start a new workflow with `fama init --force <name>`", err)
	case errors.As(err, &ge):
		return fmt.Errorf("%w\nnext: satisfy the gate, then run `fama advance` again", err)
	}
	return err
}

func newInitCmd(a *app) *cobra.Command {
	var (
		scale string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Start a new workflow",
		Long: `Start a new workflow in the project directory.

The scale decides which phases run:
  QUICK   E, V
  SMALL   P, E, V
  MEDIUM  P, R, E, V
  LARGE   P, R, E, V, C

Examples:
  fama init auth-refactor --scale LARGE
  fama init hotfix --scale quick --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.cfg.Workflow.DefaultScale
			if scale != "" {
				var err error
				if s, err = workflow.ParseScale(scale); err != nil {
					return err
				}
			}
			create := a.orch.Init
			if force {
				create = a.orch.Reset
			}
			st, err := create(cmd.Context(), args[0], s)
			if err != nil {
				return withHint(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialised workflow %q at scale %s\n", st.Name, st.Scale)
			fmt.Fprintf(out, "Active phases: %s\n", joinPhases(st.Scale.ActivePhases()))
			fmt.Fprintf(out, "Current phase: %s\n", phaseLabel(st.CurrentPhase))
			return nil
		},
	}
	cmd.Flags().StringVarP(&scale, "scale", "s", "", "QUICK, SMALL, MEDIUM or LARGE (default workflow.defaultScale)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing workflow")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the workflow state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.orch.State()
			if err != nil {
				return withHint(err)
			}
			if asJSON {
				return printJSON(cmd, st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")
	return cmd
}

func printStatus(out io.Writer, st *workflow.State) {
	fmt.Fprintf(out, "Workflow: %s (%s)\n", st.Name, st.Scale)
	if st.IsComplete() {
		fmt.Fprintln(out, "Status:   complete")
	} else {
		fmt.Fprintf(out, "Current:  %s\n", phaseLabel(st.CurrentPhase))
	}
	if st.Loops > 0 {
		fmt.Fprintf(out, "Loops:    %d\n", st.Loops)
	}
	fmt.Fprintln(out)
	for _, p := range workflow.AllPhases {
		ps := st.Phases[p]
		if ps == nil {
			continue
		}
		line := fmt.Sprintf("  %-16s %-12s", phaseLabel(p), ps.Status)
		if n := len(ps.Outputs); n > 0 {
			line += fmt.Sprintf(" %d output(s)", n)
		}
		if ap, ok := st.Approvals[p]; ok {
			line += fmt.Sprintf(" approved by %s", ap.By)
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}
	if st.IsComplete() {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Recommended agents: %s\n", strings.Join(orchestrator.RecommendedAgents(st.CurrentPhase), ", "))
	fmt.Fprintf(out, "Recommended skills: %s\n", strings.Join(orchestrator.RecommendedSkills(st.CurrentPhase), ", "))
}

func newAdvanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Complete the current phase and move to the next active one",
		Long: `Complete the current phase and move to the next active one.

Gates configured for the transition run first; if any fails the workflow
is left unchanged and the failing reason is printed. Advancing past the
last active phase completes the workflow.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			res, err := a.orch.Advance(ctx)
			if err != nil {
				return withHint(err)
			}
			out := cmd.OutOrStdout()
			if res.Terminal {
				fmt.Fprintf(out, "Completed %s. Workflow complete.\n", phaseLabel(res.From))
				return nil
			}
			fmt.Fprintf(out, "Advanced %s -> %s\n", phaseLabel(res.From), phaseLabel(res.To))
			return nil
		},
	}
}

func newCompleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Mark the current phase completed without advancing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, _, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			st, err := a.orch.CompleteCurrentPhase(ctx)
			if err != nil {
				return withHint(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed %s\n", phaseLabel(st.CurrentPhase))
			return nil
		},
	}
}

func newApproveCmd(a *app) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "approve [phase]",
		Short: "Record approval of a phase (default: the current one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, st, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			phase := st.CurrentPhase
			if len(args) == 1 {
				if phase, err = workflow.ParsePhase(args[0]); err != nil {
					return err
				}
			}
			if by == "" {
				by = currentUser()
			}
			if _, err := a.orch.Approve(ctx, phase, by); err != nil {
				return withHint(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved %s as %s at %s\n", phaseLabel(phase), by, time.Now().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "approver (default: current user)")
	return cmd
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}

func phaseLabel(p workflow.Phase) string {
	return fmt.Sprintf("%s (%s)", p.Name(), p)
}

func joinPhases(ps []workflow.Phase) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
