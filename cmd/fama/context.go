package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/fama/internal/manifold"
	"github.com/fyrsmithlabs/fama/internal/tokens"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

func newHandoffCmd(a *app) *cobra.Command {
	var (
		phase  string
		budget int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Print the context a phase would receive from earlier phases",
		Long: `Print the context a phase would receive from earlier phases.

Blocking issues and key decisions are always included. Other entries are
ranked and packed into the token budget of the workflow's scale.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, st, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			target := st.CurrentPhase
			if phase != "" {
				if target, err = workflow.ParsePhase(phase); err != nil {
					return err
				}
			}
			if budget <= 0 {
				budget = a.cfg.Budgets.Profiles().For(st.Scale).Context
			}

			sel, m, err := a.manifold.Handoff(target, budget)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, sel)
			}
			out := cmd.OutOrStdout()
			if m == nil {
				legacy, err := a.runs.LoadLegacyContext(st, target)
				if err != nil {
					return err
				}
				fmt.Fprint(out, tokens.TruncateToTokenBudget(legacy, budget))
				return nil
			}
			text := manifold.FormatForPrompt(sel, m)
			if text == "" {
				fmt.Fprintf(out, "No prior context for %s.\n", phaseLabel(target))
				return nil
			}
			fmt.Fprint(out, text)
			fmt.Fprintf(out, "\n(%d tokens of %d)\n", sel.TotalTokens, budget)
			return nil
		},
	}
	cmd.Flags().StringVarP(&phase, "phase", "p", "", "target phase (default: current)")
	cmd.Flags().IntVarP(&budget, "budget", "b", 0, "token budget (default: the scale's context budget)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the selection as JSON")
	return cmd
}

func newManifoldCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifold",
		Short: "Inspect and edit the shared context manifold",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the manifold as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := a.manifold.Load()
				if err != nil {
					return err
				}
				if m == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No manifold yet.")
					return nil
				}
				return printJSON(cmd, m)
			},
		},
		manifoldEdit(a, "constraint <text>", "Add a project constraint", func(ref manifold.WorkflowRef, arg string) error {
			return a.manifold.AddConstraint(ref, arg)
		}),
		manifoldEdit(a, "resolve <issue-id>", "Mark an issue resolved", func(ref manifold.WorkflowRef, arg string) error {
			return a.manifold.ResolveIssue(ref, arg)
		}),
		manifoldEdit(a, "summary <text>", "Replace the codebase summary", func(ref manifold.WorkflowRef, arg string) error {
			return a.manifold.UpdateCodebaseSummary(ref, arg)
		}),
		newStackCmd(a),
	)
	return cmd
}

func manifoldEdit(a *app, use, short string, fn func(manifold.WorkflowRef, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			if err := fn(manifold.RefFromState(st), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Manifold updated.")
			return nil
		},
	}
}

func newStackCmd(a *app) *cobra.Command {
	var info manifold.StackInfo
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Replace the project stack description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, st, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			if err := a.manifold.UpdateStackInfo(manifold.RefFromState(st), info); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Manifold updated.")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&info.Languages, "language", nil, "language (repeatable)")
	cmd.Flags().StringSliceVar(&info.Frameworks, "framework", nil, "framework (repeatable)")
	cmd.Flags().StringSliceVar(&info.Tools, "tool", nil, "tool (repeatable)")
	return cmd
}
