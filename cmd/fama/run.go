package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/fama/internal/agent"
	"github.com/fyrsmithlabs/fama/internal/orchestrator"
	"github.com/fyrsmithlabs/fama/internal/prompt"
	"github.com/fyrsmithlabs/fama/internal/quality"
	"github.com/fyrsmithlabs/fama/internal/reranker"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		advance bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run the current phase's agents on a task",
		Long: `Run the current phase's agents on a task.

Each agent gets its playbook, the project skills, the handoff from earlier
phases and the task, trimmed to the scale's token budget. Results are
saved under .fama/runs and added to the manifold. In Validation the
results are scored and the workflow loops back to Execution when the
score is below threshold.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, st, err := a.state(cmd.Context())
			if err != nil {
				return withHint(err)
			}
			if st.IsComplete() {
				return withHint(orchestrator.ErrWorkflowComplete)
			}

			provider := &agent.CommandProvider{Command: a.cfg.Agent.Command, Args: a.cfg.Agent.Args}
			runner, err := agent.NewRunner(provider, a.cfg.Agent.Retry(),
				agent.WithBreakers(a.cfg.Agent.Breakers()),
				agent.WithLogger(a.logger.Underlying()),
			)
			if err != nil {
				return err
			}
			exec := orchestrator.NewExecutor(a.orch, a.manifold, a.runs, runner, a.cfg.Executor(),
				orchestrator.WithLibrary(prompt.NewDirLibrary(a.fs, a.dir)),
				orchestrator.WithReranker(reranker.NewCosineReranker()),
				orchestrator.WithExecutorLogger(a.logger.Underlying()),
			)
			defer exec.Close()

			report, runErr := exec.RunPhase(ctx, strings.Join(args, " "))
			if report != nil {
				if asJSON {
					if err := printJSON(cmd, report); err != nil {
						return err
					}
				} else {
					printReport(cmd.OutOrStdout(), report)
				}
			}
			if runErr != nil {
				return withHint(runErr)
			}
			if !advance || (report.Loop != nil && report.Loop.LoopBack) {
				return nil
			}
			res, err := a.orch.Advance(ctx)
			if err != nil {
				return withHint(err)
			}
			if res.Terminal {
				fmt.Fprintln(cmd.OutOrStdout(), "Workflow complete.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Advanced %s -> %s\n", phaseLabel(res.From), phaseLabel(res.To))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&advance, "advance", false, "advance to the next phase when the run succeeds")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the phase report as JSON")
	return cmd
}

func printReport(out io.Writer, r *orchestrator.PhaseReport) {
	fmt.Fprintf(out, "Phase %s: %d agent(s), %d handoff token(s)\n", phaseLabel(r.Phase), len(r.Results), r.Handoff.TotalTokens)
	for _, res := range r.Results {
		line := fmt.Sprintf("  %-24s %-8s %s", res.Agent, res.Status, res.Duration.Round(time.Millisecond))
		if res.Error != "" {
			line += "  " + res.Error
		}
		fmt.Fprintln(out, line)
	}
	for _, o := range r.Outputs {
		if o.Summary != "" {
			fmt.Fprintf(out, "\n%s\n", o.Summary)
		}
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if r.Quality != nil {
		printScore(out, *r.Quality)
	}
	if r.Loop != nil && r.Loop.LoopBack {
		fmt.Fprintf(out, "Looped back to Execution: %s\n", r.Loop.Reason)
	}
}

func printScore(out io.Writer, s quality.Score) {
	verdict := "FAILED"
	if s.Passed {
		verdict = "passed"
	}
	fmt.Fprintf(out, "\nQuality score: %d (%s)\n", s.Score, verdict)
	for _, f := range s.Breakdown {
		fmt.Fprintf(out, "  %-20s %3d  x%.2f  %s\n", f.Name, f.Score, f.Weight, f.Reason)
	}
	for _, rec := range s.Recommendations {
		fmt.Fprintf(out, "  - %s\n", rec)
	}
}

func newAssessCmd(a *app) *cobra.Command {
	var (
		loops  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "assess <results.json>",
		Short: "Score a set of validation results",
		Long: `Score a set of validation results read from a JSON file holding an
array of agent results, as printed by ` + "`fama run --json`" + ` under "results".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := afero.ReadFile(a.fs, args[0])
			if err != nil {
				return err
			}
			var results []agent.ParallelResult
			if err := json.Unmarshal(data, &results); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			score := quality.Assess(results, a.cfg.Quality)
			decision := quality.ShouldLoopBack(score, loops, a.cfg.Quality)
			if asJSON {
				return printJSON(cmd, struct {
					Score    quality.Score        `json:"score"`
					Decision quality.LoopDecision `json:"decision"`
				}{score, decision})
			}
			out := cmd.OutOrStdout()
			printScore(out, score)
			if decision.LoopBack {
				fmt.Fprintf(out, "Loop back: %s\n", decision.Reason)
			} else if decision.Reason != "" {
				fmt.Fprintf(out, "No loop back: %s\n", decision.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&loops, "loops", 0, "loop-backs already taken")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the score as JSON")
	return cmd
}
