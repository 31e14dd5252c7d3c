package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print phase changes as the status file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.orch.State()
			if err != nil {
				return withHint(err)
			}
			w, err := workflow.NewWatcher(a.workflows, a.logger.Underlying())
			if err != nil {
				return err
			}
			defer w.Stop()
			if err := w.Start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s (%s), current phase %s\n", st.Name, st.Scale, phaseLabel(st.CurrentPhase))
			last := st
			for {
				select {
				case <-ctx.Done():
					return nil
				case next, ok := <-w.States():
					if !ok {
						return nil
					}
					reportChange(cmd, last, next)
					last = next
				case err, ok := <-w.Errors():
					if !ok {
						return nil
					}
					a.logger.Warn(ctx, "watch error", zap.Error(err))
				}
			}
		},
	}
}

func reportChange(cmd *cobra.Command, prev, next *workflow.State) {
	out := cmd.OutOrStdout()
	switch {
	case prev.Name != next.Name:
		fmt.Fprintf(out, "New workflow %s (%s), current phase %s\n", next.Name, next.Scale, phaseLabel(next.CurrentPhase))
	case next.IsComplete() && !prev.IsComplete():
		fmt.Fprintln(out, "Workflow complete.")
	case prev.CurrentPhase != next.CurrentPhase:
		fmt.Fprintf(out, "%s -> %s\n", phaseLabel(prev.CurrentPhase), phaseLabel(next.CurrentPhase))
	case next.Loops > prev.Loops:
		fmt.Fprintf(out, "Loop-back %d\n", next.Loops)
	}
}
