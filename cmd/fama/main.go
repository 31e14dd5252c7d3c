// Package main implements fama, the PREVEC workflow orchestrator CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fama/internal/config"
	"github.com/fyrsmithlabs/fama/internal/logging"
	"github.com/fyrsmithlabs/fama/internal/manifold"
	"github.com/fyrsmithlabs/fama/internal/orchestrator"
	"github.com/fyrsmithlabs/fama/internal/runs"
	"github.com/fyrsmithlabs/fama/internal/telemetry"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs. It is built in the root's
// PersistentPreRunE and torn down in PersistentPostRunE.
type app struct {
	dir      string
	cfgPath  string
	logLevel string
	fs       afero.Fs

	cfg       *config.Config
	logger    *logging.Logger
	tel       *telemetry.Telemetry
	metrics   *orchestrator.Metrics
	workflows *workflow.Store
	orch      *orchestrator.Orchestrator
	manifold  *manifold.Service
	runs      *runs.Store
}

func newRootCmd() *cobra.Command {
	a := &app{fs: afero.NewOsFs()}

	root := &cobra.Command{
		Use:   "fama",
		Short: "Drive a PREVEC (Planning, Review, Execution, Validation, Completion) workflow",
		Long: `fama runs a project through the PREVEC phases, gating each transition,
handing a budgeted slice of earlier phases' output to the next one, and
scoring Validation results to decide whether to loop back to Execution.

State lives under .fama/ in the project directory:
  .fama/workflow/status.yaml    workflow state
  .fama/context-manifold.json   phase outputs, decisions, issues, artifacts
  .fama/runs/*.json             raw agent run records
  .fama/config.yaml             configuration (optional)`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipSetup"] == "true" {
				return nil
			}
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.dir, "dir", "C", ".", "project directory")
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default <dir>/.fama/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(a),
		newStatusCmd(a),
		newAdvanceCmd(a),
		newCompleteCmd(a),
		newApproveCmd(a),
		newHandoffCmd(a),
		newManifoldCmd(a),
		newRunCmd(a),
		newAssessCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dir, err := filepath.Abs(a.dir)
	if err != nil {
		return fmt.Errorf("resolving project directory: %w", err)
	}
	a.dir = dir

	if a.cfgPath != "" {
		a.cfg, err = config.LoadFile(a.fs, a.cfgPath)
	} else {
		a.cfg, err = config.Load(a.fs, a.dir)
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		lvl, err := logging.LevelFromString(a.logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
		a.cfg.Logging.Level = lvl
	}

	a.tel, err = telemetry.New(ctx, &a.cfg.Telemetry, nil)
	if err != nil {
		return err
	}
	a.logger, err = logging.NewLogger(&a.cfg.Logging, a.tel.LoggerProvider())
	if err != nil {
		return err
	}
	zl := a.logger.Underlying()

	a.metrics, err = orchestrator.NewMetrics(a.tel.Meter(orchestrator.InstrumentationName))
	if err != nil {
		zl.Warn("orchestrator metrics disabled", zap.Error(err))
		a.metrics = nil
	}

	a.workflows = workflow.NewStore(a.fs, a.dir)
	a.orch, err = orchestrator.New(a.workflows, a.dir,
		orchestrator.WithGates(a.cfg.Workflow.Gates),
		orchestrator.WithLogger(zl),
		orchestrator.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.manifold = manifold.NewService(manifold.NewStore(a.fs, a.dir), manifold.WithLogger(zl))
	a.runs = runs.NewStore(a.fs, a.dir)
	return nil
}

func (a *app) close() error {
	if a.tel != nil {
		if err := a.tel.Shutdown(context.Background()); err != nil && a.logger != nil {
			a.logger.Warn(context.Background(), "telemetry shutdown", zap.Error(err))
		}
	}
	if a.logger != nil {
		return a.logger.Sync()
	}
	return nil
}

// state loads the workflow and tags ctx with it for logging.
func (a *app) state(ctx context.Context) (context.Context, *workflow.State, error) {
	st, err := a.orch.State()
	if err != nil {
		return ctx, nil, err
	}
	ctx = logging.WithWorkflow(ctx, st.Name)
	ctx = logging.WithPhase(ctx, string(st.CurrentPhase))
	return ctx, st, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, a.cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the fama version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipSetup": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "fama %s\n", version)
			return nil
		},
	}
}
