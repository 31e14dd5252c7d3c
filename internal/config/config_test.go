package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/fama/internal/gates"
	"github.com/fyrsmithlabs/fama/internal/quality"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

const projectDir = "/project"

func writeConfig(t *testing.T, fsys afero.Fs, body string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(projectDir, File), []byte(body), 0o644))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), projectDir)
	require.NoError(t, err)

	assert.Equal(t, workflow.ScaleMedium, cfg.Workflow.DefaultScale)
	assert.False(t, cfg.Workflow.Gates.RequirePlan)
	assert.Equal(t, quality.DefaultConfig(), cfg.Quality)
	assert.Equal(t, 10*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, 5, cfg.Agent.Breaker.Threshold)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.False(t, cfg.Output.Strict)
	assert.Equal(t, zapcore.WarnLevel, cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_File(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeConfig(t, fsys, `
workflow:
  defaultScale: LARGE
  gates:
    requirePlan: true
    requireApproval: false
    gates:
      - type: require_tests
        phases: ["E->V"]
      - type: require_security_audit
        phases: ["V->C"]
        config:
          paths: ["internal"]
budgets:
  large:
    context: 20000
  quick:
    skills: 500
quality:
  minimumScore: 80
  maxLoops: 3
  weights:
    review: 0.5
agent:
  command: my-agent
  args: ["--json"]
  timeout: 2m
  baseDelay: 500ms
  breaker:
    threshold: 3
    cooldown: 1m
output:
  strict: true
logging:
  level: debug
  format: json
telemetry:
  enabled: true
  endpoint: localhost:4317
  exportInterval: 30s
`)

	cfg, err := Load(fsys, projectDir)
	require.NoError(t, err)

	assert.Equal(t, workflow.ScaleLarge, cfg.Workflow.DefaultScale)
	assert.True(t, cfg.Workflow.Gates.RequirePlan)
	require.Len(t, cfg.Workflow.Gates.Gates, 2)
	assert.Equal(t, gates.Definition{Type: gates.TypeRequireTests, Phases: []string{"E->V"}}, cfg.Workflow.Gates.Gates[0])
	assert.Equal(t, []any{"internal"}, cfg.Workflow.Gates.Gates[1].Config["paths"])

	assert.Equal(t, 20000, cfg.Budgets.Large.Context)
	assert.Equal(t, 500, cfg.Budgets.Quick.Skills)
	profiles := cfg.Budgets.Profiles()
	assert.Equal(t, 20000, profiles.For(workflow.ScaleLarge).Context)
	assert.Equal(t, 500, profiles.For(workflow.ScaleQuick).Skills)

	assert.Equal(t, 80, cfg.Quality.MinimumScore)
	assert.Equal(t, 3, cfg.Quality.MaxLoops)
	assert.Equal(t, 0.5, cfg.Quality.Weights.Review)
	assert.Equal(t, 0.30, cfg.Quality.Weights.Completion, "unset weights keep their defaults")
	assert.True(t, cfg.Quality.LoopBackEnabled)

	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.Equal(t, []string{"--json"}, cfg.Agent.Args)
	retry := cfg.Agent.Retry()
	assert.Equal(t, 2*time.Minute, retry.Timeout)
	assert.Equal(t, 500*time.Millisecond, retry.BaseDelay)
	assert.Equal(t, 3, retry.MaxRetries)
	assert.Equal(t, 3, cfg.Agent.Breaker.Threshold)
	assert.Equal(t, time.Minute, cfg.Agent.Breaker.Cooldown.Duration())
	assert.NotNil(t, cfg.Agent.Breakers())

	assert.True(t, cfg.Output.Strict)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.ExportInterval)

	ex := cfg.Executor()
	assert.True(t, ex.Strict)
	assert.Equal(t, 80, ex.Quality.MinimumScore)
	assert.Equal(t, 20000, ex.Budgets.For(workflow.ScaleLarge).Context)
}

func TestLoad_EnvOverrides(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeConfig(t, fsys, `
workflow:
  defaultScale: LARGE
quality:
  minimumScore: 80
`)
	t.Setenv("FAMA_WORKFLOW_DEFAULTSCALE", "quick")
	t.Setenv("FAMA_WORKFLOW_GATES_REQUIREAPPROVAL", "true")
	t.Setenv("FAMA_QUALITY_MINIMUMSCORE", "90")
	t.Setenv("FAMA_QUALITY_LOOPBACKENABLED", "false")
	t.Setenv("FAMA_BUDGETS_MEDIUM_CONTEXT", "1234")
	t.Setenv("FAMA_AGENT_BREAKER_COOLDOWN", "45s")
	t.Setenv("FAMA_OUTPUT_STRICT", "true")
	t.Setenv("FAMA_TELEMETRY_SERVICENAME", "fama-ci")
	t.Setenv("FAMA_NOT_A_KEY", "ignored")

	cfg, err := Load(fsys, projectDir)
	require.NoError(t, err)

	assert.Equal(t, workflow.ScaleQuick, cfg.Workflow.DefaultScale)
	assert.True(t, cfg.Workflow.Gates.RequireApproval)
	assert.Equal(t, 90, cfg.Quality.MinimumScore)
	assert.False(t, cfg.Quality.LoopBackEnabled)
	assert.Equal(t, 1234, cfg.Budgets.Medium.Context)
	assert.Equal(t, 45*time.Second, cfg.Agent.Breaker.Cooldown.Duration())
	assert.True(t, cfg.Output.Strict)
	assert.Equal(t, "fama-ci", cfg.Telemetry.ServiceName)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown scale", body: "workflow:\n  defaultScale: HUGE\n"},
		{name: "bad yaml", body: "workflow: [unclosed\n"},
		{name: "minimum score", body: "quality:\n  minimumScore: 150\n"},
		{name: "gate without type", body: "workflow:\n  gates:\n    gates:\n      - phases: [\"P->R\"]\n"},
		{name: "gate without phases", body: "workflow:\n  gates:\n    gates:\n      - type: require_plan\n"},
		{name: "negative budget", body: "budgets:\n  small:\n    context: -1\n"},
		{name: "negative retries", body: "agent:\n  maxRetries: -1\n"},
		{name: "bad duration", body: "agent:\n  timeout: soon\n"},
		{name: "delays inverted", body: "agent:\n  baseDelay: 1m\n  maxDelay: 1s\n"},
		{name: "log format", body: "logging:\n  format: xml\n"},
		{name: "remote insecure telemetry", body: "telemetry:\n  enabled: true\n  endpoint: collector.example.com:4317\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeConfig(t, fsys, tt.body)
			_, err := Load(fsys, projectDir)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ValidationErrorsWrapErrInvalid(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeConfig(t, fsys, "quality:\n  maxLoops: -1\n")
	_, err := Load(fsys, projectDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, quality.ErrInvalidConfig)
}

func TestLoadFile_TooLarge(t *testing.T) {
	fsys := afero.NewMemMapFs()
	body := append([]byte("workflow:\n  defaultScale: SMALL\n#"), bytes.Repeat([]byte("x"), maxConfigFileSize)...)
	require.NoError(t, afero.WriteFile(fsys, "/big.yaml", body, 0o644))

	_, err := LoadFile(fsys, "/big.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadFile_Directory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/dir.yaml", 0o755))

	_, err := LoadFile(fsys, "/dir.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestEnvKeys(t *testing.T) {
	keys := envKeys()

	assert.Equal(t, "workflow.defaultScale", keys["workflow_defaultscale"])
	assert.Equal(t, "workflow.gates.requirePlan", keys["workflow_gates_requireplan"])
	assert.Equal(t, "budgets.large.outputReserve", keys["budgets_large_outputreserve"])
	assert.Equal(t, "quality.weights.completion", keys["quality_weights_completion"])
	assert.Equal(t, "agent.breaker.threshold", keys["agent_breaker_threshold"])
	assert.Equal(t, "agent.args", keys["agent_args"])
	assert.Equal(t, "logging.level", keys["logging_level"])
	assert.NotContains(t, keys, "workflow_gates_gates", "lists of gates are file-only")
	assert.NotContains(t, keys, "logging_redaction", "structs are not leaves")
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("later")))

	b, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m0s"`, string(b))
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
