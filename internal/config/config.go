// Package config loads fama's settings from .fama/config.yaml with FAMA_
// environment overrides.
package config

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/fama/internal/agent"
	"github.com/fyrsmithlabs/fama/internal/logging"
	"github.com/fyrsmithlabs/fama/internal/orchestrator"
	"github.com/fyrsmithlabs/fama/internal/quality"
	"github.com/fyrsmithlabs/fama/internal/telemetry"
	"github.com/fyrsmithlabs/fama/internal/tokens"
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete fama configuration.
type Config struct {
	Workflow  WorkflowConfig   `koanf:"workflow" json:"workflow"`
	Budgets   BudgetsConfig    `koanf:"budgets" json:"budgets"`
	Quality   quality.Config   `koanf:"quality" json:"quality"`
	Agent     AgentConfig      `koanf:"agent" json:"agent"`
	Output    OutputConfig     `koanf:"output" json:"output"`
	Logging   logging.Config   `koanf:"logging" json:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry" json:"telemetry"`
}

// WorkflowConfig holds state machine settings.
type WorkflowConfig struct {
	DefaultScale workflow.Scale           `koanf:"defaultScale" json:"defaultScale"`
	Gates        orchestrator.GatesConfig `koanf:"gates" json:"gates"`
}

// BudgetsConfig holds per-scale overrides. Zero fields keep the fixed
// profile's value.
type BudgetsConfig struct {
	Quick  tokens.Budget `koanf:"quick" json:"quick"`
	Small  tokens.Budget `koanf:"small" json:"small"`
	Medium tokens.Budget `koanf:"medium" json:"medium"`
	Large  tokens.Budget `koanf:"large" json:"large"`
}

// Profiles returns the overrides keyed by scale.
func (b BudgetsConfig) Profiles() tokens.Profiles {
	return tokens.Profiles{
		workflow.ScaleQuick:  b.Quick,
		workflow.ScaleSmall:  b.Small,
		workflow.ScaleMedium: b.Medium,
		workflow.ScaleLarge:  b.Large,
	}
}

// AgentConfig controls how agents are invoked.
type AgentConfig struct {
	// Command is the agent CLI run once per invocation.
	Command    string        `koanf:"command" json:"command"`
	Args       []string      `koanf:"args" json:"args"`
	MaxRetries int           `koanf:"maxRetries" json:"maxRetries"`
	BaseDelay  Duration      `koanf:"baseDelay" json:"baseDelay"`
	MaxDelay   Duration      `koanf:"maxDelay" json:"maxDelay"`
	Timeout    Duration      `koanf:"timeout" json:"timeout"`
	RateLimit  float64       `koanf:"rateLimit" json:"rateLimit"`
	Burst      int           `koanf:"burst" json:"burst"`
	Breaker    BreakerConfig `koanf:"breaker" json:"breaker"`
}

// BreakerConfig controls the per-provider circuit breaker.
type BreakerConfig struct {
	Threshold int      `koanf:"threshold" json:"threshold"`
	Cooldown  Duration `koanf:"cooldown" json:"cooldown"`
}

// Retry converts the settings for agent.NewRunner.
func (a AgentConfig) Retry() agent.RetryConfig {
	return agent.RetryConfig{
		MaxRetries: a.MaxRetries,
		BaseDelay:  a.BaseDelay.Duration(),
		MaxDelay:   a.MaxDelay.Duration(),
		Timeout:    a.Timeout.Duration(),
		RateLimit:  a.RateLimit,
		Burst:      a.Burst,
	}
}

// Breakers builds the breaker registry.
func (a AgentConfig) Breakers() *agent.BreakerRegistry {
	return agent.NewBreakerRegistry(a.Breaker.Threshold, a.Breaker.Cooldown.Duration())
}

// OutputConfig controls agent output handling.
type OutputConfig struct {
	// Strict surfaces structured-output parse failures as errors instead
	// of falling back to heuristic interpretation.
	Strict bool `koanf:"strict" json:"strict"`
}

// Default returns the built-in configuration.
func Default() *Config {
	r := agent.DefaultRetryConfig()
	return &Config{
		Workflow: WorkflowConfig{DefaultScale: workflow.ScaleMedium},
		Quality:  quality.DefaultConfig(),
		Agent: AgentConfig{
			Command:    "claude",
			Args:       []string{"-p", "--output-format", "stream-json", "--verbose"},
			MaxRetries: r.MaxRetries,
			BaseDelay:  Duration(r.BaseDelay),
			MaxDelay:   Duration(r.MaxDelay),
			Timeout:    Duration(r.Timeout),
			Burst:      r.Burst,
			Breaker: BreakerConfig{
				Threshold: agent.DefaultBreakerThreshold,
				Cooldown:  Duration(agent.DefaultBreakerCooldown),
			},
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Executor returns the settings RunPhase reads.
func (c *Config) Executor() orchestrator.ExecutorConfig {
	return orchestrator.ExecutorConfig{
		Budgets: c.Budgets.Profiles(),
		Quality: c.Quality,
		Strict:  c.Output.Strict,
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if !c.Workflow.DefaultScale.Valid() {
		return fmt.Errorf("%w: workflow.defaultScale %d", ErrInvalid, int(c.Workflow.DefaultScale))
	}
	for i, g := range c.Workflow.Gates.Gates {
		if g.Type == "" {
			return fmt.Errorf("%w: workflow.gates.gates[%d].type is required", ErrInvalid, i)
		}
		if len(g.Phases) == 0 {
			return fmt.Errorf("%w: workflow.gates.gates[%d].phases is empty", ErrInvalid, i)
		}
	}
	for name, b := range map[string]tokens.Budget{
		"quick": c.Budgets.Quick, "small": c.Budgets.Small,
		"medium": c.Budgets.Medium, "large": c.Budgets.Large,
	} {
		if b.SystemPrompt < 0 || b.Skills < 0 || b.Context < 0 || b.UserMessage < 0 || b.OutputReserve < 0 {
			return fmt.Errorf("%w: budgets.%s has a negative allocation", ErrInvalid, name)
		}
	}
	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("%w: quality: %w", ErrInvalid, err)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("%w: agent.maxRetries must be >= 0", ErrInvalid)
	}
	if c.Agent.RateLimit < 0 {
		return fmt.Errorf("%w: agent.rateLimit must be >= 0", ErrInvalid)
	}
	if c.Agent.MaxDelay > 0 && c.Agent.BaseDelay > c.Agent.MaxDelay {
		return fmt.Errorf("%w: agent.baseDelay exceeds agent.maxDelay", ErrInvalid)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalid, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %w", ErrInvalid, err)
	}
	return nil
}
