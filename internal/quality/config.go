// Package quality scores Validation-phase results and decides whether the
// workflow should loop back to Execution.
package quality

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid quality config")

// Weights are the relative weights of the four quality factors.
type Weights struct {
	Completion float64 `koanf:"completion" json:"completion"`
	Testing    float64 `koanf:"testing" json:"testing"`
	Security   float64 `koanf:"security" json:"security"`
	Review     float64 `koanf:"review" json:"review"`
}

// Agents names the validation agent whose output feeds each factor.
type Agents struct {
	Testing  string `koanf:"testing" json:"testing"`
	Security string `koanf:"security" json:"security"`
	Review   string `koanf:"review" json:"review"`
}

// Config controls assessment and loop-back.
type Config struct {
	Weights         Weights `koanf:"weights" json:"weights"`
	Agents          Agents  `koanf:"agents" json:"agents"`
	MinimumScore    int     `koanf:"minimumScore" json:"minimumScore"`
	MaxLoops        int     `koanf:"maxLoops" json:"maxLoops"`
	LoopBackEnabled bool    `koanf:"loopBackEnabled" json:"loopBackEnabled"`
}

// Default agent names.
const (
	AgentTestWriter      = "test-writer"
	AgentSecurityAuditor = "security-auditor"
	AgentCodeReviewer    = "code-reviewer"
)

// DefaultConfig returns the stock weights and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{Completion: 0.30, Testing: 0.25, Security: 0.25, Review: 0.20},
		Agents: Agents{
			Testing:  AgentTestWriter,
			Security: AgentSecurityAuditor,
			Review:   AgentCodeReviewer,
		},
		MinimumScore:    70,
		MaxLoops:        2,
		LoopBackEnabled: true,
	}
}

// Validate rejects negative weights, an all-zero weight set and
// out-of-range thresholds.
func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"completion": w.Completion, "testing": w.Testing, "security": w.Security, "review": w.Review,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weight %s is negative", ErrInvalidConfig, name)
		}
	}
	if w.Completion+w.Testing+w.Security+w.Review == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidConfig)
	}
	if c.MinimumScore < 0 || c.MinimumScore > 100 {
		return fmt.Errorf("%w: minimum score %d outside 0-100", ErrInvalidConfig, c.MinimumScore)
	}
	if c.MaxLoops < 0 {
		return fmt.Errorf("%w: max loops is negative", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults fills unset fields. A zero Config becomes DefaultConfig;
// all-zero weights never validate, so they always mean "unset".
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if *c == (Config{}) {
		*c = d
		return
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Agents.Testing == "" {
		c.Agents.Testing = d.Agents.Testing
	}
	if c.Agents.Security == "" {
		c.Agents.Security = d.Agents.Security
	}
	if c.Agents.Review == "" {
		c.Agents.Review = d.Agents.Review
	}
}
