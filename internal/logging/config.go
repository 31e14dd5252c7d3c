package logging

import (
	"fmt"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level     zapcore.Level   `koanf:"level" json:"level"`
	Format    string          `koanf:"format" json:"format"`
	OTEL      bool            `koanf:"otel" json:"otel"`
	Caller    bool            `koanf:"caller" json:"caller"`
	Redaction RedactionConfig `koanf:"redaction" json:"redaction"`
}

// RedactionConfig controls masking of sensitive values.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled" json:"enabled"`
	Fields   []string `koanf:"fields" json:"fields"`
	Patterns []string `koanf:"patterns" json:"patterns"`
}

// NewDefaultConfig returns the CLI defaults: warnings and above, console
// encoding, redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.WarnLevel,
		Format: "console",
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "api_key", "apikey",
				"authorization", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`,
				`(?i)api[_-]?key\s*[=:]\s*\S+`,
				`\bsk-[A-Za-z0-9_-]{16,}`,
			},
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > 200 {
				return fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	return nil
}
