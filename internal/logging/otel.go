package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// InstrumentationName names the otelzap bridge scope.
const InstrumentationName = "github.com/fyrsmithlabs/fama"

// newCore tees the local writer and the OTEL bridge. The bridge is only
// added when cfg.OTEL is set and a provider is available.
func newCore(cfg *Config, w zapcore.WriteSyncer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	local := zapcore.NewCore(encoder, w, cfg.Level)

	if !cfg.OTEL || otelProvider == nil {
		return local, nil
	}
	bridge := otelzap.NewCore(InstrumentationName, otelzap.WithLoggerProvider(otelProvider))
	return zapcore.NewTee(local, &levelCore{Core: bridge, min: cfg.Level}), nil
}

// levelCore applies the configured level to a core that has none of its own.
type levelCore struct {
	zapcore.Core
	min zapcore.Level
}

func (c *levelCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && c.Core.Enabled(lvl)
}

func (c *levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), min: c.min}
}
