package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/fama/internal/orchestrator"

// Metrics holds the orchestrator instruments.
type Metrics struct {
	transitions   metric.Int64Counter
	gateFailures  metric.Int64Counter
	loopBacks     metric.Int64Counter
	handoffTokens metric.Int64Histogram
	qualityScore  metric.Int64Histogram

	initialized bool
}

// NewMetrics creates the instruments. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.transitions, err = meter.Int64Counter(
		"fama.workflow.transitions.total",
		metric.WithDescription("Phase transitions performed"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.gateFailures, err = meter.Int64Counter(
		"fama.workflow.gate_failures.total",
		metric.WithDescription("Transitions denied by a gate"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.loopBacks, err = meter.Int64Counter(
		"fama.workflow.loop_backs.total",
		metric.WithDescription("Validation to Execution loop-backs"),
		metric.WithUnit("{loop}"),
	)
	if err != nil {
		return nil, err
	}

	m.handoffTokens, err = meter.Int64Histogram(
		"fama.handoff.tokens",
		metric.WithDescription("Estimated tokens of context handed to a phase"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 2000, 4000, 8000, 16000),
	)
	if err != nil {
		return nil, err
	}

	m.qualityScore, err = meter.Int64Histogram(
		"fama.quality.score",
		metric.WithDescription("Validation quality scores"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordTransition records a transition; to is empty for a terminal advance.
func (m *Metrics) RecordTransition(ctx context.Context, from, to workflow.Phase) {
	if m == nil || !m.initialized {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// RecordGateFailure records a denied transition.
func (m *Metrics) RecordGateFailure(ctx context.Context, from, to workflow.Phase, gate string) {
	if m == nil || !m.initialized {
		return
	}
	m.gateFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("gate", gate),
	))
}

// RecordLoopBack records a loop-back.
func (m *Metrics) RecordLoopBack(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.loopBacks.Add(ctx, 1)
}

// RecordHandoff records the size of a context handoff.
func (m *Metrics) RecordHandoff(ctx context.Context, target workflow.Phase, tokens int) {
	if m == nil || !m.initialized {
		return
	}
	m.handoffTokens.Record(ctx, int64(tokens), metric.WithAttributes(attribute.String("phase", string(target))))
}

// RecordQuality records an assessed quality score.
func (m *Metrics) RecordQuality(ctx context.Context, score int, passed bool) {
	if m == nil || !m.initialized {
		return
	}
	m.qualityScore.Record(ctx, int64(score), metric.WithAttributes(attribute.Bool("passed", passed)))
}

// Tracer returns the orchestrator tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
