package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type workflowCtxKey struct{}
type phaseCtxKey struct{}
type agentCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := WorkflowFromContext(ctx); v != "" {
		fields = append(fields, zap.String("workflow", v))
	}
	if v := PhaseFromContext(ctx); v != "" {
		fields = append(fields, zap.String("phase", v))
	}
	if v := AgentFromContext(ctx); v != "" {
		fields = append(fields, zap.String("agent", v))
	}
	return fields
}

// WithWorkflow stores the workflow name in ctx.
func WithWorkflow(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workflowCtxKey{}, name)
}

// WorkflowFromContext returns the workflow name, or "".
func WorkflowFromContext(ctx context.Context) string {
	s, _ := ctx.Value(workflowCtxKey{}).(string)
	return s
}

// WithPhase stores the phase code in ctx.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext returns the phase code, or "".
func PhaseFromContext(ctx context.Context) string {
	s, _ := ctx.Value(phaseCtxKey{}).(string)
	return s
}

// WithAgent stores the agent name in ctx.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agent)
}

// AgentFromContext returns the agent name, or "".
func AgentFromContext(ctx context.Context) string {
	s, _ := ctx.Value(agentCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
