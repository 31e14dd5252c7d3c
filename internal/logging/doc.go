// Package logging builds the zap logger used by the fama CLI.
//
// Records go to a local writer (stderr by default) and, when an
// OpenTelemetry LoggerProvider is supplied, through the otelzap bridge as
// well. Context-aware methods prepend the workflow, phase and agent stored
// in the context plus the active trace and span ids:
//
//	ctx = logging.WithWorkflow(ctx, st.Name)
//	ctx = logging.WithPhase(ctx, string(st.CurrentPhase))
//	logger.Info(ctx, "phase advanced")
//
// Core packages take a plain *zap.Logger; hand them Underlying().
package logging
