// Package telemetry wires the OpenTelemetry SDK for fama.
//
// When enabled, New builds a TracerProvider and a MeterProvider exporting
// over OTLP (gRPC by default, http/protobuf on request) and installs them
// as the global providers, so the orchestrator's spans and instruments are
// exported without further plumbing. Disabled telemetry leaves the global
// no-op providers in place.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never fail the command; the instance is marked
// degraded instead.
package telemetry
