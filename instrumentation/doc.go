// Package instrumentation provides OpenTelemetry instrumentation for the frob bridge.
//
// Every layer records through a shared Instrumentation value:
//
//   - http: request counts and latency per endpoint
//   - server: handoffs started, completion outcomes, code exchanges, token validations
//   - legacy: calls to the legacy API and their latency
//   - security: rate limit rejections, fail-open admissions, PKCE failures, audit events
//   - storage: operation counts, latency, and entry counts for the memory backend
//
// When Enabled is false the package uses no-op providers.
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// # Traces
//
// Setting TracesExporter to "stdout" writes spans as JSON, which is mostly
// useful during development.
//
// # Security
//
// Frobs, authorization codes and legacy tokens are credentials. They are never
// recorded as metric labels or span attributes.
package instrumentation
