// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the converge engine and CLI.
package telemetry
