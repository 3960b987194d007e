package telemetry

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got: %v", err)
	}
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = ""
		}},
		{"unknown exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}},
		{"sampling rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "stdout"
			c.Tracing.SamplingRate = 1.5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_FieldHelpersDoNotMutateParent(t *testing.T) {
	parent := Nop()
	child := parent.WithRunID("r1").WithHost("h1").WithOperation("op1")

	if child == parent {
		t.Error("Expected a new logger instance")
	}
}

func TestNewLogger_RejectsUnwritableOutput(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Output: "/nonexistent-dir/converge.log"})
	if err == nil {
		t.Error("Expected error for unwritable output path, got nil")
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	// None of these may panic when metrics are disabled.
	m.FleetRunStarted("pb", "staging")
	m.FleetRunCompleted("success", 0)
	m.HostRunStarted()
	m.HostRunCompleted("failed", 0)
	m.OperationObserved("applied-success", "command", 0)
}

func TestMetrics_RegistersCollectors(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "converge_test"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	m.FleetRunStarted("pb", "staging")
	m.HostRunStarted()
	m.HostRunCompleted("success", 0)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}

	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "converge_test_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected namespaced metric families to be registered")
	}
}

func TestTracer_NilReceiverProducesNoopSpans(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.StartFleetRunSpan(t.Context(), "run-1", "pb", "staging")
	if ctx == nil {
		t.Fatal("Expected a context back")
	}
	span.End()
}
