package engine

import (
	"context"
	"errors"
	"testing"
)

func TestHolds_PathCheck_BuildsQuotedProbe(t *testing.T) {
	transport := newMockTransport()
	evaluator := NewEvaluator(transport)

	holds, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckPath, Path: "/etc/app's dir"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !holds {
		t.Error("Expected probe exit 0 to report satisfied")
	}

	cmds := transport.executedCommands()
	if len(cmds) != 1 {
		t.Fatalf("Expected 1 probe command, got %d", len(cmds))
	}
	if cmds[0] != `test -e '/etc/app'\''s dir'` {
		t.Errorf("Unexpected probe command: %q", cmds[0])
	}
}

func TestHolds_ServiceCheck(t *testing.T) {
	transport := newMockTransport()
	transport.satisfied["systemctl is-active --quiet 'nginx'"] = false
	evaluator := NewEvaluator(transport)

	holds, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckService, Service: "nginx"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if holds {
		t.Error("Expected inactive unit to report unsatisfied")
	}
}

func TestHolds_ProbeFailure_FailsClosed(t *testing.T) {
	transport := newMockTransport()
	transport.errCmds["flaky probe"] = errors.New("connection reset")
	evaluator := NewEvaluator(transport)

	_, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckCommand, Command: "flaky probe"})
	if err == nil {
		t.Fatal("Expected error when the probe cannot run, got nil")
	}
	if !IsProbeUnknown(err) {
		t.Errorf("Expected probe-unknown classification, got: %v", err)
	}
}

func TestHolds_ProbeNotFound_FailsClosed(t *testing.T) {
	for _, status := range []int{126, 127} {
		transport := newMockTransport()
		transport.exitCmds["iptables -C INPUT -j DROP"] = status
		evaluator := NewEvaluator(transport)

		_, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckCommand, Command: "iptables -C INPUT -j DROP"})
		if err == nil {
			t.Fatalf("Expected error for probe exit %d, got nil", status)
		}
		if !IsProbeUnknown(err) {
			t.Errorf("Expected exit %d to classify probe-unknown, got: %v", status, err)
		}
	}
}

func TestHolds_NonZeroProbeExit_ReportsUnsatisfied(t *testing.T) {
	transport := newMockTransport()
	transport.exitCmds["iptables -C INPUT -j DROP"] = 1
	evaluator := NewEvaluator(transport)

	holds, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckCommand, Command: "iptables -C INPUT -j DROP"})
	if err != nil {
		t.Fatalf("Expected no error for exit 1, got: %v", err)
	}
	if holds {
		t.Error("Expected exit 1 to report unsatisfied")
	}
}

func TestHolds_SudoCheck_RunsProbeElevated(t *testing.T) {
	transport := newMockTransport()
	evaluator := NewEvaluator(transport)

	check := Check{Kind: CheckCommand, Command: "iptables -C INPUT -j DROP", Sudo: true}
	if _, err := evaluator.Holds(context.Background(), testHost(), check); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !transport.executedWithSudo("iptables -C INPUT -j DROP") {
		t.Error("Expected the probe to run with sudo")
	}

	plain := Check{Kind: CheckService, Service: "nginx"}
	if _, err := evaluator.Holds(context.Background(), testHost(), plain); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if transport.executedWithSudo("systemctl is-active --quiet 'nginx'") {
		t.Error("Expected an unprivileged probe to run without sudo")
	}
}

func TestHolds_UnreachableHost_KeepsClassification(t *testing.T) {
	transport := newMockTransport()
	transport.unreachableHosts["host-1"] = true
	evaluator := NewEvaluator(transport)

	_, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckCommand, Command: "true"})
	if err == nil {
		t.Fatal("Expected error for unreachable host, got nil")
	}
	if !IsTransportUnreachable(err) {
		t.Errorf("Expected transport-unreachable classification, got: %v", err)
	}
	if IsProbeUnknown(err) {
		t.Error("Unreachable must not be reclassified as probe-unknown")
	}
}

func TestHolds_InvalidCheck(t *testing.T) {
	transport := newMockTransport()
	evaluator := NewEvaluator(transport)

	_, err := evaluator.Holds(context.Background(), testHost(), Check{Kind: CheckPath})
	if err == nil {
		t.Fatal("Expected error for a path check without a path, got nil")
	}
	if !IsProbeUnknown(err) {
		t.Errorf("Expected probe-unknown classification, got: %v", err)
	}
	if len(transport.executedCommands()) != 0 {
		t.Error("Invalid check must not reach the transport")
	}
}
