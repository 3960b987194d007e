package engine

import (
	"context"
	"fmt"
	"strings"
)

// Evaluator decides whether an operation's postcondition already holds on a
// host. It never mutates host state and is safe to call repeatedly; the
// runner uses it both as the guard and as the post-apply verification.
type Evaluator struct {
	transport Transport
}

// NewEvaluator creates an evaluator probing through the given transport.
func NewEvaluator(transport Transport) *Evaluator {
	return &Evaluator{transport: transport}
}

// Holds evaluates the check against the host. It fails closed: when the
// probe itself cannot be executed the returned error is classified
// ErrorClassProbeUnknown (or ErrorClassTransportUnreachable) and the caller
// must treat the operation as failed, never as "not satisfied, proceed".
func (e *Evaluator) Holds(ctx context.Context, host Host, check Check) (bool, error) {
	cmd, err := check.probeCommand()
	if err != nil {
		return false, NewProbeUnknownError("invalid check", err).WithHost(host.ID)
	}

	res, err := e.transport.Execute(ctx, host, cmd, check.Sudo)
	if err != nil {
		if IsTransportUnreachable(err) {
			return false, err
		}
		return false, NewProbeUnknownError("probe could not be executed", err).WithHost(host.ID)
	}

	// 127 (not found) and 126 (not executable) mean the probe itself did
	// not run; "not satisfied" would be a guess.
	if res.ExitStatus == 126 || res.ExitStatus == 127 {
		detail := res.Stderr
		if detail == "" {
			detail = res.Stdout
		}
		return false, NewProbeUnknownError(
			fmt.Sprintf("probe exited %d: %s", res.ExitStatus, detail), nil).WithHost(host.ID)
	}

	return res.ExitStatus == 0, nil
}

// probeCommand translates the check into a side-effect-free shell probe.
func (c Check) probeCommand() (string, error) {
	switch c.Kind {
	case CheckPath:
		if c.Path == "" {
			return "", fmt.Errorf("path check requires a path")
		}
		return fmt.Sprintf("test -e %s", shellQuote(c.Path)), nil
	case CheckCommand:
		if c.Command == "" {
			return "", fmt.Errorf("command check requires a command")
		}
		return c.Command, nil
	case CheckService:
		if c.Service == "" {
			return "", fmt.Errorf("service check requires a unit name")
		}
		return fmt.Sprintf("systemctl is-active --quiet %s", shellQuote(c.Service)), nil
	default:
		return "", fmt.Errorf("unknown check kind %q", c.Kind)
	}
}

// shellQuote single-quotes a value for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
