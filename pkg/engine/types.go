package engine

import (
	"time"
)

// CheckKind identifies the probe used to decide whether an operation's
// postcondition already holds on a host.
type CheckKind string

const (
	// CheckPath probes for the existence of a remote path.
	CheckPath CheckKind = "path"

	// CheckCommand probes by running a command; exit status 0 means satisfied.
	CheckCommand CheckKind = "command"

	// CheckService probes whether a systemd unit is active.
	CheckService CheckKind = "service"
)

// Check is a side-effect-free predicate evaluated against host state.
// A nil *Check on an Operation means the operation always applies.
type Check struct {
	// Kind selects the probe type.
	Kind CheckKind `json:"kind" yaml:"kind"`

	// Path is the remote path for CheckPath probes.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Command is the probe command for CheckCommand probes.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Service is the unit name for CheckService probes.
	Service string `json:"service,omitempty" yaml:"service,omitempty"`

	// Sudo runs the probe with elevated privileges. Probes of root-owned
	// state (iptables rule presence) exit non-zero for an unprivileged
	// user even when the condition holds.
	Sudo bool `json:"sudo,omitempty" yaml:"sudo,omitempty"`
}

// ActionKind identifies the effectful step of an operation.
type ActionKind string

const (
	// ActionCommand runs a shell command on the host.
	ActionCommand ActionKind = "command"

	// ActionCopy copies a local file to the host.
	ActionCopy ActionKind = "copy"

	// ActionTemplate renders template content against the run's bindings
	// and writes the result to the host.
	ActionTemplate ActionKind = "template"
)

// Action is the effectful half of an operation, run only when the guard
// reports the postcondition as not yet satisfied.
type Action struct {
	// Kind selects the action type.
	Kind ActionKind `json:"kind" yaml:"kind"`

	// Command is the shell command for ActionCommand.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Sudo runs the command with elevated privileges.
	Sudo bool `json:"sudo,omitempty" yaml:"sudo,omitempty"`

	// Source is the local path for ActionCopy.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Content is the inline template body for ActionTemplate.
	Content string `json:"content,omitempty" yaml:"content,omitempty"`

	// Destination is the remote path for ActionCopy and ActionTemplate.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Mode is the octal file mode for copied or templated files (e.g. "0644").
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Owner and Group set remote file ownership, when non-empty.
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
}

// FailurePolicy decides whether a failed operation aborts the remaining
// sequence for its host.
type FailurePolicy string

const (
	// PolicyHalt stops the remaining sequence; subsequent operations are
	// reported as not-reached. This is the default: later operations in a
	// playbook frequently assume earlier ones succeeded.
	PolicyHalt FailurePolicy = "halt"

	// PolicyContinue records the failure and proceeds to the next operation.
	PolicyContinue FailurePolicy = "continue"
)

// Operation is a single idempotent unit of change: a guard, an action, and a
// failure policy. Applying the action must make the guard evaluate true;
// that contract is verified after every apply.
type Operation struct {
	// Name is the human-readable operation name.
	Name string `json:"name" yaml:"name"`

	// Check is the guard; nil means the action always applies.
	Check *Check `json:"check,omitempty" yaml:"check,omitempty"`

	// Action is the effectful step.
	Action Action `json:"action" yaml:"action"`

	// OnFailure is the halt/continue policy. Empty means PolicyHalt.
	OnFailure FailurePolicy `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`

	// Timeout bounds the action's execution. Zero means the runner default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Policy returns the effective failure policy.
func (o Operation) Policy() FailurePolicy {
	if o.OnFailure == PolicyContinue {
		return PolicyContinue
	}
	return PolicyHalt
}

// Playbook is an ordered sequence of operation templates scoped to a host
// group. Order is significant and is preserved exactly through rendering.
type Playbook struct {
	// Name identifies the playbook.
	Name string `json:"name" yaml:"name"`

	// Group is the host group this playbook targets.
	Group string `json:"group" yaml:"group"`

	// Operations are the pre-render operation templates, in declared order.
	Operations []Operation `json:"operations" yaml:"operations"`
}

// Bindings is the variable context a playbook is rendered against.
// It is immutable once rendering starts.
type Bindings map[string]string

// merged returns a copy of b with overrides applied on top.
func (b Bindings) merged(overrides Bindings) Bindings {
	out := make(Bindings, len(b)+len(overrides))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Host is one machine in the inventory, immutable for the duration of a run.
type Host struct {
	// ID is the inventory identifier for the host.
	ID string `json:"id" yaml:"id"`

	// Address is the hostname or IP the transport connects to.
	Address string `json:"address" yaml:"address"`

	// Port is the transport port (default 22 for SSH).
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// User is the login user.
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// Groups are the host-group memberships.
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Vars are host-scoped binding overrides, applied over group bindings.
	Vars Bindings `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// InGroup reports whether the host belongs to the named group.
func (h Host) InGroup(group string) bool {
	for _, g := range h.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Disposition is the per-operation outcome recorded in a run report.
type Disposition string

const (
	// DispositionSkipped means the guard held and the action was not run.
	DispositionSkipped Disposition = "skipped"

	// DispositionApplied means the action ran and the guard then held.
	DispositionApplied Disposition = "applied-success"

	// DispositionFailed means the action failed, the guard could not be
	// evaluated, or the guard still did not hold after the action ran.
	DispositionFailed Disposition = "applied-failure"

	// DispositionNotReached means an earlier halt-policy failure (or
	// cancellation) stopped the sequence before this operation.
	DispositionNotReached Disposition = "not-reached"

	// DispositionWouldApply is reported in dry runs for operations whose
	// guard does not hold; the action is not executed.
	DispositionWouldApply Disposition = "would-apply"
)

// RunState is the per-host runner state machine.
type RunState string

const (
	RunStatePending    RunState = "pending"
	RunStateRendering  RunState = "rendering"
	RunStateConverging RunState = "converging"
	RunStateDone       RunState = "done"
)

// HostStatus is the terminal status of one host's convergence run.
type HostStatus string

const (
	// HostStatusSuccess means every operation was skipped or applied cleanly.
	HostStatusSuccess HostStatus = "success"

	// HostStatusPartial means at least one continue-policy failure occurred
	// but the run reached the end of the sequence.
	HostStatusPartial HostStatus = "partial"

	// HostStatusFailed means rendering failed, a halt-policy failure stopped
	// the run early, or the run was cancelled.
	HostStatusFailed HostStatus = "failed"
)

// OperationReport records one operation's disposition within a host run.
type OperationReport struct {
	// Name is the rendered operation name.
	Name string `json:"name"`

	// Disposition is the recorded outcome.
	Disposition Disposition `json:"disposition"`

	// Error is the failure message, when the disposition is a failure.
	Error string `json:"error,omitempty"`

	// StartedAt and Duration cover guard evaluation plus the action, when run.
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// RunReport is the report for one host's convergence run. It is the only
// mutable engine-owned structure; it is built incrementally by the runner
// and finalized at completion.
type RunReport struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// HostID is the inventory identifier of the host.
	HostID string `json:"host_id"`

	// Playbook is the name of the playbook that was run.
	Playbook string `json:"playbook"`

	// Status is the terminal host status.
	Status HostStatus `json:"status"`

	// Error carries a run-scoped failure (rendering, unreachable transport).
	Error string `json:"error,omitempty"`

	// Operations enumerates every rendered operation's disposition, in order.
	// A report is never empty for a run that got past rendering.
	Operations []OperationReport `json:"operations"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Counts tallies the report's dispositions.
func (r *RunReport) Counts() (skipped, applied, failed, notReached int) {
	for _, op := range r.Operations {
		switch op.Disposition {
		case DispositionSkipped:
			skipped++
		case DispositionApplied, DispositionWouldApply:
			applied++
		case DispositionFailed:
			failed++
		case DispositionNotReached:
			notReached++
		}
	}
	return skipped, applied, failed, notReached
}

// FleetStatus is the aggregate status of a whole fleet run.
type FleetStatus string

const (
	FleetStatusSuccess FleetStatus = "success"
	FleetStatusPartial FleetStatus = "partial"
	FleetStatusFailed  FleetStatus = "failed"
)

// FleetReport aggregates the per-host reports of one fleet run.
type FleetReport struct {
	// ID is the unique fleet-run identifier.
	ID string `json:"id"`

	// Playbook is the name of the playbook that was run.
	Playbook string `json:"playbook"`

	// Environment is the inventory environment the run targeted.
	Environment string `json:"environment"`

	// Status is failed if any host failed, partial if any host is partial
	// and none failed, success otherwise.
	Status FleetStatus `json:"status"`

	// Hosts maps host ID to that host's run report.
	Hosts map[string]*RunReport `json:"hosts"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// Aggregate recomputes the fleet status from the per-host reports.
func (f *FleetReport) Aggregate() FleetStatus {
	status := FleetStatusSuccess
	for _, r := range f.Hosts {
		switch r.Status {
		case HostStatusFailed:
			return FleetStatusFailed
		case HostStatusPartial:
			status = FleetStatusPartial
		}
	}
	return status
}
