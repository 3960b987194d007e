package engine

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/convergeops/converge/pkg/telemetry"
)

// DefaultOperationTimeout bounds an action when neither the operation nor
// the runner options set one.
const DefaultOperationTimeout = 5 * time.Minute

// RunnerOptions configures a convergence runner.
type RunnerOptions struct {
	// DryRun evaluates guards but never executes actions; operations whose
	// guard does not hold are reported as would-apply.
	DryRun bool

	// OperationTimeout is the default per-operation timeout.
	OperationTimeout time.Duration

	// Logger receives run progress. Nil means a no-op logger.
	Logger *telemetry.Logger

	// Metrics receives run observations. Nil disables them.
	Metrics *telemetry.Metrics

	// Tracer produces spans per host run and per operation. Nil disables them.
	Tracer *telemetry.Tracer
}

// Runner drives one host from its current state to the playbook's desired
// state: render, then evaluate each operation's guard in declared order and
// apply the unsatisfied ones.
type Runner struct {
	transport Transport
	evaluator *Evaluator
	opts      RunnerOptions
	log       *telemetry.Logger
}

// NewRunner creates a runner converging hosts through the given transport.
func NewRunner(transport Transport, opts RunnerOptions) *Runner {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Runner{
		transport: transport,
		evaluator: NewEvaluator(transport),
		opts:      opts,
		log:       logger.NewComponentLogger("runner"),
	}
}

// Converge runs the playbook against one host and returns its report. The
// report is never nil and never silent: every rendered operation appears in
// it with a disposition. Failures are recorded in the report rather than
// returned; errors local to this host never escape to other hosts.
func (r *Runner) Converge(ctx context.Context, host Host, pb Playbook, bindings Bindings) *RunReport {
	report := &RunReport{
		ID:        uuid.New().String(),
		HostID:    host.ID,
		Playbook:  pb.Name,
		StartedAt: time.Now(),
	}
	log := r.log.WithRunID(report.ID).WithHost(host.ID).WithPlaybook(pb.Name)

	ctx, span := r.opts.Tracer.StartHostRunSpan(ctx, report.ID, host.ID)
	defer span.End()

	r.opts.Metrics.HostRunStarted()
	defer func() {
		report.CompletedAt = time.Now()
		report.Duration = report.CompletedAt.Sub(report.StartedAt)
		r.opts.Metrics.HostRunCompleted(string(report.Status), report.Duration)
		r.closeTransport(host, log)
	}()

	// Rendering. A failure here aborts before any side effect: zero
	// operations attempted.
	log.WithField("state", RunStateRendering).Debug("rendering playbook")
	ops, err := Render(pb, bindings.merged(host.Vars))
	if err != nil {
		log.WithError(err).Error("rendering failed")
		telemetry.RecordError(span, err)
		report.Status = HostStatusFailed
		report.Error = err.Error()
		return report
	}

	// Converging: strictly in declared order.
	log.WithField("state", RunStateConverging).Infof("converging %d operations", len(ops))
	report.Operations = make([]OperationReport, 0, len(ops))

	halted := false
	haltReason := ""
	sawContinueFailure := false

	for _, op := range ops {
		if halted {
			report.Operations = append(report.Operations, OperationReport{
				Name:        op.Name,
				Disposition: DispositionNotReached,
				Error:       haltReason,
			})
			continue
		}

		// Cancellation stops before the next operation starts; it never
		// interrupts one mid-flight.
		if ctx.Err() != nil {
			halted = true
			haltReason = "run cancelled"
			report.Operations = append(report.Operations, OperationReport{
				Name:        op.Name,
				Disposition: DispositionNotReached,
				Error:       haltReason,
			})
			continue
		}

		opReport, opErr := r.convergeOperation(ctx, host, op, log)
		report.Operations = append(report.Operations, opReport)
		r.opts.Metrics.OperationObserved(string(opReport.Disposition), string(op.Action.Kind), opReport.Duration)

		if opReport.Disposition == DispositionFailed {
			switch {
			case IsTransportUnreachable(opErr):
				// An uncontactable host fails the whole run regardless of
				// per-operation policy; nothing later can run either.
				halted = true
				haltReason = fmt.Sprintf("not reached: host unreachable at %s", op.Name)
			case op.Policy() == PolicyHalt:
				halted = true
				haltReason = fmt.Sprintf("not reached: %s failed", op.Name)
			default:
				sawContinueFailure = true
			}
		}
	}

	switch {
	case halted:
		report.Status = HostStatusFailed
	case sawContinueFailure:
		report.Status = HostStatusPartial
	default:
		report.Status = HostStatusSuccess
	}

	if report.Status == HostStatusSuccess {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("host run %s", report.Status))
	}

	skipped, applied, failed, notReached := report.Counts()
	log.WithField("state", RunStateDone).Infof(
		"converge done: status=%s skipped=%d applied=%d failed=%d not_reached=%d",
		report.Status, skipped, applied, failed, notReached)

	return report
}

// convergeOperation evaluates one operation's guard and applies its action
// when the guard does not hold. The returned error, when non-nil, is the
// classified failure already recorded in the report.
func (r *Runner) convergeOperation(ctx context.Context, host Host, op Operation, log *telemetry.Logger) (OperationReport, error) {
	opLog := log.WithOperation(op.Name)
	opReport := OperationReport{
		Name:      op.Name,
		StartedAt: time.Now(),
	}
	defer func() {
		opReport.Duration = time.Since(opReport.StartedAt)
	}()

	_, span := r.opts.Tracer.StartOperationSpan(ctx, host.ID, op.Name)
	defer span.End()

	fail := func(err error, msg string) (OperationReport, error) {
		opLog.WithError(err).Error(msg)
		telemetry.RecordError(span, err)
		opReport.Disposition = DispositionFailed
		opReport.Error = err.Error()
		return opReport, err
	}

	// The operation context is detached from the run context: once started,
	// an operation runs to completion or its own timeout.
	timeout := op.Timeout
	if timeout <= 0 {
		timeout = r.opts.OperationTimeout
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// Guard. A probe that cannot run is a failure, never "proceed".
	if op.Check != nil {
		holds, err := r.evaluator.Holds(opCtx, host, *op.Check)
		if err != nil {
			return fail(err, "guard could not be evaluated")
		}
		if holds {
			opLog.Debug("already satisfied, skipping")
			opReport.Disposition = DispositionSkipped
			return opReport, nil
		}
	}

	if r.opts.DryRun {
		opLog.Info("dry run: would apply")
		opReport.Disposition = DispositionWouldApply
		return opReport, nil
	}

	opLog.Info("applying")
	if err := r.apply(opCtx, host, op.Action); err != nil {
		return fail(err, "apply failed")
	}

	// Idempotence contract: the action must have made the guard hold.
	if op.Check != nil {
		holds, err := r.evaluator.Holds(opCtx, host, *op.Check)
		if err != nil {
			return fail(err, "post-apply verification could not run")
		}
		if !holds {
			err := NewActionFailedError("action ran but postcondition still does not hold", nil).
				WithHost(host.ID).WithOperation(op.Name)
			return fail(err, "did not converge")
		}
	}

	telemetry.RecordSuccess(span)
	opReport.Disposition = DispositionApplied
	return opReport, nil
}

// apply executes the effectful half of an operation.
func (r *Runner) apply(ctx context.Context, host Host, action Action) error {
	switch action.Kind {
	case ActionCommand:
		res, err := r.transport.Execute(ctx, host, action.Command, action.Sudo)
		if err != nil {
			if IsTransportUnreachable(err) {
				return err
			}
			return NewActionFailedError("command could not be executed", err).WithHost(host.ID)
		}
		if res.ExitStatus != 0 {
			return NewActionFailedError(
				fmt.Sprintf("command exited with status %d: %s", res.ExitStatus, res.Stderr), nil).
				WithHost(host.ID)
		}
		return nil

	case ActionCopy:
		spec, err := action.fileSpec()
		if err != nil {
			return NewActionFailedError("invalid file spec", err).WithHost(host.ID)
		}
		if err := r.transport.Copy(ctx, host, action.Source, spec); err != nil {
			if IsTransportUnreachable(err) {
				return err
			}
			return NewActionFailedError("copy failed", err).WithHost(host.ID)
		}
		return nil

	case ActionTemplate:
		// Content was rendered against the bindings before any operation
		// executed; only the write happens here.
		spec, err := action.fileSpec()
		if err != nil {
			return NewActionFailedError("invalid file spec", err).WithHost(host.ID)
		}
		if err := r.transport.WriteFile(ctx, host, []byte(action.Content), spec); err != nil {
			if IsTransportUnreachable(err) {
				return err
			}
			return NewActionFailedError("template write failed", err).WithHost(host.ID)
		}
		return nil

	default:
		return NewActionFailedError(fmt.Sprintf("unknown action kind %q", action.Kind), nil).
			WithHost(host.ID)
	}
}

// fileSpec builds the remote placement spec for copy and template actions.
func (a Action) fileSpec() (FileSpec, error) {
	if a.Destination == "" {
		return FileSpec{}, fmt.Errorf("destination is required")
	}
	spec := FileSpec{
		Path:  a.Destination,
		Owner: a.Owner,
		Group: a.Group,
	}
	if a.Mode != "" {
		mode, err := strconv.ParseUint(a.Mode, 8, 32)
		if err != nil {
			return FileSpec{}, fmt.Errorf("invalid mode %q: %w", a.Mode, err)
		}
		spec.Mode = fs.FileMode(mode)
	}
	return spec, nil
}

// closeTransport releases any per-host connection once the run completes.
func (r *Runner) closeTransport(host Host, log *telemetry.Logger) {
	if err := r.transport.Close(host); err != nil {
		log.WithError(err).Warn("closing transport failed")
	}
}
