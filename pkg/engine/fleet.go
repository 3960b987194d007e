package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convergeops/converge/pkg/telemetry"
)

// DefaultFanOut is the default number of hosts converged concurrently.
const DefaultFanOut = 5

// OrchestratorOptions configures a fleet orchestrator.
type OrchestratorOptions struct {
	// FanOut bounds how many hosts are converged concurrently.
	FanOut int

	// Logger receives fleet progress. Nil means a no-op logger.
	Logger *telemetry.Logger

	// Metrics receives fleet observations. Nil disables them.
	Metrics *telemetry.Metrics

	// Tracer produces a span per fleet run. Nil disables them.
	Tracer *telemetry.Tracer

	// Sink receives the completed fleet report, e.g. for persistence.
	// Nil disables persistence.
	Sink ReportSink
}

// Orchestrator fans the convergence runner out across the hosts of an
// inventory environment. Hosts are processed independently: no cross-host
// state is shared and one host's failure never aborts another host's run.
type Orchestrator struct {
	runner *Runner
	opts   OrchestratorOptions
	log    *telemetry.Logger
}

// NewOrchestrator creates a fleet orchestrator around the given runner.
func NewOrchestrator(runner *Runner, opts OrchestratorOptions) *Orchestrator {
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Orchestrator{
		runner: runner,
		opts:   opts,
		log:    logger.NewComponentLogger("fleet"),
	}
}

// Run converges every host in the environment's target group and returns
// the aggregated fleet report. The returned error covers inventory
// resolution and report persistence only; per-host failures live in the
// report.
func (o *Orchestrator) Run(ctx context.Context, inv Inventory, environment string, pb Playbook, extra Bindings) (*FleetReport, error) {
	hosts, err := inv.Hosts(environment, pb.Group)
	if err != nil {
		return nil, fmt.Errorf("resolving hosts for environment %q group %q: %w", environment, pb.Group, err)
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("environment %q has no hosts in group %q", environment, pb.Group)
	}

	bindings, err := inv.GroupBindings(environment, pb.Group)
	if err != nil {
		return nil, fmt.Errorf("resolving bindings for environment %q group %q: %w", environment, pb.Group, err)
	}
	bindings = bindings.merged(extra)

	report := o.RunHosts(ctx, environment, hosts, pb, bindings)

	if o.opts.Sink != nil {
		if err := o.opts.Sink.SaveFleetReport(ctx, report); err != nil {
			return report, fmt.Errorf("saving fleet report: %w", err)
		}
	}

	return report, nil
}

// RunHosts converges the given hosts concurrently, bounded by the fan-out
// limit, and aggregates their reports.
func (o *Orchestrator) RunHosts(ctx context.Context, environment string, hosts []Host, pb Playbook, bindings Bindings) *FleetReport {
	report := &FleetReport{
		ID:          uuid.New().String(),
		Playbook:    pb.Name,
		Environment: environment,
		Hosts:       make(map[string]*RunReport, len(hosts)),
		StartedAt:   time.Now(),
	}
	log := o.log.WithRunID(report.ID).WithPlaybook(pb.Name)

	ctx, span := o.opts.Tracer.StartFleetRunSpan(ctx, report.ID, pb.Name, report.Environment)
	defer span.End()

	o.opts.Metrics.FleetRunStarted(pb.Name, report.Environment)
	log.Infof("fleet run started: %d hosts, fan-out %d", len(hosts), o.opts.FanOut)

	workers := o.opts.FanOut
	if len(hosts) < workers {
		workers = len(hosts)
	}

	queue := make(chan Host, len(hosts))
	for _, h := range hosts {
		queue <- h
	}
	close(queue)

	// The report map is the only shared mutable state: one mutex around the
	// per-host insert is the entire synchronization story.
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range queue {
				hostReport := o.runner.Converge(ctx, host, pb, bindings)
				mu.Lock()
				report.Hosts[host.ID] = hostReport
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Status = report.Aggregate()

	o.opts.Metrics.FleetRunCompleted(string(report.Status), report.Duration)
	if report.Status == FleetStatusSuccess {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("fleet run %s", report.Status))
	}
	log.Infof("fleet run done: status=%s hosts=%d", report.Status, len(report.Hosts))

	return report
}
