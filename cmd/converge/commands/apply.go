package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/convergeops/converge/pkg/engine"
	"github.com/convergeops/converge/pkg/inventory"
	"github.com/convergeops/converge/pkg/playbook"
	"github.com/convergeops/converge/pkg/stores"
	"github.com/convergeops/converge/pkg/telemetry"
	"github.com/convergeops/converge/pkg/transports/local"
	sshtransport "github.com/convergeops/converge/pkg/transports/ssh"
)

func newApplyCommand() *cobra.Command {
	var (
		environment   string
		parallelism   int
		dryRun        bool
		opTimeout     time.Duration
		setValues     []string
		useLocal      bool
		sshUser       string
		sshKeyPath    string
		insecure      bool
		dbPath        string
		noHistory     bool
		metricsListen string
		traceExporter string
		traceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "apply <playbook>",
		Short: "Converge an environment against a playbook",
		Long: `Render the playbook against the environment's bindings and converge
every host in the playbook's target group.

Each host is converged independently: operations run in declared order,
guards decide whether actions apply, and a re-probe after every action
verifies the postcondition now holds. Failures on one host never affect
another.`,
		Example: `  # Converge staging load balancers
  converge apply provision-load-balancer --env staging

  # Preview what would change, without touching any host
  converge apply deploy-binary --env production --dry-run

  # Override a binding and widen the fan-out
  converge apply deploy-binary --env production --set artifact_path=./build/app --parallelism 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pb, err := playbook.Resolve(args[0])
			if err != nil {
				return err
			}

			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return err
			}

			extra, err := parseBindings(setValues)
			if err != nil {
				return err
			}

			tel, cleanup, err := setupTelemetry(environment, metricsListen, traceExporter, traceEndpoint)
			if err != nil {
				return err
			}
			defer cleanup()

			transport, err := buildTransport(useLocal, sshUser, sshKeyPath, insecure)
			if err != nil {
				return err
			}

			var sink engine.ReportSink
			if !noHistory && !dryRun {
				store, err := openStore(cmd.Context(), dbPath)
				if err != nil {
					return err
				}
				defer store.Close()
				sink = store
			}

			runner := engine.NewRunner(transport, engine.RunnerOptions{
				DryRun:           dryRun,
				OperationTimeout: opTimeout,
				Logger:           tel.logger,
				Metrics:          tel.metrics,
				Tracer:           tel.tracer,
			})
			orchestrator := engine.NewOrchestrator(runner, engine.OrchestratorOptions{
				FanOut:  parallelism,
				Logger:  tel.logger,
				Metrics: tel.metrics,
				Tracer:  tel.tracer,
				Sink:    sink,
			})

			log.Info().
				Str("playbook", pb.Name).
				Str("environment", environment).
				Int("parallelism", parallelism).
				Bool("dry_run", dryRun).
				Msg("Starting fleet run")

			report, err := orchestrator.Run(cmd.Context(), inv, environment, *pb, extra)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(report)
			}
			printFleetReport(report)

			if report.Status == engine.FleetStatusFailed {
				return fmt.Errorf("fleet run %s failed", report.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "inventory environment to converge")
	cmd.Flags().IntVar(&parallelism, "parallelism", engine.DefaultFanOut, "max hosts converged concurrently")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate guards but do not execute actions")
	cmd.Flags().DurationVar(&opTimeout, "timeout", engine.DefaultOperationTimeout, "default per-operation timeout")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "binding override (key=value, repeatable)")
	cmd.Flags().BoolVar(&useLocal, "local", false, "converge through the local shell instead of SSH")
	cmd.Flags().StringVar(&sshUser, "user", "", "SSH login user (defaults to the inventory host user)")
	cmd.Flags().StringVar(&sshKeyPath, "ssh-key", "", "SSH private key path")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip SSH host key verification")
	cmd.Flags().StringVar(&dbPath, "db", "", "run history database path")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record this run in the history database")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "", "trace exporter (otlp, stdout)")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP trace collector endpoint")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

// telemetrySet bundles the wired telemetry collaborators.
type telemetrySet struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

func setupTelemetry(environment, metricsListen, traceExporter, traceEndpoint string) (*telemetrySet, func(), error) {
	cfg := telemetry.DefaultConfig()
	cfg.Environment = environment
	cfg.Logging.Level = logLevel
	cfg.Metrics.Enabled = metricsListen != ""
	cfg.Metrics.ListenAddress = metricsListen
	cfg.Tracing.Enabled = traceExporter != ""
	if cfg.Tracing.Enabled {
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
		cfg.Tracing.Insecure = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	set := &telemetrySet{logger: logger}
	cleanups := []func(){}

	if cfg.Metrics.Enabled {
		metrics, err := telemetry.NewMetrics(cfg.Metrics)
		if err != nil {
			return nil, nil, err
		}
		if err := metrics.StartServer(); err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = metrics.StopServer() })
		set.metrics = metrics
	}

	if cfg.Tracing.Enabled {
		tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracer.Shutdown(ctx)
		})
		set.tracer = tracer
	}

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return set, cleanup, nil
}

func buildTransport(useLocal bool, sshUser, sshKeyPath string, insecure bool) (engine.Transport, error) {
	if useLocal {
		return local.New(), nil
	}

	if sshUser == "" {
		current, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("resolving default ssh user: %w", err)
		}
		sshUser = current.Username
	}

	cfg := sshtransport.DefaultConfig(sshUser)
	if sshKeyPath != "" {
		cfg.PrivateKeyPath = sshKeyPath
	}
	if insecure {
		cfg.StrictHostKeyChecking = false
	}
	return sshtransport.New(cfg)
}

func openStore(ctx context.Context, dbPath string) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving history database path: %w", err)
		}
		dir := filepath.Join(home, ".converge")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		dbPath = filepath.Join(dir, "history.db")
	}

	store, err := stores.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func printFleetReport(report *engine.FleetReport) {
	hostIDs := make([]string, 0, len(report.Hosts))
	for id := range report.Hosts {
		hostIDs = append(hostIDs, id)
	}
	sort.Strings(hostIDs)

	fmt.Printf("\nFleet run %s (%s): %s in %s\n\n", report.ID, report.Playbook, report.Status, report.Duration.Round(time.Millisecond))
	for _, id := range hostIDs {
		host := report.Hosts[id]
		skipped, applied, failed, notReached := host.Counts()
		fmt.Printf("  %-24s %-8s skipped=%d applied=%d failed=%d not-reached=%d\n",
			id, host.Status, skipped, applied, failed, notReached)
		if host.Error != "" {
			fmt.Printf("  %-24s error: %s\n", "", host.Error)
		}
		for _, op := range host.Operations {
			if op.Disposition == engine.DispositionFailed {
				fmt.Printf("    - %s: %s\n", op.Name, op.Error)
			}
		}
	}
	fmt.Println()
}
