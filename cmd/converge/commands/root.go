package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	inventoryPath string
	logLevel      string
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge - declarative host convergence engine",
		Long: `Converge drives hosts from their current state to a declared desired
state. A playbook is an ordered sequence of guarded operations: each
operation probes the host, applies its action only when the probe reports
the postcondition unsatisfied, and re-probes afterwards to verify the
action did what it claims.

Features:
  - Guarded, idempotent operations (path, command, and service probes)
  - Fail-fast template rendering before any host is touched
  - Bounded fleet fan-out with per-host isolation
  - Per-operation halt/continue failure policies
  - Dry runs that report what would change
  - Local run history in SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&inventoryPath, "inventory", "i", "inventory.yaml", "inventory file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newPlaybooksCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPrintConfigCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// parseBindings converts repeated --set key=value flags into bindings.
func parseBindings(pairs []string) (map[string]string, error) {
	bindings := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := cutPair(pair)
		if !ok {
			return nil, fmt.Errorf("invalid --set value %q, expected key=value", pair)
		}
		bindings[key] = value
	}
	return bindings, nil
}

func cutPair(pair string) (string, string, bool) {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '=' {
			return pair[:i], pair[i+1:], i > 0
		}
	}
	return "", "", false
}
