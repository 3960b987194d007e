package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/engine"
	"github.com/convergeops/converge/pkg/inventory"
	"github.com/convergeops/converge/pkg/telemetry"
)

// effectiveConfig is what print-config renders: the defaults every run
// starts from, plus the resolved hosts and bindings when an environment is
// selected.
type effectiveConfig struct {
	Inventory        string           `yaml:"inventory" json:"inventory"`
	FanOut           int              `yaml:"fan_out" json:"fan_out"`
	OperationTimeout string           `yaml:"operation_timeout" json:"operation_timeout"`
	Telemetry        telemetry.Config `yaml:"telemetry" json:"telemetry"`

	Environment string          `yaml:"environment,omitempty" json:"environment,omitempty"`
	Hosts       []engine.Host   `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	Bindings    engine.Bindings `yaml:"bindings,omitempty" json:"bindings,omitempty"`
}

func newPrintConfigCommand() *cobra.Command {
	var (
		environment string
		group       string
	)

	cmd := &cobra.Command{
		Use:   "print-config",
		Short: "Print the effective configuration",
		Long: `Print the defaults every run starts from. With --env, also resolve the
environment's hosts and group bindings from the inventory, the same way
an apply would.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := effectiveConfig{
				Inventory:        inventoryPath,
				FanOut:           engine.DefaultFanOut,
				OperationTimeout: engine.DefaultOperationTimeout.String(),
				Telemetry:        telemetry.DefaultConfig(),
			}
			cfg.Telemetry.Logging.Level = logLevel

			if environment != "" {
				inv, err := inventory.Load(inventoryPath)
				if err != nil {
					return err
				}
				hosts, err := inv.Hosts(environment, group)
				if err != nil {
					return err
				}
				bindings, err := inv.GroupBindings(environment, group)
				if err != nil {
					return err
				}
				cfg.Environment = environment
				cfg.Hosts = hosts
				cfg.Bindings = bindings
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "resolve this environment's hosts and bindings")
	cmd.Flags().StringVar(&group, "group", "", "restrict resolution to one host group")

	return cmd
}
