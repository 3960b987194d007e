package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/engine"
	"github.com/convergeops/converge/pkg/inventory"
	"github.com/convergeops/converge/pkg/playbook"
)

func newRenderCommand() *cobra.Command {
	var (
		environment string
		hostID      string
		setValues   []string
	)

	cmd := &cobra.Command{
		Use:   "render <playbook>",
		Short: "Render a playbook without converging anything",
		Long: `Render the playbook against the environment's bindings and print the
resulting operations. Rendering fails fast: an unresolved variable or a
malformed template is reported before any host would be touched, which
makes this the cheap way to validate a playbook change.`,
		Example: `  # Show the operations a staging run would execute
  converge render provision-load-balancer --env staging

  # Render with one host's variable overrides layered in
  converge render deploy-binary --env production --host app-1`,
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

			bindings, err := inv.GroupBindings(environment, pb.Group)
			if err != nil {
				return err
			}

			if hostID != "" {
				host, err := findHost(inv, environment, pb.Group, hostID)
				if err != nil {
					return err
				}
				for k, v := range host.Vars {
					bindings[k] = v
				}
			}

			extra, err := parseBindings(setValues)
			if err != nil {
				return err
			}
			for k, v := range extra {
				bindings[k] = v
			}

			ops, err := engine.Render(*pb, bindings)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(ops)
			}
			return yaml.NewEncoder(os.Stdout).Encode(ops)
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "inventory environment to render against")
	cmd.Flags().StringVar(&hostID, "host", "", "layer this host's variable overrides into the bindings")
	cmd.Flags().StringArrayVar(&setValues, "set", nil, "binding override (key=value, repeatable)")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func findHost(inv *inventory.Inventory, environment, group, hostID string) (engine.Host, error) {
	hosts, err := inv.Hosts(environment, group)
	if err != nil {
		return engine.Host{}, err
	}
	for _, host := range hosts {
		if host.ID == hostID {
			return host, nil
		}
	}
	return engine.Host{}, fmt.Errorf("host %q not found in environment %q group %q", hostID, environment, group)
}
