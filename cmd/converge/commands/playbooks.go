package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/convergeops/converge/pkg/playbook"
)

func newPlaybooksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbooks [name]",
		Short: "List built-in playbooks or show one",
		Long: `Without arguments, list the playbooks embedded in the binary. With a
name, print that playbook's operations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				pb, err := playbook.LoadBuiltin(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return json.NewEncoder(os.Stdout).Encode(pb)
				}
				return yaml.NewEncoder(os.Stdout).Encode(pb)
			}

			names := playbook.Builtins()
			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(names)
			}
			for _, name := range names {
				pb, err := playbook.LoadBuiltin(name)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s group=%-14s operations=%d\n", name, pb.Group, len(pb.Operations))
			}
			return nil
		},
	}
	return cmd
}
