package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the fleet-run history",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "run history database path")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded fleet runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := openStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(summaries)
			}
			for _, s := range summaries {
				fmt.Printf("%-36s %-28s %-12s %-8s hosts=%-3d %s (%s)\n",
					s.ID, s.Playbook, s.Environment, s.Status, s.HostCount,
					s.StartedAt.Format(time.RFC3339), s.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}
	list.Flags().Int("limit", 20, "max runs to list")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded fleet run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.GetFleetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("Run %s: playbook=%s environment=%s status=%s duration=%s\n\n",
				report.ID, report.Playbook, report.Environment, report.Status,
				report.Duration.Round(time.Millisecond))

			hostIDs := make([]string, 0, len(report.Hosts))
			for id := range report.Hosts {
				hostIDs = append(hostIDs, id)
			}
			sort.Strings(hostIDs)

			for _, id := range hostIDs {
				host := report.Hosts[id]
				fmt.Printf("%s: %s\n", id, host.Status)
				if host.Error != "" {
					fmt.Printf("  error: %s\n", host.Error)
				}
				for _, op := range host.Operations {
					line := fmt.Sprintf("  %-40s %s", op.Name, op.Disposition)
					if op.Error != "" {
						line += " (" + op.Error + ")"
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list)
	cmd.AddCommand(show)
	return cmd
}
