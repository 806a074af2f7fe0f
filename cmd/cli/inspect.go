package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/demoulas/profitsharing-migrator/internal/state"
)

var (
	historyLimit     int
	statusConnection string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List every known migration with its last status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		items, err := rt.Executor.GetMigrationList(cmd.Context(), &state.MigrationFilters{
			Connection: statusConnection,
			Schema:     schemaFlag,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no migrations recorded")
			return nil
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Migration", "Schema", "Status", "Applied", "Last run")
		for _, item := range items {
			if err := table.Append([]string{
				item.MigrationID, item.Schema, item.LastStatus, yesNo(item.Applied), item.LastAppliedAt,
			}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [migration]",
	Short: "List recorded executions, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		filters := &state.MigrationFilters{Schema: schemaFlag, Limit: historyLimit}
		if len(args) == 1 {
			m, err := lookup(rt.Registry, args[0])
			if err != nil {
				return err
			}
			filters.MigrationID = m.ID()
		}
		records, err := rt.Executor.GetMigrationHistory(cmd.Context(), filters)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("When", "Migration", "Schema", "Direction", "Status", "By", "Error")
		for _, r := range records {
			by := r.ExecutedBy
			if r.ExecutionMethod != "" {
				by = fmt.Sprintf("%s (%s)", r.ExecutedBy, r.ExecutionMethod)
			}
			if err := table.Append([]string{
				r.AppliedAt, r.MigrationID, r.Schema, string(r.Direction), r.Status, by, r.ErrorMessage,
			}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
