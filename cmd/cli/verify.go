package main

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/demoulas/profitsharing-migrator/internal/backends/postgresql"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/schema"
	"github.com/demoulas/profitsharing-migrator/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the profit-sharing tables for data a migration would reject",
	Long: `verify reads the profit-sharing tables in a read-only transaction. It reports
week endings that do not convert between YYMMDD and YYYYMMDD, and PROFIT_DETAIL
rows that reference a missing profit code. It exits non-zero when it finds any.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		conn, ok := cfg.Connections[connection]
		if !ok {
			return fmt.Errorf("connection %s not found", connection)
		}
		target := schemaFlag
		if target == "" {
			target = conn.Schema
		}
		if target == "" {
			target = executor.DefaultSchema
		}

		backend := postgresql.NewBackend()
		if err := backend.Connect(conn); err != nil {
			return err
		}
		defer backend.Close()

		ctx := cmd.Context()
		tx, err := backend.DB().BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+schema.QuoteIdentifier(target)); err != nil {
			return fmt.Errorf("failed to set search_path: %w", err)
		}

		report, err := verify.Check(ctx, tx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		shape := "legacy"
		if report.Restructured {
			shape = "restructured"
		}
		fmt.Fprintf(out, "%s.%s: %s shape, %d profit code(s)\n", connection, target, shape, len(report.ProfitCodes))

		table := tablewriter.NewWriter(out)
		table.Header("Profit code", "PROFIT_DETAIL rows")
		for _, code := range verify.SortedKeys(report.Histogram) {
			if err := table.Append([]string{strconv.Itoa(code), strconv.FormatInt(report.Histogram[code], 10)}); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		if report.OK() {
			fmt.Fprintln(out, "no problems found")
			return nil
		}
		for _, p := range report.Problems {
			fmt.Fprintf(out, "  %s\n", p)
		}
		return fmt.Errorf("%d problem(s) found", len(report.Problems))
	},
}
