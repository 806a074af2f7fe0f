package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
)

var (
	upVersion  string
	schemaFlag string
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations in dependency order",
	Example: `  psm up
  psm up --schema tenant_a --schema tenant_b
  psm up --version 20241219153000 --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		target := &registry.MigrationTarget{Connection: connection, Version: upVersion}
		result, err := rt.Executor.ExecuteUp(cliContext(cmd), target, connection, schemas, dryRun)
		if err != nil {
			return err
		}
		return printResult(cmd, result)
	},
}

var downCmd = &cobra.Command{
	Use:   "down <migration>",
	Short: "Revert one migration",
	Long: `Revert one migration in every given schema. The migration is named by its
ID ({version}_{name}_{backend}_{connection}), its name, or its version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		m, err := lookup(rt.Registry, args[0])
		if err != nil {
			return err
		}
		result, err := rt.Executor.ExecuteDown(cliContext(cmd), m.ID(), schemas, dryRun)
		if err != nil {
			return err
		}
		return printResult(cmd, result)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <migration>",
	Short: "Revert one applied migration in one schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		m, err := lookup(rt.Registry, args[0])
		if err != nil {
			return err
		}
		result, err := rt.Executor.Rollback(cliContext(cmd), m.ID(), schemaFlag)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
		}
		if !result.Success {
			return fmt.Errorf("rollback of %s failed", m.ID())
		}
		return nil
	},
}

var rehearseCmd = &cobra.Command{
	Use:   "rehearse <migration>",
	Short: "Run Up then Down in a rolled-back transaction and compare snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, _, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		m, err := lookup(rt.Registry, args[0])
		if err != nil {
			return err
		}
		report, err := rt.Executor.Rehearse(cliContext(cmd), m.ID(), schemaFlag)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s in %s: up %s, down %s\n", report.MigrationID, report.Schema, report.UpDuration, report.DownDuration)
		if report.Clean() {
			fmt.Fprintf(out, "clean: %s restored\n", strings.Join(report.Tables, ", "))
			return nil
		}
		for _, d := range report.Differences {
			fmt.Fprintf(out, "  %s\n", d)
		}
		return fmt.Errorf("%d difference(s) after down", len(report.Differences))
	},
}

var scriptDirection string

var scriptCmd = &cobra.Command{
	Use:   "script <migration>",
	Short: "Print the SQL of a migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := backends.Direction(strings.ToLower(scriptDirection))
		if dir != backends.Up && dir != backends.Down {
			return fmt.Errorf("direction must be up or down, got %q", scriptDirection)
		}
		// Printing needs the registry only, not the databases.
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		if _, err := executor.NewLoader(cfg.Server.MigrationsPath).LoadAll(registry.GlobalRegistry); err != nil {
			return err
		}
		m, err := lookup(registry.GlobalRegistry, args[0])
		if err != nil {
			return err
		}
		body := m.Body(dir)
		if body == "" {
			return fmt.Errorf("migration %s has no %s script", m.ID(), dir)
		}
		fmt.Fprint(cmd.OutOrStdout(), body)
		if !strings.HasSuffix(body, "\n") {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

// lookup accepts a migration ID, name or version and requires a single match.
func lookup(reg registry.Registry, ref string) (*backends.MigrationScript, error) {
	if m := reg.GetByID(ref); m != nil {
		return m, nil
	}
	matches := reg.GetMigrationByName(ref)
	if len(matches) == 0 {
		matches = reg.GetMigrationByVersion(ref)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("migration not found: %s", ref)
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID()
	}
	return nil, fmt.Errorf("%s is ambiguous: %s", ref, strings.Join(ids, ", "))
}

func printResult(cmd *cobra.Command, result *executor.ExecuteResult) error {
	out := cmd.OutOrStdout()
	for _, id := range result.Applied {
		fmt.Fprintf(out, "applied  %s\n", id)
	}
	for _, id := range result.Skipped {
		fmt.Fprintf(out, "skipped  %s\n", id)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "error    %s\n", e)
	}
	if !result.Success {
		return fmt.Errorf("%d error(s)", len(result.Errors))
	}
	return nil
}
