package main

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/demoulas/profitsharing-migrator/internal/bootstrap"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

var version = "dev"

var (
	envFile    string
	connection string
	schemas    []string
	dryRun     bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "psm",
	Short: "Profit-sharing database migrations",
	Long: `psm applies, reverts and inspects the profit-sharing database migrations.

Connections are configured through {NAME}_BACKEND, {NAME}_DB_HOST, ... variables
and the state database through PSM_STATE_DB_*. A .env file is read when present.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logger.ParseLevel("debug"))
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("psm version %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	for _, cmd := range []*cobra.Command{upCmd, downCmd} {
		cmd.Flags().StringSliceVarP(&schemas, "schema", "s", nil, "Schema to run against (repeatable, default: connection schema)")
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would run without executing")
	}
	upCmd.Flags().StringVarP(&connection, "connection", "c", "profitsharing", "Connection to migrate")
	upCmd.Flags().StringVar(&upVersion, "version", "", "Only run the migration with this version")

	for _, cmd := range []*cobra.Command{rollbackCmd, rehearseCmd, statusCmd, historyCmd} {
		cmd.Flags().StringVarP(&schemaFlag, "schema", "s", "", "Schema (default: connection schema)")
	}
	statusCmd.Flags().StringVarP(&statusConnection, "connection", "c", "", "Only list migrations of this connection")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of executions to list")
	scriptCmd.Flags().StringVarP(&scriptDirection, "direction", "d", "up", "Script direction: up or down")
	verifyCmd.Flags().StringVarP(&connection, "connection", "c", "profitsharing", "Connection to verify")
	verifyCmd.Flags().StringVarP(&schemaFlag, "schema", "s", "", "Schema (default: connection schema)")

	scaffoldCmd.Flags().StringVarP(&scaffoldOut, "output", "o", "migrations/profitsharing", "Directory for the new migration file")
	scaffoldCmd.Flags().StringVarP(&connection, "connection", "c", "profitsharing", "Connection the migration targets")
	scaffoldCmd.Flags().StringSliceVar(&scaffoldDeps, "depends", nil, "Names of migrations this one depends on")

	rootCmd.AddCommand(upCmd, downCmd, rollbackCmd, rehearseCmd, statusCmd, historyCmd,
		scriptCmd, verifyCmd, scaffoldCmd, versionCmd)
}

// openRuntime loads configuration and opens the executor for one command.
func openRuntime(ctx context.Context) (*bootstrap.Runtime, *config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return rt, cfg, nil
}

// cliContext tags executions started from the command line.
func cliContext(cmd *cobra.Command) context.Context {
	executedBy := "cli"
	if u, err := user.Current(); err == nil && u.Username != "" {
		executedBy = u.Username
	}
	return executor.SetExecutionContext(cmd.Context(), executedBy, state.MethodCLI, map[string]interface{}{
		"command": cmd.Name(),
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
