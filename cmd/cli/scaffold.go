package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/demoulas/profitsharing-migrator/migrations"
)

var (
	scaffoldOut  string
	scaffoldDeps []string
)

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold <name>",
	Short: "Write a new Go migration file",
	Example: `  psm scaffold add_country_iso3 --depends profit_code_surrogate_key`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := migrations.ScaffoldData{
			PackageName:  filepath.Base(scaffoldOut),
			Version:      migrations.NewVersion(time.Now()),
			Name:         args[0],
			Connection:   connection,
			Dependencies: scaffoldDeps,
		}
		if err := os.MkdirAll(scaffoldOut, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", scaffoldOut, err)
		}
		path := filepath.Join(scaffoldOut, data.FileName())
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return err
		}
		if err := migrations.Scaffold(f, data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
		return nil
	},
}
