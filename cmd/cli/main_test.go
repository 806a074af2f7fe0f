package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/executor"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
)

func TestLookup(t *testing.T) {
	reg := registry.NewInMemoryRegistry()
	for _, m := range []*backends.MigrationScript{
		{Version: "20241201000000", Name: "create_profit_sharing_lookups", Connection: "profitsharing", Backend: "postgresql", UpSQL: "SELECT 1;"},
		{Version: "20241219153000", Name: "profit_code_surrogate_key", Connection: "profitsharing", Backend: "postgresql", UpSQL: "SELECT 1;"},
		{Version: "20241219153000", Name: "profit_code_surrogate_key", Connection: "archive", Backend: "postgresql", UpSQL: "SELECT 1;"},
	} {
		require.NoError(t, reg.Register(m))
	}

	m, err := lookup(reg, "20241201000000_create_profit_sharing_lookups_postgresql_profitsharing")
	require.NoError(t, err)
	assert.Equal(t, "create_profit_sharing_lookups", m.Name)

	m, err = lookup(reg, "create_profit_sharing_lookups")
	require.NoError(t, err)
	assert.Equal(t, "20241201000000", m.Version)

	m, err = lookup(reg, "20241201000000")
	require.NoError(t, err)
	assert.Equal(t, "create_profit_sharing_lookups", m.Name)

	_, err = lookup(reg, "profit_code_surrogate_key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = lookup(reg, "missing")
	require.EqualError(t, err, "migration not found: missing")
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := printResult(cmd, &executor.ExecuteResult{
		Success: false,
		Applied: []string{"public:a"},
		Skipped: []string{"public:b (not run: earlier failure)"},
		Errors:  []string{"public:c: boom"},
	})
	require.EqualError(t, err, "1 error(s)")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"applied  public:a",
		"skipped  public:b (not run: earlier failure)",
		"error    public:c: boom",
	}, lines)
}

func TestScaffoldCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profitsharing")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"scaffold", "add_country_iso3", "--output", dir, "--depends", "profit_code_surrogate_key"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_add_country_iso3.go"))

	body, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "package profitsharing")
	assert.Contains(t, string(body), `"profit_code_surrogate_key"`)
	assert.Contains(t, out.String(), "created ")
}
