package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/demoulas/profitsharing-migrator/internal/backends"
	"github.com/demoulas/profitsharing-migrator/internal/config"
	"github.com/demoulas/profitsharing-migrator/internal/registry"
	"github.com/demoulas/profitsharing-migrator/internal/state"
)

type scanTracker struct {
	state.StateTracker
	scanned []*state.MigrationListItem
	closed  bool
}

func (s *scanTracker) RegisterScannedMigration(_ context.Context, item *state.MigrationListItem) error {
	s.scanned = append(s.scanned, item)
	return nil
}

func (s *scanTracker) Close() error {
	s.closed = true
	return nil
}

func TestNewWithTracker(t *testing.T) {
	dir := t.TempDir()
	conn := filepath.Join(dir, "postgresql", "profitsharing")
	require.NoError(t, os.MkdirAll(conn, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(conn, "20250101000000_add_audit.up.sql"), []byte("SELECT 1;\n"), 0o644))

	cfg := &config.Config{
		Server: config.ServerConfig{MigrationsPath: dir},
		Lock:   config.LockConfig{Type: "none"},
		Connections: map[string]*backends.ConnectionConfig{
			"profitsharing": {Backend: "postgresql", Schema: "demoulas"},
		},
	}
	tracker := &scanTracker{}
	rt, err := NewWithTracker(context.Background(), cfg, tracker, registry.NewInMemoryRegistry())
	require.NoError(t, err)

	require.NotNil(t, rt.Registry.GetByID("20250101000000_add_audit_postgresql_profitsharing"))
	require.Len(t, tracker.scanned, 1)
	assert.Equal(t, "demoulas", tracker.scanned[0].Schema)
	assert.Equal(t, state.StatusPending, tracker.scanned[0].LastStatus)
	assert.NotNil(t, rt.Executor.GetBackend("postgresql"))

	require.NoError(t, rt.Close())
	assert.True(t, tracker.closed)
}

func TestNewWithTrackerBadLock(t *testing.T) {
	cfg := &config.Config{
		Server:      config.ServerConfig{MigrationsPath: t.TempDir()},
		Lock:        config.LockConfig{Type: "zookeeper"},
		Connections: map[string]*backends.ConnectionConfig{},
	}
	tracker := &scanTracker{}
	_, err := NewWithTracker(context.Background(), cfg, tracker, registry.NewInMemoryRegistry())
	require.Error(t, err)
	assert.True(t, tracker.closed)
}
