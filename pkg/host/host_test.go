package host

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dccmcp/internal/config"
	"github.com/rendis/dccmcp/internal/discovery"
	"github.com/rendis/dccmcp/internal/store"
	"github.com/rendis/dccmcp/pkg/schema"
)

func examplesDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "examples", "actions")
}

func testConfig(t *testing.T, paths ...string) config.Config {
	t.Helper()
	t.Setenv(discovery.EnvActionPaths, "")
	t.Setenv(discovery.EnvActionsDir, "")
	t.Setenv(discovery.EnvActionPathPrefix+"MAYA", "")
	cfg := config.Default()
	cfg.Scope = "maya"
	cfg.ActionPaths = paths
	return cfg
}

func newHost(t *testing.T, cfg config.Config) *Host {
	t.Helper()
	h, err := New(context.Background(), cfg, Options{LogOutput: io.Discard, NoUserRoot: true})
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = -1
	cfg.DuplicatePolicy = "merge"

	_, err := New(context.Background(), cfg, Options{LogOutput: io.Discard, NoUserRoot: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "max_workers")
}

func TestHost_RefreshRegistersTools(t *testing.T) {
	h := newHost(t, testConfig(t, examplesDir()))
	assert.Nil(t, h.Journal())
	assert.Empty(t, h.MCP().Tools())

	assert.Equal(t, 0, h.Refresh(context.Background(), true))
	assert.Contains(t, h.MCP().Tools(), "create_sphere")
	assert.Contains(t, h.MCP().Tools(), "echo")
	assert.NotNil(t, h.MCPServer().GetTool("create_sphere"))
}

func TestHost_RefreshCountsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0o644))

	h := newHost(t, testConfig(t, dir))
	assert.Equal(t, 1, h.Refresh(context.Background(), false))
	assert.Empty(t, h.MCP().Tools())
}

func TestHost_JournalRecordsCalls(t *testing.T) {
	cfg := testConfig(t, examplesDir())
	cfg.JournalPath = filepath.Join(t.TempDir(), "nested", "journal.db")
	cfg.Middleware = []string{"logging"}

	h := newHost(t, cfg)
	require.NotNil(t, h.Journal())
	assert.Equal(t, []string{"logging"}, h.Manager().Middleware())
	require.Equal(t, 0, h.Refresh(context.Background(), false))

	res := h.Manager().CallAction(context.Background(), "create_sphere", map[string]any{"radius": 2.0})
	require.True(t, res.Success, res.Error)

	entries, err := h.Journal().ListEvents(context.Background(), store.EventFilter{
		Names:  []string{schema.EventAfterExecute},
		Action: "create_sphere",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Success)
	assert.True(t, *entries[0].Success)
}
