package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad_DefaultsWithLedgerURL(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LEDGER_URL", "http://node:8080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5200, cfg.Port)
	assert.Equal(t, ":5200", cfg.Addr())
	assert.Equal(t, 20, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, 100, cfg.Pagination.MaxPageSize)
	assert.Equal(t, 10000, cfg.Mirror.MaxBlocks)
	assert.Equal(t, 5*time.Second, cfg.Refresh.BlockInterval)
	assert.Equal(t, time.Minute, cfg.Refresh.BackoffMax)
	assert.Equal(t, 2, cfg.Query.PointRetries)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "explorer.yaml", `
port: 6000
ledger_dsn: postgres://wsv
pagination:
  default_page_size: 10
  max_page_size: 50
refresh:
  block_interval: 2s
  backoff_max: 10s
`)
	t.Setenv("PORT", "7000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("COLD_FETCH_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port, "environment wins over the file")
	assert.Equal(t, "postgres://wsv", cfg.LedgerDSN)
	assert.Equal(t, 10, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, 50, cfg.Pagination.MaxPageSize)
	assert.Equal(t, 2*time.Second, cfg.Refresh.BlockInterval)
	assert.Equal(t, 30*time.Second, cfg.Refresh.DomainInterval, "unset keys keep defaults")
	assert.Equal(t, 750*time.Millisecond, cfg.Query.ColdFetchTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_ConfigFileFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("CONFIG_FILE", writeFile(t, dir, "c.yaml", "ledger_url: http://node\nmirror:\n  max_blocks: 5\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Mirror.MaxBlocks)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "LEDGER_URL=http://from-dotenv\nPOINT_RETRIES=4\n")
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_URL")
		os.Unsetenv("POINT_RETRIES")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv", cfg.LedgerURL)
	assert.Equal(t, 4, cfg.Query.PointRetries)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "no ledger", env: map[string]string{"LEDGER_URL": "", "LEDGER_DSN": ""}},
		{name: "bad int", env: map[string]string{"LEDGER_URL": "http://n", "MAX_PAGE_SIZE": "lots"}},
		{name: "bad duration", env: map[string]string{"LEDGER_URL": "http://n", "BACKOFF_MAX": "soon"}},
		{name: "default above max", env: map[string]string{"LEDGER_URL": "http://n", "DEFAULT_PAGE_SIZE": "200"}},
		{name: "backoff inverted", env: map[string]string{"LEDGER_URL": "http://n", "BACKOFF_INITIAL": "2m"}},
		{name: "bad yaml", env: map[string]string{"LEDGER_URL": "http://n"}, file: "port: [1"},
		{name: "missing file", env: map[string]string{"LEDGER_URL": "http://n", "CONFIG_FILE": "/nonexistent/explorer.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			chdir(t, dir)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, dir, "bad.yaml", tt.file)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
