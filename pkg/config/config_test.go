package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", cfg.Ledger.Commitment)
	assert.Equal(t, 2*time.Second, cfg.Polling.PollInterval())
	assert.Equal(t, time.Minute, cfg.Polling.MaxWait())
	assert.Equal(t, 30*time.Second, cfg.Cache.StaleAfter())
	assert.Equal(t, time.Hour, cfg.Session.TTL())
}

func TestYAMLMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "votesphere.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  rpc_url: http://127.0.0.1:8899
  commitment: finalized
polling:
  max_wait_seconds: 90
retry:
  max_retries: 5
  initial_backoff_ms: 50
log:
  format: json
`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8899", cfg.Ledger.RPCURL)
	assert.Equal(t, "finalized", cfg.Ledger.Commitment)
	assert.Equal(t, 90*time.Second, cfg.Polling.MaxWait())
	assert.Equal(t, 2000, cfg.Polling.IntervalMS, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Log.Format)

	p := cfg.Retry.Policy()
	assert.Equal(t, 5, p.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 5*time.Second, p.MaxBackoff)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "votesphere.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  rpc_url: http://file\n"), 0600))

	t.Setenv("VOTESPHERE_RPC_URL", "http://env")
	t.Setenv("VOTESPHERE_DB_PATH", "/tmp/x.db")
	t.Setenv("VOTESPHERE_MAX_WAIT_SECONDS", "5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.Ledger.RPCURL)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Polling.MaxWaitSeconds)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ledger: [unterminated"), 0600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("ledger:\n  commitment: maybe\n"), 0600))
	_, err = LoadConfig(invalid)
	assert.ErrorContains(t, err, "commitment")

	t.Setenv("VOTESPHERE_MAX_WAIT_SECONDS", "soon")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VOTESPHERE_PROGRAM_ID=FromDotEnv111\n"), 0600))

	// t.Setenv registers cleanup so the variable does not leak
	t.Setenv("VOTESPHERE_PROGRAM_ID", "")
	require.NoError(t, os.Unsetenv("VOTESPHERE_PROGRAM_ID"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), envFile))
	assert.Equal(t, "FromDotEnv111", os.Getenv("VOTESPHERE_PROGRAM_ID"))
}
