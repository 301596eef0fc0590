package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Unattended)
	assert.Equal(t, 3, cfg.MaxAttemptsPerAccount)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, "data.json", cfg.LedgerFile)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.NotEmpty(t, cfg.SiteKey)
	assert.NotEmpty(t, cfg.TargetURL)
}

func TestLoadRejectsBlankSiteKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autologin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`site_key: ""`+"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site_key")
}

func TestLoadRejectsBlankTargetURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autologin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`target_url: ""`+"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_url")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autologin.yaml")
	body := `
unattended: false
poll_interval: 5s
max_attempts_per_account: 7
delay_min: 1s
delay_max: 2s
ledger_file: /var/lib/autologin/state.json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Unattended)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 7, cfg.MaxAttemptsPerAccount)
	assert.Equal(t, "/var/lib/autologin/state.json", cfg.LedgerFile)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autologin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver_url: http://from-file:8080\n"), 0o644))

	t.Setenv("AUTOLOGIN_SOLVER_URL", "http://from-env:9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:9090", cfg.SolverURL)
}

func TestLoadEnforcesPollFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autologin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 100ms\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.PollInterval, "poll interval must never drop below the floor")
}

func TestLoadRejectsBadDelayRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autologin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delay_min: 30s\ndelay_max: 10s\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delay range")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
