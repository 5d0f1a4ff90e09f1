package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, home, cfg.DataDir)
	assert.Equal(t, StoreJSON, cfg.Store)
	assert.Equal(t, "fold", cfg.KDF)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.AuditEnabled())
	assert.Equal(t, filepath.Join(home, "credentials.json"), cfg.CredentialsPath())
	assert.Equal(t, filepath.Join(home, "settings.json"), cfg.SettingsPath())
	assert.Equal(t, filepath.Join(home, "audit"), cfg.AuditDir())

	d, err := cfg.Interval()
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestLoad_File(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)
	data := `
data_dir: /var/lib/aipulse
store: sqlite
kdf: argon2
log_format: json
refresh_interval: 2m
metrics_addr: 127.0.0.1:9464
audit: false
`
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(data), 0600))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/aipulse", cfg.DataDir)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "argon2", cfg.KDF)
	assert.Equal(t, "info", cfg.LogLevel, "unset fields keep defaults")
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
	assert.False(t, cfg.AuditEnabled())
	assert.Equal(t, filepath.Join("/var/lib/aipulse", "aipulse.db"), cfg.CredentialsPath())

	d, err := cfg.Interval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown store":  "store: redis\n",
		"unknown kdf":    "kdf: scrypt\n",
		"unknown format": "log_format: xml\n",
		"bad interval":   "refresh_interval: soon\n",
		"short interval": "refresh_interval: 5s\n",
		"bad yaml":       "store: [\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(HomeEnv, t.TempDir())
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Store = StoreSQLite
	cfg.RefreshInterval = "90s"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestHomeDir_FallsBackToUserHome(t *testing.T) {
	t.Setenv(HomeEnv, "")
	t.Setenv("HOME", "/home/tester")

	dir, err := HomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".aipulse"), dir)
}
