package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "venue.db", cfg.Database.Path)
	require.Equal(t, 3, cfg.Engine.SettlementRetries)
	require.Equal(t, time.Minute, cfg.SweepInterval())
	require.NoError(t, cfg.Validate())
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
database:
  path: /tmp/venue-test.db
engine:
  settlement_retries: 5
  sweep_interval_sec: 30
logging:
  level: debug
`), 0o644))

	t.Setenv("VENUE_PORT", "9999")
	t.Setenv("VENUE_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9999", cfg.Server.Port, "env override wins")
	require.Equal(t, "/tmp/venue-test.db", cfg.Database.Path)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, 5, cfg.Engine.SettlementRetries)
	require.Equal(t, 30*time.Second, cfg.SweepInterval())
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
