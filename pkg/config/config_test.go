package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 30*time.Second, cfg.Conversation.DefaultTimeout)
	require.Equal(t, 50, cfg.Meeting.MaxParticipants)
	require.False(t, cfg.MetricsEnabled)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PASSWORD", "secret")

	yamlContent := []byte("conversation:\n  default_timeout: 5s\n  max_timeout: 60s\n  fast_path_deadline: 50ms\nmetrics_enabled: true\n")
	require.NoError(t, os.WriteFile(dir+"/coordinator.yaml", yamlContent, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Conversation.DefaultTimeout)
	require.True(t, cfg.MetricsEnabled)
}

func TestLoad_MissingPasswordFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PASSWORD", "")

	_, err := Load(dir)
	require.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	require.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
