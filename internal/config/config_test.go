package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Log.RetentionDays)
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoad_FileKeepsUnsetDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: \"9090\"\nexport:\n  dir: /tmp/out\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/tmp/out", cfg.Export.Dir)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DATABASE_DIR", "/var/lib/aiusage")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_RETENTION_DAYS", "7")
	t.Setenv("EXPORT_SCHEDULE", "0 2 * * *")
	t.Setenv("CORS_ORIGINS", "https://ops.example.com, ,http://localhost:5173")

	cfg := DefaultConfig()
	cfg.overrideFromEnv()

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, filepath.Join("/var/lib/aiusage", "ai_usage.db"), cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Log.RetentionDays)
	assert.Equal(t, "0 2 * * *", cfg.Schedule.Export)
	assert.Equal(t, []string{"https://ops.example.com", "http://localhost:5173"}, cfg.Server.AllowOrigins)
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		addr     string
		password string
		db       int
	}{
		{"host only", "redis://localhost:6379", "localhost:6379", "", 0},
		{"with db", "redis://cache:6379/3", "cache:6379", "", 3},
		{"with password", "redis://:secret@cache:6379/1", "cache:6379", "secret", 1},
		{"user and password", "redis://user:pw@cache:6380", "cache:6380", "pw", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{}
			c.parseRedisURL(tt.url)
			assert.Equal(t, tt.addr, c.Redis.Addr)
			assert.Equal(t, tt.password, c.Redis.Password)
			assert.Equal(t, tt.db, c.Redis.DB)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Export.Dir = "reports"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "reports", loaded.Export.Dir)
}
