package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.LogLevel = "verbose"
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
}

func TestValidateDevModeSkipsBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "dev"
	cfg.Database.Host = ""
	cfg.Database.Database = ""
	cfg.Redis.Addr = ""

	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveModeRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "dev"
log_level = "debug"

[server]
port = 9100

[database]
host = "db.internal"
`), 0o644))

	t.Setenv("VESTD_SERVER_PORT", "9200")
	t.Setenv("VESTD_DATABASE_PASSWORD", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	// Env wins over the file.
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	// Untouched fields keep defaults.
	assert.Equal(t, "vestd", cfg.Database.Database)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.WebhookURL = "https://hooks.example.com/x"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.WebhookURL)

	// Original untouched.
	assert.Equal(t, "secret", cfg.Database.Password)
}
