package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rpattn/shiprecon/internal/errors"
)

func TestLoadUsesDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 3, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 45*time.Second, cfg.Oracle.Deadline)
	assert.Equal(t, "localhost", cfg.Database.Host)
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
database:
  host: db.internal
  port: 6543
oracle:
  timeout: 5s
pipeline:
  chunk_size: 50
  workers: 2
dictionary:
  path: /etc/shiprecon/dictionary.yaml
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))
	t.Setenv("SHIPRECON_PIPELINE_WORKERS", "8")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 5*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 50, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "/etc/shiprecon/dictionary.yaml", cfg.Dictionary.Path)
}

func TestValidateRejectsOracleWithoutCredentials(t *testing.T) {
	cfg := Default()
	cfg.Oracle.Enabled = true
	cfg.Oracle.APIKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	cfg.Oracle.APIKey = "secret"
	assert.NoError(t, cfg.Validate())
}
