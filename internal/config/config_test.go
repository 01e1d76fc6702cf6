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
	t.Setenv("TASKBOARD_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Equal(t, 3, cfg.SortKeyRetries)
	assert.True(t, cfg.RequireIfMatch)
	assert.False(t, cfg.S3Configured())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
database_driver: sqlite
database_url: /tmp/boards.db
sort_key_retries: 5
invitation_ttl: 48h
require_if_match: false
`), 0o600))
	t.Setenv("TASKBOARD_CONFIG", path)
	t.Setenv("API_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 5, cfg.SortKeyRetries)
	assert.Equal(t, 48*time.Hour, cfg.InvitationTTL)
	assert.False(t, cfg.RequireIfMatch)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TASKBOARD_CONFIG", "")
	t.Setenv("SORT_KEY_RETRIES", "many")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SORT_KEY_RETRIES", "")
	t.Setenv("DATABASE_DRIVER", "postgres")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}
