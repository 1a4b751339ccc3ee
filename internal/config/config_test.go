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
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, 50, cfg.FeedWindow)
	assert.Equal(t, time.Second, cfg.OutboxInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "redis", cfg.ChangefeedTransport)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(f, []byte("DB_DRIVER=postgres\nFEED_WINDOW=20\nALLOWED_ORIGINS=http://a.test, http://b.test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DB_DRIVER")
		os.Unsetenv("FEED_WINDOW")
		os.Unsetenv("ALLOWED_ORIGINS")
	})

	cfg, err := Load(f)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 20, cfg.FeedWindow)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("CHANGEFEED_TRANSPORT", "carrier-pigeon")
	_, err = Load(filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)

	t.Setenv("CHANGEFEED_TRANSPORT", "local")
	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)

	t.Setenv("OUTBOX_INTERVAL", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}
