package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "coindex.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Audit.Concurrency)
	assert.Zero(t, cfg.Audit.AutoApplyThreshold)
	assert.Equal(t, "https://api.numista.com/v3", cfg.Catalog.BaseURL)
	assert.Empty(t, cfg.Catalog.Key)
	assert.Equal(t, int64(1024), cfg.Anthropic.MaxTokens)
	assert.Equal(t, ".", cfg.Export.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COINDEX_STORE_DRIVER", "postgres")
	t.Setenv("COINDEX_STORE_DATABASE_URL", "postgres://localhost/coindex")
	t.Setenv("COINDEX_SERVER_PORT", "9090")
	t.Setenv("COINDEX_AUDIT_AUTO_APPLY_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/coindex", cfg.Store.DatabaseURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.9, cfg.Audit.AutoApplyThreshold)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))

	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	require.Error(t, err)
}
