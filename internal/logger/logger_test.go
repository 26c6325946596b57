package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("creates console logger", func(t *testing.T) {
		l, err := New(Config{Level: "info", Console: true})

		require.NoError(t, err)
		defer l.Close()
		assert.Equal(t, zerolog.InfoLevel, l.GetZerolog().GetLevel())
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "chatty", Console: true})

		require.NoError(t, err)
		defer l.Close()
		assert.Equal(t, zerolog.InfoLevel, l.GetZerolog().GetLevel())
	})

	t.Run("writes to a log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "engine.log")
		l, err := New(Config{Level: "debug", File: path})
		require.NoError(t, err)

		l.GetZerolog().Info().Str("slug", "seo").Msg("plugin installed")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "plugin installed")
		assert.Contains(t, string(data), `"slug":"seo"`)
	})

	t.Run("close without file is a no-op", func(t *testing.T) {
		l, err := New(Config{Level: "warn", Console: true})
		require.NoError(t, err)
		assert.NoError(t, l.Close())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.Empty(t, cfg.File)
}
