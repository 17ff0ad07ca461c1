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
	t.Run("create logger with console output", func(t *testing.T) {
		cfg := Config{
			Level:   "info",
			Console: true,
			Pretty:  false,
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)

		if logger != nil {
			logger.Close()
		}
	})

	t.Run("create logger with file output", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "test.log")

		cfg := Config{
			Level:   "debug",
			File:    logFile,
			Console: false,
		}

		logger, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)

		// Write a log message
		logger.Info().Msg("test message")

		logger.Close()

		// Verify file was created
		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("redacts configured secrets in the file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "agerus.log")

		logger, err := New(Config{
			Level:     "info",
			File:      logFile,
			Redaction: true,
			Secrets:   []string{"local-gateway-pass"},
		})
		require.NoError(t, err)
		require.NotNil(t, logger.redactor)

		logger.Info().
			Str("key", "sk-ant-REDACTED").
			Str("auth", "local-gateway-pass").
			Msg("Requesting model turn")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Requesting model turn")
		assert.NotContains(t, string(data), "abcdefghijklmnopqrstuvwxyz")
		assert.NotContains(t, string(data), "local-gateway-pass")
	})

	t.Run("level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer logger.Close()
		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("no sinks discards output", func(t *testing.T) {
		logger, err := New(Config{Level: "debug"})
		require.NoError(t, err)
		defer logger.Close()
		assert.Nil(t, logger.file)
		logger.Debug().Msg("dropped")
	})
}

func TestLoggerLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "agerus.log")

	logger, err := New(Config{Level: "warn", File: logFile})
	require.NoError(t, err)

	logger.Debug().Msg("debug line")
	logger.Info().Msg("info line")
	logger.Warn().Str("tool", "fetch_url").Msg("warn line")
	logger.Error().Msg("error line")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, `"tool":"fetch_url"`)
	assert.Contains(t, out, "error line")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.False(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 3, cfg.MaxBackups)
}

func TestLoggerWith(t *testing.T) {
	cfg := Config{
		Level:   "info",
		Console: false,
	}

	logger, err := New(cfg)
	require.NoError(t, err)
	defer logger.Close()

	ctx := logger.With()
	assert.NotNil(t, ctx)

	childLogger := ctx.Str("component", "test").Logger()
	assert.NotNil(t, childLogger)
}

func TestGetZerolog(t *testing.T) {
	cfg := Config{
		Level:   "info",
		Console: false,
	}

	logger, err := New(cfg)
	require.NoError(t, err)
	defer logger.Close()

	zl := logger.GetZerolog()
	assert.Equal(t, zerolog.InfoLevel, zl.GetLevel())
}
