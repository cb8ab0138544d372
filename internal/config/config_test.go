package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "ohlcv-downloader", config.AppName)
	assert.NotEmpty(t, config.SavePath)
	assert.Equal(t, "01-01-2020", config.Defaults.StartDate)
	assert.Equal(t, "00:00:00", config.Defaults.StartHour)
	assert.Equal(t, 500*time.Millisecond, config.Acquisition.PacingDelay)
	assert.Len(t, config.Exchanges, 5)
	assert.Equal(t, 2*time.Second, config.Exchanges["kraken"].CursorPacing)
	assert.Equal(t, "https://api.exmo.com", config.Exchanges["exmo"].BaseURL)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "candles", config.Export.Table)
}

func TestConfigValidation(t *testing.T) {
	logger := slog.Default()
	cm := NewConfigManager("", logger)

	t.Run("valid config passes validation", func(t *testing.T) {
		assert.NoError(t, cm.validateConfig(DefaultConfig()))
	})

	t.Run("missing save path fails", func(t *testing.T) {
		config := DefaultConfig()
		config.SavePath = ""
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "save_path is required")
	})

	t.Run("malformed default start fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Defaults.StartDate = "2020-01-01"
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "defaults.start_date/start_hour")
	})

	t.Run("pacing below the minimum fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Acquisition.PacingDelay = 100 * time.Millisecond
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "acquisition.pacing_delay must be at least 500ms")
	})

	t.Run("enabled exchange needs a base url", func(t *testing.T) {
		config := DefaultConfig()
		kraken := config.Exchanges["kraken"]
		kraken.BaseURL = ""
		config.Exchanges["kraken"] = kraken
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "exchanges.kraken.base_url is required")
	})

	t.Run("disabled exchange is not validated", func(t *testing.T) {
		config := DefaultConfig()
		config.Exchanges["kraken"] = ExchangeConfig{Enabled: false}
		assert.NoError(t, cm.validateConfig(config))
	})

	t.Run("invalid log level fails", func(t *testing.T) {
		config := DefaultConfig()
		config.Logging.Level = "invalid"
		err := cm.validateConfig(config)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level must be one of")
	})

	t.Run("collects every error", func(t *testing.T) {
		config := DefaultConfig()
		config.SavePath = ""
		config.Logging.Format = "xml"
		config.Acquisition.EventBuffer = 0
		err := cm.validateConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save_path is required")
		assert.Contains(t, err.Error(), "logging.format must be one of")
		assert.Contains(t, err.Error(), "acquisition.event_buffer must be greater than 0")
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	content := `
save_path: ` + tempDir + `
defaults:
  start_date: "15-06-2021"
acquisition:
  pacing_delay: 750ms
exchanges:
  kraken:
    base_url: http://localhost:9999
    cursor_pacing: 0s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cm := NewConfigManager(configPath, logger).WithEnvFile("")

	t.Run("loads config from file", func(t *testing.T) {
		loaded, err := cm.LoadConfig(context.Background())
		require.NoError(t, err)

		assert.Equal(t, tempDir, loaded.SavePath)
		assert.Equal(t, "15-06-2021", loaded.Defaults.StartDate)
		assert.Equal(t, "00:00:00", loaded.Defaults.StartHour, "unset keys keep defaults")
		assert.Equal(t, 750*time.Millisecond, loaded.Acquisition.PacingDelay)
		assert.Equal(t, "http://localhost:9999", loaded.Exchanges["kraken"].BaseURL)
		assert.Equal(t, time.Duration(0), loaded.Exchanges["kraken"].CursorPacing)
		assert.Equal(t, 30*time.Second, loaded.Exchanges["kraken"].Timeout)
		assert.Equal(t, "https://api.exmo.com", loaded.Exchanges["exmo"].BaseURL)
		assert.Equal(t, "debug", loaded.Logging.Level)
		assert.Same(t, loaded, cm.GetConfig())
	})

	t.Run("handles invalid file", func(t *testing.T) {
		invalidPath := filepath.Join(tempDir, "invalid.yaml")
		require.NoError(t, os.WriteFile(invalidPath, []byte("save_path: [unterminated"), 0644))

		_, err := NewConfigManager(invalidPath, logger).WithEnvFile("").LoadConfig(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("handles non-existent file gracefully", func(t *testing.T) {
		missing := filepath.Join(tempDir, "does_not_exist.yaml")
		config, err := NewConfigManager(missing, logger).WithEnvFile("").LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Defaults, config.Defaults)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		badPath := filepath.Join(tempDir, "bad.yaml")
		require.NoError(t, os.WriteFile(badPath, []byte("acquisition:\n  pacing_delay: 10ms\n"), 0644))
		_, err := NewConfigManager(badPath, logger).WithEnvFile("").LoadConfig(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
	})
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("OHLCV_SAVE_PATH", tempDir)
		t.Setenv("OHLCV_LOGGING_LEVEL", "warn")
		t.Setenv("OHLCV_EXCHANGES_BITFINEX_BASE_URL", "http://bitfinex.test")

		config, err := NewConfigManager("", nil).WithEnvFile("").LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tempDir, config.SavePath)
		assert.Equal(t, "warn", config.Logging.Level)
		assert.Equal(t, "http://bitfinex.test", config.Exchanges["bitfinex"].BaseURL)
	})

	t.Run("reads a .env file", func(t *testing.T) {
		envPath := filepath.Join(tempDir, ".env")
		require.NoError(t, os.WriteFile(envPath, []byte("OHLCV_DEFAULTS_START_HOUR=06:30:00\n"), 0644))
		t.Cleanup(func() { os.Unsetenv("OHLCV_DEFAULTS_START_HOUR") })

		config, err := NewConfigManager("", nil).WithEnvFile(envPath).LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "06:30:00", config.Defaults.StartHour)
	})
}

func TestSetSavePath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "conf", "config.yaml")
	saveDir := filepath.Join(tempDir, "data")
	require.NoError(t, os.MkdirAll(saveDir, 0755))

	cm := NewConfigManager(configPath, nil).WithEnvFile("")
	_, err := cm.LoadConfig(context.Background())
	require.NoError(t, err)

	t.Run("persists the new folder", func(t *testing.T) {
		require.NoError(t, cm.SetSavePath(saveDir))
		assert.Equal(t, saveDir, cm.GetConfig().SavePath)

		v := viper.New()
		v.SetConfigFile(configPath)
		require.NoError(t, v.ReadInConfig())
		assert.Equal(t, saveDir, v.GetString("save_path"))

		reloaded, err := NewConfigManager(configPath, nil).WithEnvFile("").LoadConfig(context.Background())
		require.NoError(t, err)
		assert.Equal(t, saveDir, reloaded.SavePath)
	})

	t.Run("rejects a missing folder", func(t *testing.T) {
		assert.Error(t, cm.SetSavePath(filepath.Join(tempDir, "nope")))
	})

	t.Run("rejects a file", func(t *testing.T) {
		file := filepath.Join(tempDir, "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		err := cm.SetSavePath(file)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "is not a directory")
	})
}
