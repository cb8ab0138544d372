// Package config provides the application configuration. It is loaded once at
// startup from defaults, an optional config file, an optional .env file and
// OHLCV_* environment variables, then passed explicitly to the components
// that need it.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OHLCV_SAVE_PATH.
const EnvPrefix = "OHLCV"

// MinPacingDelay is the smallest delay allowed between two windows of a job.
const MinPacingDelay = 500 * time.Millisecond

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName string `mapstructure:"app_name" json:"app_name"`
	Version string `mapstructure:"version" json:"version"`

	// Root folder; one subdirectory per exchange is created below it.
	SavePath string `mapstructure:"save_path" json:"save_path"`

	Defaults    DefaultsConfig            `mapstructure:"defaults" json:"defaults"`
	Acquisition AcquisitionConfig         `mapstructure:"acquisition" json:"acquisition"`
	Exchanges   map[string]ExchangeConfig `mapstructure:"exchanges" json:"exchanges"`
	Logging     LoggingConfig             `mapstructure:"logging" json:"logging"`
	Export      ExportConfig              `mapstructure:"export" json:"export"`
}

// DefaultsConfig holds the values offered when a new asset is added.
type DefaultsConfig struct {
	StartDate string `mapstructure:"start_date" json:"start_date"` // DD-MM-YYYY
	StartHour string `mapstructure:"start_hour" json:"start_hour"` // HH:mm:ss
}

// AcquisitionConfig configures the download orchestrator
type AcquisitionConfig struct {
	PacingDelay time.Duration `mapstructure:"pacing_delay" json:"pacing_delay"` // Delay between two windows of a job
	EventBuffer int           `mapstructure:"event_buffer" json:"event_buffer"` // Capacity of the event channel
}

// ExchangeConfig configures one exchange client
type ExchangeConfig struct {
	Enabled           bool          `mapstructure:"enabled" json:"enabled"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"`
	Burst             int           `mapstructure:"burst" json:"burst"`
	CursorPacing      time.Duration `mapstructure:"cursor_pacing" json:"cursor_pacing"` // Sleep between pages of cursor-paginated exchanges
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `mapstructure:"level" json:"level"`             // Log level: debug, info, warn, error
	Format        string            `mapstructure:"format" json:"format"`           // Log format: json, text
	Output        string            `mapstructure:"output" json:"output"`           // Output: stdout, stderr, file
	FilePath      string            `mapstructure:"file_path" json:"file_path"`     // Log file path
	MaxSize       int               `mapstructure:"max_size" json:"max_size"`       // Maximum log file size in MB
	MaxBackups    int               `mapstructure:"max_backups" json:"max_backups"` // Maximum log file backups
	MaxAge        int               `mapstructure:"max_age" json:"max_age"`         // Maximum log file age in days
	Compress      bool              `mapstructure:"compress" json:"compress"`       // Compress old log files
	ContextFields map[string]string `mapstructure:"context_fields" json:"context_fields"`
}

// ExportConfig configures the DuckDB export sink
type ExportConfig struct {
	DatabasePath string `mapstructure:"database_path" json:"database_path"`
	Table        string `mapstructure:"table" json:"table"`
}

// ConfigManager loads and persists the configuration
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envPath    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager. configPath may be
// empty or point to a file that does not exist yet.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigManager{
		configPath: configPath,
		envPath:    ".env",
		logger:     logger,
	}
}

// WithEnvFile changes the .env file read by LoadConfig.
func (cm *ConfigManager) WithEnvFile(path string) *ConfigManager {
	cm.envPath = path
	return cm
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables, including those from the .env file (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	if err := cm.loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cm.configPath != "" {
		if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
			cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		} else {
			v.SetConfigFile(cm.configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
			}
		}
	}

	config := &AppConfig{}
	if err := v.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"save_path", config.SavePath,
		"exchanges", len(config.Exchanges),
		"log_level", config.Logging.Level)

	return config, nil
}

func (cm *ConfigManager) loadEnvFile() error {
	if cm.envPath == "" {
		return nil
	}
	if _, err := os.Stat(cm.envPath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(cm.envPath); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", cm.envPath, err)
	}
	cm.logger.Debug("loaded environment file", "path", cm.envPath)
	return nil
}

// setDefaults registers every leaf key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("app_name", d.AppName)
	v.SetDefault("version", d.Version)
	v.SetDefault("save_path", d.SavePath)
	v.SetDefault("defaults.start_date", d.Defaults.StartDate)
	v.SetDefault("defaults.start_hour", d.Defaults.StartHour)
	v.SetDefault("acquisition.pacing_delay", d.Acquisition.PacingDelay)
	v.SetDefault("acquisition.event_buffer", d.Acquisition.EventBuffer)
	for name, ex := range d.Exchanges {
		prefix := "exchanges." + name + "."
		v.SetDefault(prefix+"enabled", ex.Enabled)
		v.SetDefault(prefix+"base_url", ex.BaseURL)
		v.SetDefault(prefix+"timeout", ex.Timeout)
		v.SetDefault(prefix+"requests_per_second", ex.RequestsPerSecond)
		v.SetDefault(prefix+"burst", ex.Burst)
		v.SetDefault(prefix+"cursor_pacing", ex.CursorPacing)
	}
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.context_fields", d.Logging.ContextFields)
	v.SetDefault("export.database_path", d.Export.DatabasePath)
	v.SetDefault("export.table", d.Export.Table)
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	if config.SavePath == "" {
		errors = append(errors, "save_path is required")
	}

	if _, err := time.ParseInLocation("02-01-2006 15:04:05",
		config.Defaults.StartDate+" "+config.Defaults.StartHour, time.UTC); err != nil {
		errors = append(errors, "defaults.start_date/start_hour must be DD-MM-YYYY and HH:mm:ss")
	}

	if config.Acquisition.PacingDelay < MinPacingDelay {
		errors = append(errors, fmt.Sprintf("acquisition.pacing_delay must be at least %s", MinPacingDelay))
	}
	if config.Acquisition.EventBuffer <= 0 {
		errors = append(errors, "acquisition.event_buffer must be greater than 0")
	}

	if len(config.Exchanges) == 0 {
		errors = append(errors, "at least one exchange must be configured")
	}
	for name, ex := range config.Exchanges {
		if !ex.Enabled {
			continue
		}
		if ex.BaseURL == "" {
			errors = append(errors, fmt.Sprintf("exchanges.%s.base_url is required", name))
		}
		if ex.Timeout <= 0 {
			errors = append(errors, fmt.Sprintf("exchanges.%s.timeout must be greater than 0", name))
		}
		if ex.RequestsPerSecond <= 0 {
			errors = append(errors, fmt.Sprintf("exchanges.%s.requests_per_second must be greater than 0", name))
		}
		if ex.CursorPacing < 0 {
			errors = append(errors, fmt.Sprintf("exchanges.%s.cursor_pacing cannot be negative", name))
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if config.Export.Table == "" {
		errors = append(errors, "export.table is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SetSavePath changes the save folder and persists it to the config file.
// Only save_path is added to what the file already contains.
func (cm *ConfigManager) SetSavePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("save folder %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("save folder %s is not a directory", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve save folder: %w", err)
	}

	if cm.configPath != "" {
		if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		v := viper.New()
		v.SetConfigFile(cm.configPath)
		if _, statErr := os.Stat(cm.configPath); statErr == nil {
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
			}
		}
		v.Set("save_path", abs)
		if err := v.WriteConfigAs(cm.configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	if cm.config != nil {
		cm.config.SavePath = abs
	}
	cm.logger.Info("save folder changed", "path", abs, "config_path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &AppConfig{
		AppName:  "ohlcv-downloader",
		Version:  "1.0.0",
		SavePath: cwd,
		Defaults: DefaultsConfig{
			StartDate: "01-01-2020",
			StartHour: "00:00:00",
		},
		Acquisition: AcquisitionConfig{
			PacingDelay: MinPacingDelay,
			EventBuffer: 64,
		},
		Exchanges: map[string]ExchangeConfig{
			"bitpanda": {
				Enabled:           true,
				BaseURL:           "https://api.exchange.bitpanda.com",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 2,
				Burst:             1,
			},
			"exmo": {
				Enabled:           true,
				BaseURL:           "https://api.exmo.com",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 2,
				Burst:             1,
			},
			"coinbasepro": {
				Enabled:           true,
				BaseURL:           "https://api.pro.coinbase.com",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 3,
				Burst:             1,
			},
			"bitfinex": {
				Enabled:           true,
				BaseURL:           "https://api-pub.bitfinex.com",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 1,
				Burst:             1,
			},
			"kraken": {
				Enabled:           true,
				BaseURL:           "https://api.kraken.com",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 1,
				Burst:             1,
				CursorPacing:      2 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "ohlcv-downloader",
			},
		},
		Export: ExportConfig{
			DatabasePath: "ohlcv.duckdb",
			Table:        "candles",
		},
	}
}

// String returns a JSON representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
