// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/blockzenith/scanner/internal/models"
)

// Config represents the complete application configuration.
type Config struct {
	Dhan        DhanConfig              `mapstructure:"dhan"`
	Instruments []models.InstrumentSpec `mapstructure:"instruments"`
	Calendar    CalendarConfig          `mapstructure:"calendar"`
	Detector    DetectorConfig          `mapstructure:"detector"`
	Ledger      LedgerConfig            `mapstructure:"ledger"`
	Scanner     ScannerConfig           `mapstructure:"scanner"`
	Telegram    TelegramConfig          `mapstructure:"telegram"`
	Server      ServerConfig            `mapstructure:"server"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// DhanConfig holds the option-chain upstream configuration.
type DhanConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CalendarConfig holds the trading-window configuration. Open and Close are
// clock times ("HH:MM") in Timezone, both boundaries inclusive.
type CalendarConfig struct {
	Timezone     string `mapstructure:"timezone"`
	Open         string `mapstructure:"open"`
	Close        string `mapstructure:"close"`
	WeekdaysOnly bool   `mapstructure:"weekdays_only"`
}

// DetectorConfig holds the signal rule thresholds.
type DetectorConfig struct {
	Mode                string `mapstructure:"mode"` // "level" or "momentum"
	VolumeThreshold     int64  `mapstructure:"volume_threshold"`
	OIThreshold         int64  `mapstructure:"oi_threshold"`
	VolumeJumpThreshold int64  `mapstructure:"volume_jump_threshold"`
	OIJumpThreshold     int64  `mapstructure:"oi_jump_threshold"`
}

// LedgerConfig holds alert-ledger persistence configuration.
type LedgerConfig struct {
	DBPath      string `mapstructure:"db_path"`
	DedupPolicy string `mapstructure:"dedup_policy"` // "value-tuple" or "key-only"
}

// ScannerConfig holds the scan-loop timing configuration.
type ScannerConfig struct {
	IdleInterval   time.Duration `mapstructure:"idle_interval"`
	ClosedInterval time.Duration `mapstructure:"closed_interval"`
	CycleInterval  time.Duration `mapstructure:"cycle_interval"`
	PacingInterval time.Duration `mapstructure:"pacing_interval"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
}

// TelegramConfig holds Telegram notification and arming configuration.
type TelegramConfig struct {
	BotToken         string `mapstructure:"bot_token"`
	ChannelID        string `mapstructure:"channel_id"`
	MinCredentialLen int    `mapstructure:"min_credential_len"`
}

// ServerConfig holds the liveness endpoint configuration.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("BLOCK_ZENITH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = models.DefaultInstruments()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dhan.base_url", "https://api.dhan.co/v2/optionchain")
	v.SetDefault("dhan.timeout", "15s")

	v.SetDefault("calendar.timezone", "Asia/Kolkata")
	v.SetDefault("calendar.open", "09:15")
	v.SetDefault("calendar.close", "15:30")
	v.SetDefault("calendar.weekdays_only", true)

	v.SetDefault("detector.mode", "level")
	v.SetDefault("detector.volume_threshold", 150000)
	v.SetDefault("detector.oi_threshold", 75000)
	v.SetDefault("detector.volume_jump_threshold", 20000)
	v.SetDefault("detector.oi_jump_threshold", 10000)

	v.SetDefault("ledger.db_path", "./data/blockzenith.db")
	v.SetDefault("ledger.dedup_policy", "value-tuple")

	v.SetDefault("scanner.idle_interval", "10s")
	v.SetDefault("scanner.closed_interval", "300s")
	v.SetDefault("scanner.cycle_interval", "60s")
	v.SetDefault("scanner.pacing_interval", "2s")
	v.SetDefault("scanner.backoff_base", "60s")
	v.SetDefault("scanner.backoff_cap", "15m")

	v.SetDefault("telegram.min_credential_len", 100)

	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Dhan.BaseURL == "" {
		return fmt.Errorf("dhan.base_url is required")
	}
	if c.Dhan.ClientID == "" {
		return fmt.Errorf("dhan.client_id is required")
	}
	if c.Dhan.Timeout <= 0 {
		return fmt.Errorf("dhan.timeout must be positive")
	}

	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments must contain at least one entry")
	}
	for _, inst := range c.Instruments {
		if inst.ID <= 0 || inst.Name == "" || inst.Segment == "" {
			return fmt.Errorf("instrument %q must have id, name and segment", inst.Name)
		}
	}

	if c.Calendar.Timezone == "" {
		return fmt.Errorf("calendar.timezone is required")
	}
	if c.Calendar.Open == "" || c.Calendar.Close == "" {
		return fmt.Errorf("calendar.open and calendar.close are required")
	}

	switch c.Detector.Mode {
	case "level", "momentum":
	default:
		return fmt.Errorf("detector.mode must be one of: level, momentum")
	}
	if c.Detector.VolumeThreshold <= 0 || c.Detector.OIThreshold <= 0 {
		return fmt.Errorf("detector thresholds must be positive")
	}
	if c.Detector.VolumeJumpThreshold <= 0 || c.Detector.OIJumpThreshold <= 0 {
		return fmt.Errorf("detector jump thresholds must be positive")
	}

	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger.db_path is required")
	}
	switch c.Ledger.DedupPolicy {
	case "value-tuple", "key-only":
	default:
		return fmt.Errorf("ledger.dedup_policy must be one of: value-tuple, key-only")
	}

	if c.Scanner.IdleInterval <= 0 || c.Scanner.ClosedInterval <= 0 || c.Scanner.CycleInterval <= 0 {
		return fmt.Errorf("scanner intervals must be positive")
	}
	if c.Scanner.PacingInterval < 0 {
		return fmt.Errorf("scanner.pacing_interval must not be negative")
	}
	if c.Scanner.BackoffBase <= 0 || c.Scanner.BackoffCap < c.Scanner.BackoffBase {
		return fmt.Errorf("scanner backoff must satisfy 0 < backoff_base <= backoff_cap")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChannelID == "" {
		return fmt.Errorf("telegram.channel_id is required")
	}
	if c.Telegram.MinCredentialLen < 1 {
		return fmt.Errorf("telegram.min_credential_len must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
