// Package config loads service settings from an optional YAML file and
// ESTATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/estate-ledger/ipl"
)

// EnvPrefix prefixes every environment override, e.g. ESTATE_SERVER_PORT.
const EnvPrefix = "ESTATE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// ":memory:" keeps everything in process.
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BillingConfig struct {
	DueDays int           `mapstructure:"due_days"`
	Anomaly AnomalyConfig `mapstructure:"anomaly"`
	IPL     IPLConfig     `mapstructure:"ipl"`
}

// AnomalyConfig tunes meter-replacement detection. Decimals are kept as
// strings so they are parsed exactly.
type AnomalyConfig struct {
	MaxDropRatio       string `mapstructure:"max_drop_ratio"`
	ReplacementCeiling string `mapstructure:"replacement_ceiling"`
}

type IPLConfig struct {
	TierPriority           string `mapstructure:"tier_priority"`
	AllowCrossTierFallback bool   `mapstructure:"allow_cross_tier_fallback"`
}

type ReconcileConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Schedule  string `mapstructure:"schedule"`
	Tolerance string `mapstructure:"tolerance"`
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "./data/estate.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("billing.due_days", 30)
	v.SetDefault("billing.anomaly.max_drop_ratio", "0.30")
	v.SetDefault("billing.anomaly.replacement_ceiling", "100")
	v.SetDefault("billing.ipl.tier_priority", "special_first")
	v.SetDefault("billing.ipl.allow_cross_tier_fallback", false)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "0 2 * * *")
	v.SetDefault("reconcile.tolerance", "0.01")
	return v
}

// Load reads the file at path (if any) into v and decodes the result.
// An empty path looks for config.yaml in the working directory and skips
// it silently when missing.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must be specified")
	}
	if c.Billing.DueDays <= 0 {
		return fmt.Errorf("billing.due_days must be positive, got %d", c.Billing.DueDays)
	}
	for key, value := range map[string]string{
		"billing.anomaly.max_drop_ratio":      c.Billing.Anomaly.MaxDropRatio,
		"billing.anomaly.replacement_ceiling": c.Billing.Anomaly.ReplacementCeiling,
		"reconcile.tolerance":                 c.Reconcile.Tolerance,
	} {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not a decimal", key, value)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if _, err := ipl.ParseTierPriority(c.Billing.IPL.TierPriority); err != nil {
		return fmt.Errorf("billing.ipl.tier_priority: %w", err)
	}
	return nil
}

// Decimal parses a validated decimal setting.
func Decimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
