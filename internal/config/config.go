package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/rewired-gh/demandsignal/internal/privacy"
	"github.com/rewired-gh/demandsignal/internal/signal"
	"github.com/rewired-gh/demandsignal/internal/weights"
)

// Config represents the complete application configuration
type Config struct {
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Privacy   PrivacyConfig   `mapstructure:"privacy"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ScoringConfig holds the Signal Score constants and weighting tables
type ScoringConfig struct {
	HalfLife             time.Duration          `mapstructure:"half_life"`
	DecayFloor           float64                `mapstructure:"decay_floor"`
	Calibration          float64                `mapstructure:"calibration"`
	PledgeWeight         float64                `mapstructure:"pledge_weight"`
	IntensityWeights     weights.IntensityTable `mapstructure:"intensity_weights"`
	ConversionRates      []weights.AmountBucket `mapstructure:"conversion_rates"`
	ConversionLikelihood weights.IntensityTable `mapstructure:"conversion_likelihood"`
	Thresholds           signal.Thresholds      `mapstructure:"thresholds"`
}

// PrivacyConfig holds aggregation constants
type PrivacyConfig struct {
	KFloor           int     `mapstructure:"k_floor"`
	DefaultUnitPrice float64 `mapstructure:"default_unit_price"`
}

// RankingConfig holds the scheduled ranking job configuration
type RankingConfig struct {
	Schedule string `mapstructure:"schedule"`
	TopK     int    `mapstructure:"top_k"`
}

// RateLimitConfig holds brand view rate limiting configuration
type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable override, e.g. DEMAND_SIGNAL_PRIVACY_K_FLOOR
	v.SetEnvPrefix("DEMAND_SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	tables := weights.DefaultTables()
	sig := signal.DefaultConfig()
	priv := privacy.DefaultConfig()

	// Scoring defaults
	v.SetDefault("scoring.half_life", sig.HalfLife)
	v.SetDefault("scoring.decay_floor", sig.DecayFloor)
	v.SetDefault("scoring.calibration", sig.Calibration)
	v.SetDefault("scoring.pledge_weight", sig.PledgeWeight)
	v.SetDefault("scoring.intensity_weights.low", tables.IntensityWeights.Low)
	v.SetDefault("scoring.intensity_weights.medium", tables.IntensityWeights.Medium)
	v.SetDefault("scoring.intensity_weights.high", tables.IntensityWeights.High)
	v.SetDefault("scoring.intensity_weights.critical", tables.IntensityWeights.Critical)
	buckets := make([]map[string]interface{}, 0, len(tables.ConversionRates))
	for _, b := range tables.ConversionRates {
		buckets = append(buckets, map[string]interface{}{
			"label":      b.Label,
			"max_amount": b.MaxAmount,
			"rate":       b.Rate,
		})
	}
	v.SetDefault("scoring.conversion_rates", buckets)
	v.SetDefault("scoring.conversion_likelihood.low", tables.ConversionLikelihood.Low)
	v.SetDefault("scoring.conversion_likelihood.medium", tables.ConversionLikelihood.Medium)
	v.SetDefault("scoring.conversion_likelihood.high", tables.ConversionLikelihood.High)
	v.SetDefault("scoring.conversion_likelihood.critical", tables.ConversionLikelihood.Critical)
	v.SetDefault("scoring.thresholds.warm", sig.Thresholds.Warm)
	v.SetDefault("scoring.thresholds.hot", sig.Thresholds.Hot)
	v.SetDefault("scoring.thresholds.viral", sig.Thresholds.Viral)

	// Privacy defaults
	v.SetDefault("privacy.k_floor", priv.KFloor)
	v.SetDefault("privacy.default_unit_price", priv.DefaultUnitPrice)

	// Ranking defaults
	v.SetDefault("ranking.schedule", "@every 15m")
	v.SetDefault("ranking.top_k", 10)

	// Rate limit defaults
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.limit", 60)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.redis_addr", "localhost:6379")
	v.SetDefault("rate_limit.redis_db", 0)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/demandsignal.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := c.SignalConfig().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.PrivacyConfig().Validate(); err != nil {
		return fmt.Errorf("privacy: %w", err)
	}

	// Validate Ranking config
	if _, err := cron.ParseStandard(c.Ranking.Schedule); err != nil {
		return fmt.Errorf("ranking.schedule is not a valid cron expression: %w", err)
	}
	if c.Ranking.TopK < 1 {
		return fmt.Errorf("ranking.top_k must be at least 1")
	}

	// Validate RateLimit config
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("rate_limit.redis_addr is required when backend is redis")
		}
	default:
		return fmt.Errorf("rate_limit.backend must be one of: memory, redis")
	}
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be at least 1")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1 second")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate Logging config
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

// Tables returns the weighting tables shared by the engine and the aggregator
func (c *Config) Tables() weights.Tables {
	return weights.Tables{
		IntensityWeights:     c.Scoring.IntensityWeights,
		ConversionRates:      c.Scoring.ConversionRates,
		ConversionLikelihood: c.Scoring.ConversionLikelihood,
	}
}

// SignalConfig returns the Signal Score engine configuration
func (c *Config) SignalConfig() signal.Config {
	return signal.Config{
		Tables:       c.Tables(),
		Thresholds:   c.Scoring.Thresholds,
		HalfLife:     c.Scoring.HalfLife,
		DecayFloor:   c.Scoring.DecayFloor,
		Calibration:  c.Scoring.Calibration,
		PledgeWeight: c.Scoring.PledgeWeight,
	}
}

// PrivacyConfig returns the aggregator configuration
func (c *Config) PrivacyConfig() privacy.Config {
	return privacy.Config{
		KFloor:           c.Privacy.KFloor,
		DefaultUnitPrice: c.Privacy.DefaultUnitPrice,
		Tables:           c.Tables(),
	}
}
