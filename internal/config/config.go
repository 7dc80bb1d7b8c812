package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/indiepalbien/app-finzas/internal/common"
)

// DefaultDatabasePath is used when database.path is not configured.
const DefaultDatabasePath = "$HOME/.local/share/finzas/finzas.db"

// Config is the full runtime configuration of the rule engine.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// MetricsConfig controls the Prometheus endpoint of the serve command.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DispatchConfig sizes the asynchronous run queue.
type DispatchConfig struct {
	Workers   int     `mapstructure:"workers" validate:"gte=1"`
	QueueSize int     `mapstructure:"queue_size" validate:"gte=1"`
	Rate      float64 `mapstructure:"rate" validate:"gt=0"`
}

// BatchConfig holds the caps of label-triggered and periodic runs.
type BatchConfig struct {
	Schedule    string `mapstructure:"schedule" validate:"required"`
	LabelCap    int    `mapstructure:"label_cap" validate:"gte=0"`
	PeriodicCap int    `mapstructure:"periodic_cap" validate:"gte=0"`
	Workers     int    `mapstructure:"workers" validate:"gte=1"`
}

// TierWeights are the specificity multipliers applied by the matcher.
type TierWeights struct {
	TokensOnly           float64 `mapstructure:"tokens_only" validate:"gt=0"`
	TokensCurrency       float64 `mapstructure:"tokens_currency" validate:"gt=0"`
	TokensAmount         float64 `mapstructure:"tokens_amount" validate:"gt=0"`
	TokensAmountCurrency float64 `mapstructure:"tokens_amount_currency" validate:"gt=0"`
}

// RulesConfig tunes normalization and matching.
type RulesConfig struct {
	AmountTolerance  string      `mapstructure:"amount_tolerance"`
	Stopwords        []string    `mapstructure:"stopwords"`
	Weights          TierWeights `mapstructure:"weights"`
	MinScore         float64     `mapstructure:"min_score" validate:"gte=0,lte=1"`
	MinAccuracy      float64     `mapstructure:"min_accuracy" validate:"gte=0,lte=1"`
	MinTokenLength   int         `mapstructure:"min_token_length" validate:"gte=1"`
	CacheSize        int64       `mapstructure:"cache_size" validate:"gte=0"`
	ReplaceStopwords bool        `mapstructure:"replace_stopwords"`
}

// Tolerance parses AmountTolerance. An empty value means exact matching.
func (r RulesConfig) Tolerance() (decimal.Decimal, error) {
	if r.AmountTolerance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.AmountTolerance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount_tolerance %q: %v", common.ErrInvalidConfig, r.AmountTolerance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount_tolerance must not be negative", common.ErrInvalidConfig)
	}
	return d, nil
}

// MaintenanceConfig holds the default retirement criteria. An empty Schedule
// disables scheduled retirement.
type MaintenanceConfig struct {
	Schedule    string        `mapstructure:"schedule"`
	MinAge      time.Duration `mapstructure:"min_age" validate:"gte=0"`
	MaxUsage    int64         `mapstructure:"max_usage" validate:"gte=0"`
	MinAccuracy float64       `mapstructure:"min_accuracy" validate:"gte=0"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("dispatch.workers", 2)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.rate", 5.0)

	v.SetDefault("batch.schedule", "@hourly")
	v.SetDefault("batch.label_cap", 50)
	v.SetDefault("batch.periodic_cap", 100)
	v.SetDefault("batch.workers", 4)

	v.SetDefault("rules.min_token_length", 2)
	v.SetDefault("rules.stopwords", []string{})
	v.SetDefault("rules.replace_stopwords", false)
	v.SetDefault("rules.min_score", 0.35)
	v.SetDefault("rules.min_accuracy", 0.5)
	v.SetDefault("rules.amount_tolerance", "0")
	v.SetDefault("rules.cache_size", 4096)
	v.SetDefault("rules.weights.tokens_only", 0.8)
	v.SetDefault("rules.weights.tokens_currency", 0.9)
	v.SetDefault("rules.weights.tokens_amount", 0.9)
	v.SetDefault("rules.weights.tokens_amount_currency", 1.0)

	v.SetDefault("maintenance.schedule", "@daily")
	v.SetDefault("maintenance.min_age", 90*24*time.Hour)
	v.SetDefault("maintenance.max_usage", 2)
	v.SetDefault("maintenance.min_accuracy", 0.5)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() Config {
	cfg, err := Load(viper.New())
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	if _, err := cfg.Rules.Tolerance(); err != nil {
		return err
	}
	return nil
}
