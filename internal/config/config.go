// Package config loads application configuration from config.yaml and the
// SOURCING_* environment, and owns global logger initialization.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Policy      policy.Config     `yaml:"policy" mapstructure:"policy"`
	Action      ActionConfig      `yaml:"action" mapstructure:"action"`
	Marketplace MarketplaceConfig `yaml:"marketplace" mapstructure:"marketplace"`
	Report      ReportConfig      `yaml:"report" mapstructure:"report"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ActionConfig configures the action mapper: the enforcement mode and the
// marketplace pair decisions are expressed against.
type ActionConfig struct {
	Mode            string `yaml:"mode" mapstructure:"mode"`
	PrimaryMarket   string `yaml:"primary_market" mapstructure:"primary_market"`
	SecondaryMarket string `yaml:"secondary_market" mapstructure:"secondary_market"`
}

// MarketplaceConfig configures the listing API client used by the
// registration pipeline.
type MarketplaceConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string  `yaml:"api_key" mapstructure:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// ReportConfig configures report generation.
type ReportConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SOURCING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("action.mode", "shadow")
	v.SetDefault("action.primary_market", "coupang")
	v.SetDefault("action.secondary_market", "smartstore")
	v.SetDefault("marketplace.requests_per_second", 5)
	v.SetDefault("marketplace.burst", 10)
	v.SetDefault("marketplace.timeout_secs", 30)
	v.SetDefault("marketplace.max_retries", 3)
	v.SetDefault("report.concurrency", 8)
	v.SetDefault("report.output_dir", ".")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	// Policy tunables start from the production defaults; the config file
	// and environment override individual keys only.
	cfg := Config{Policy: policy.DefaultConfig()}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fields required by the given command mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Action.Mode {
	case "shadow", "enforce_lite", "enforce":
	default:
		errs = append(errs, "action.mode must be one of shadow, enforce_lite, enforce")
	}
	if c.Action.PrimaryMarket == "" || c.Action.SecondaryMarket == "" {
		errs = append(errs, "action.primary_market and action.secondary_market are required")
	}

	needsDB := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	switch mode {
	case "migrate", "ingest", "evaluate", "feedback":
		needsDB()
	case "report":
		needsDB()
		if c.Report.Concurrency < 1 || c.Report.Concurrency > 64 {
			errs = append(errs, "report.concurrency must be between 1 and 64")
		}
	case "serve":
		needsDB()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
