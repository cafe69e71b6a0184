package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Ratios    RatiosConfig    `yaml:"ratios" mapstructure:"ratios"`
	Retry     RetryConfigs    `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Compute   ComputeConfig   `yaml:"compute" mapstructure:"compute"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	EDGAR     EDGARConfig     `yaml:"edgar" mapstructure:"edgar"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RatiosConfig configures the filing orchestrator and its lookups.
type RatiosConfig struct {
	Workers          int            `yaml:"workers" mapstructure:"workers"`
	Limit            int            `yaml:"limit" mapstructure:"limit"`
	DrainTimeoutSecs int            `yaml:"drain_timeout_secs" mapstructure:"drain_timeout_secs"`
	Resolver         ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Prices           PricesConfig   `yaml:"prices" mapstructure:"prices"`
}

// ResolverConfig sets the period resolver search windows, in days.
type ResolverConfig struct {
	FallbackWindowDays int `yaml:"fallback_window_days" mapstructure:"fallback_window_days"`
	PriorOffsetDays    int `yaml:"prior_offset_days" mapstructure:"prior_offset_days"`
	PriorWindowDays    int `yaml:"prior_window_days" mapstructure:"prior_window_days"`
}

// PricesConfig sets the price lookup window and trend offsets, in days.
type PricesConfig struct {
	LookbackDays   int `yaml:"lookback_days" mapstructure:"lookback_days"`
	NearOffsetDays int `yaml:"near_offset_days" mapstructure:"near_offset_days"`
	FarOffsetDays  int `yaml:"far_offset_days" mapstructure:"far_offset_days"`
}

// RetryConfigs holds one retry policy per class of external call.
type RetryConfigs struct {
	Store   RetryConfig `yaml:"store" mapstructure:"store"`
	Compute RetryConfig `yaml:"compute" mapstructure:"compute"`
}

// RetryConfig is the flat form of a resilience.Policy.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
}

// CircuitConfig configures the circuit breaker around the ratio calculator.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ComputeConfig selects and tunes the ratio calculator backend.
type ComputeConfig struct {
	Backend           string  `yaml:"backend" mapstructure:"backend"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// EDGARConfig holds SEC EDGAR API settings used by the import command.
type EDGARConfig struct {
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// Compute backends.
const (
	BackendFormula   = "formula"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RATIOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ratios.workers", 8)
	v.SetDefault("ratios.limit", 0)
	v.SetDefault("ratios.drain_timeout_secs", 120)
	v.SetDefault("ratios.resolver.fallback_window_days", 30)
	v.SetDefault("ratios.resolver.prior_offset_days", 90)
	v.SetDefault("ratios.resolver.prior_window_days", 45)
	v.SetDefault("ratios.prices.lookback_days", 7)
	v.SetDefault("ratios.prices.near_offset_days", 20)
	v.SetDefault("ratios.prices.far_offset_days", 50)

	v.SetDefault("retry.store.max_attempts", 3)
	v.SetDefault("retry.store.initial_backoff_ms", 1000)
	v.SetDefault("retry.store.max_backoff_ms", 5000)
	v.SetDefault("retry.store.multiplier", 2.0)
	v.SetDefault("retry.store.jitter_fraction", 0.25)
	v.SetDefault("retry.store.attempt_timeout_secs", 30)
	v.SetDefault("retry.compute.max_attempts", 4)
	v.SetDefault("retry.compute.initial_backoff_ms", 2000)
	v.SetDefault("retry.compute.max_backoff_ms", 10000)
	v.SetDefault("retry.compute.multiplier", 2.0)
	v.SetDefault("retry.compute.jitter_fraction", 0.25)
	v.SetDefault("retry.compute.attempt_timeout_secs", 180)

	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("compute.backend", BackendFormula)
	v.SetDefault("compute.requests_per_second", 5.0)
	v.SetDefault("compute.burst", 1)
	v.SetDefault("compute.max_tokens", 2048)
	v.SetDefault("compute.temperature", 0.1)

	// Empty defaults register the keys so env-only values unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("edgar.base_url", "https://data.sec.gov")
	v.SetDefault("edgar.user_agent", "")
}

// Validate checks the settings a command mode depends on. Modes: "run",
// "migrate", "runs", "import".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "run":
		if c.Ratios.Workers < 1 || c.Ratios.Workers > 64 {
			errs = append(errs, "ratios.workers must be between 1 and 64")
		}
		if c.Ratios.Limit < 0 {
			errs = append(errs, "ratios.limit must be >= 0")
		}
		if c.Ratios.Prices.FarOffsetDays <= c.Ratios.Prices.NearOffsetDays {
			errs = append(errs, "ratios.prices.far_offset_days must exceed near_offset_days")
		}
		switch c.Compute.Backend {
		case BackendFormula:
		case BackendAnthropic:
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required for the anthropic backend")
			}
		case BackendGemini:
			if c.Gemini.Key == "" {
				errs = append(errs, "gemini.key is required for the gemini backend")
			}
		default:
			errs = append(errs, fmt.Sprintf("compute.backend %q is not supported", c.Compute.Backend))
		}
	case "import":
		if c.EDGAR.BaseURL == "" {
			errs = append(errs, "edgar.base_url is required for import")
		}
	case "migrate", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
