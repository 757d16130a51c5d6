package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Aggregate AggregateConfig `yaml:"aggregate" mapstructure:"aggregate"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures the directory source and the extraction strategy.
type SourceConfig struct {
	URL               string        `yaml:"url" mapstructure:"url"`
	Strategy          string        `yaml:"strategy" mapstructure:"strategy"`
	Origin            string        `yaml:"origin" mapstructure:"origin"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" mapstructure:"navigation_timeout"`
	WaitTimeout       time.Duration `yaml:"wait_timeout" mapstructure:"wait_timeout"`
	Headless          bool          `yaml:"headless" mapstructure:"headless"`
	ProfilePath       string        `yaml:"profile_path" mapstructure:"profile_path"`
}

// ArtifactsConfig configures where intermediate JSON artifacts live.
type ArtifactsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// NormalizeConfig configures the normalization stage.
type NormalizeConfig struct {
	DefaultCountry string `yaml:"default_country" mapstructure:"default_country"`
}

// AnthropicConfig holds Anthropic API settings for the enrichment oracle.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// EnrichConfig configures the enrichment loop.
type EnrichConfig struct {
	BatchSize               int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency             int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSecond       float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts             int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// AggregateConfig configures the aggregation stage.
type AggregateConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the aggregation trigger server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// TemporalConfig configures scheduled execution through Temporal.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SURGEON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("source.url", "https://turkplasticsurgery.org/?p=member-list")
	v.SetDefault("source.strategy", "framed")
	v.SetDefault("source.origin", "https://turkplasticsurgery.org")
	v.SetDefault("source.navigation_timeout", 60*time.Second)
	v.SetDefault("source.wait_timeout", 30*time.Second)
	v.SetDefault("source.headless", true)
	v.SetDefault("artifacts.dir", "data")
	v.SetDefault("normalize.default_country", "Turkey")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("enrich.batch_size", 10)
	v.SetDefault("enrich.concurrency", 1)
	v.SetDefault("enrich.requests_per_second", 0)
	v.SetDefault("enrich.max_attempts", 3)
	v.SetDefault("enrich.initial_backoff_ms", 500)
	v.SetDefault("enrich.circuit_failure_threshold", 5)
	v.SetDefault("enrich.circuit_reset_secs", 30)
	v.SetDefault("aggregate.concurrency", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "surgeon-pipeline")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings a command depends on are present.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		if c.Store.Driver != "sqlite" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	requireOracle := func() {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Enrich.BatchSize <= 0 {
			errs = append(errs, "enrich.batch_size must be > 0")
		}
	}
	requireSource := func() {
		if c.Source.URL == "" {
			errs = append(errs, "source.url is required")
		}
		if c.Source.Strategy != "flat" && c.Source.Strategy != "framed" {
			errs = append(errs, fmt.Sprintf("source.strategy must be flat or framed (got %q)", c.Source.Strategy))
		}
		if c.Source.WaitTimeout <= 0 {
			errs = append(errs, "source.wait_timeout must be > 0")
		}
		if c.Source.NavigationTimeout <= 0 {
			errs = append(errs, "source.navigation_timeout must be > 0")
		}
	}

	switch mode {
	case "extract":
		requireSource()
	case "normalize":
	case "load", "aggregate", "runs", "migrate":
		requireStore()
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "enrich":
		requireStore()
		requireOracle()
	case "run", "worker":
		requireSource()
		requireStore()
		requireOracle()
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
