package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Annotate  AnnotateConfig  `yaml:"annotate" mapstructure:"annotate"`
	Detect    DetectConfig    `yaml:"detect" mapstructure:"detect"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the text analysis client.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// AnnotateConfig configures sentiment annotation batching and resilience.
type AnnotateConfig struct {
	BatchSize         int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// DetectConfig configures the pattern detection heuristics.
type DetectConfig struct {
	DeletedWindowMins int     `yaml:"deleted_window_mins" mapstructure:"deleted_window_mins"`
	DeletedMinCount   int     `yaml:"deleted_min_count" mapstructure:"deleted_min_count"`
	BurstFraction     float64 `yaml:"burst_fraction" mapstructure:"burst_fraction"`
	SilencePercentile float64 `yaml:"silence_percentile" mapstructure:"silence_percentile"`
	MinGaps           int     `yaml:"min_gaps" mapstructure:"min_gaps"`
	SpikeSigma        float64 `yaml:"spike_sigma" mapstructure:"spike_sigma"`
	SpikeMinMessages  int     `yaml:"spike_min_messages" mapstructure:"spike_min_messages"`
}

// FetchConfig configures remote archive retrieval.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("FORENSICS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "forensics.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("annotate.batch_size", 25)
	v.SetDefault("annotate.concurrency", 4)
	v.SetDefault("annotate.requests_per_second", 2)
	v.SetDefault("annotate.max_attempts", 3)
	v.SetDefault("annotate.initial_backoff_ms", 500)
	v.SetDefault("annotate.max_backoff_ms", 30000)
	v.SetDefault("detect.deleted_window_mins", 60)
	v.SetDefault("detect.deleted_min_count", 3)
	v.SetDefault("detect.burst_fraction", 0.05)
	v.SetDefault("detect.silence_percentile", 0.95)
	v.SetDefault("detect.min_gaps", 4)
	v.SetDefault("detect.spike_sigma", 2.0)
	v.SetDefault("detect.spike_min_messages", 10)
	v.SetDefault("fetch.user_agent", "forensics-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5)

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
