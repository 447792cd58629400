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
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// GatewayConfig configures retries, rate limiting and the circuit breaker
// around the generative backend.
type GatewayConfig struct {
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries              int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterMs                int     `yaml:"jitter_ms" mapstructure:"jitter_ms"`
	RateLimitRPS            float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst          int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	BreakerEnabled          bool    `yaml:"breaker_enabled" mapstructure:"breaker_enabled"`
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerOpenSecs         int     `yaml:"breaker_open_secs" mapstructure:"breaker_open_secs"`
}

// PipelineConfig tunes the generative stages.
type PipelineConfig struct {
	MinTextLength   int          `yaml:"min_text_length" mapstructure:"min_text_length"`
	ClassifyCount   int          `yaml:"classify_count" mapstructure:"classify_count"`
	RequireTopFloor bool         `yaml:"require_top_floor" mapstructure:"require_top_floor"`
	ConfidenceFloor float64      `yaml:"confidence_floor" mapstructure:"confidence_floor"`
	QuestionMin     int          `yaml:"question_min" mapstructure:"question_min"`
	QuestionMax     int          `yaml:"question_max" mapstructure:"question_max"`
	QuestionTop     int          `yaml:"question_top" mapstructure:"question_top"`
	NoVisaThreshold float64      `yaml:"no_visa_threshold" mapstructure:"no_visa_threshold"`
	DefaultLanguage string       `yaml:"default_language" mapstructure:"default_language"`
	RulesPath       string       `yaml:"rules_path" mapstructure:"rules_path"` // empty uses the embedded visa rules
	Temperatures    Temperatures `yaml:"temperatures" mapstructure:"temperatures"`
}

// Temperatures holds the sampling temperature per stage.
type Temperatures struct {
	Extract   float64 `yaml:"extract" mapstructure:"extract"`
	Classify  float64 `yaml:"classify" mapstructure:"classify"`
	Questions float64 `yaml:"questions" mapstructure:"questions"`
	Finalize  float64 `yaml:"finalize" mapstructure:"finalize"`
	Path      float64 `yaml:"path" mapstructure:"path"`
}

// BatchConfig configures batch intake.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("VISA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "visa-pipeline.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("gateway.timeout_secs", 60)
	v.SetDefault("gateway.max_retries", 2)
	v.SetDefault("gateway.initial_backoff_ms", 500)
	v.SetDefault("gateway.max_backoff_ms", 4000)
	v.SetDefault("gateway.jitter_ms", 250)
	v.SetDefault("gateway.rate_limit_rps", 5.0)
	v.SetDefault("gateway.rate_limit_burst", 5)
	v.SetDefault("gateway.breaker_enabled", true)
	v.SetDefault("gateway.breaker_failure_threshold", 5)
	v.SetDefault("gateway.breaker_open_secs", 30)
	v.SetDefault("pipeline.min_text_length", 20)
	v.SetDefault("pipeline.classify_count", 6)
	v.SetDefault("pipeline.require_top_floor", true)
	v.SetDefault("pipeline.confidence_floor", 0.8)
	v.SetDefault("pipeline.question_min", 5)
	v.SetDefault("pipeline.question_max", 10)
	v.SetDefault("pipeline.question_top", 6)
	v.SetDefault("pipeline.no_visa_threshold", 0.4)
	v.SetDefault("pipeline.default_language", "pt")
	v.SetDefault("pipeline.rules_path", "")
	v.SetDefault("pipeline.temperatures.extract", 0.2)
	v.SetDefault("pipeline.temperatures.classify", 0.15)
	v.SetDefault("pipeline.temperatures.questions", 0.25)
	v.SetDefault("pipeline.temperatures.finalize", 0.2)
	v.SetDefault("pipeline.temperatures.path", 0.25)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

// Validate checks the settings a command mode needs. Modes: "run" (stage
// commands and batch), "serve", "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required for the sqlite driver")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	switch mode {
	case "migrate":
		return joinProblems(problems)
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			add("server.port must be 1-65535, got %d", c.Server.Port)
		}
	case "run":
		if c.Batch.MaxConcurrent < 1 {
			add("batch.max_concurrent must be >= 1, got %d", c.Batch.MaxConcurrent)
		}
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if c.Anthropic.Key == "" {
		add("anthropic.key is required")
	}
	if c.Anthropic.Model == "" {
		add("anthropic.model is required")
	}
	if c.Gateway.MaxRetries < 0 {
		add("gateway.max_retries must be >= 0, got %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.RateLimitRPS < 0 {
		add("gateway.rate_limit_rps must be >= 0, got %g", c.Gateway.RateLimitRPS)
	}

	p := c.Pipeline
	if p.ClassifyCount < 1 || p.ClassifyCount > 30 {
		add("pipeline.classify_count must be 1-30, got %d", p.ClassifyCount)
	}
	if p.QuestionMin < 1 {
		add("pipeline.question_min must be >= 1, got %d", p.QuestionMin)
	}
	if p.QuestionMax < p.QuestionMin {
		add("pipeline.question_max (%d) must be >= question_min (%d)", p.QuestionMax, p.QuestionMin)
	}
	if p.ConfidenceFloor <= 0 || p.ConfidenceFloor > 1 {
		add("pipeline.confidence_floor must be in (0, 1], got %g", p.ConfidenceFloor)
	}
	if p.NoVisaThreshold < 0 || p.NoVisaThreshold > 1 {
		add("pipeline.no_visa_threshold must be in [0, 1], got %g", p.NoVisaThreshold)
	}
	if p.DefaultLanguage != "pt" && p.DefaultLanguage != "en" {
		add("pipeline.default_language must be pt or en, got %q", p.DefaultLanguage)
	}
	for name, t := range map[string]float64{
		"extract":   p.Temperatures.Extract,
		"classify":  p.Temperatures.Classify,
		"questions": p.Temperatures.Questions,
		"finalize":  p.Temperatures.Finalize,
		"path":      p.Temperatures.Path,
	} {
		if t < 0 || t > 1 {
			add("pipeline.temperatures.%s must be in [0, 1], got %g", name, t)
		}
	}

	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
