package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/mca-router/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Mailer       MailerConfig       `yaml:"mailer" mapstructure:"mailer"`
	Documents    DocumentsConfig    `yaml:"documents" mapstructure:"documents"`
	Salesforce   SalesforceConfig   `yaml:"salesforce" mapstructure:"salesforce"`
	RequestState RequestStateConfig `yaml:"request_state" mapstructure:"request_state"`
	Predictor    PredictorConfig    `yaml:"predictor" mapstructure:"predictor"`
	Submission   SubmissionConfig   `yaml:"submission" mapstructure:"submission"`
	Learner      LearnerConfig      `yaml:"learner" mapstructure:"learner"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds the decline classifier's model settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MailerConfig configures the SMTP transport used for lender submissions.
type MailerConfig struct {
	Host       string  `yaml:"host" mapstructure:"host"`
	Port       int     `yaml:"port" mapstructure:"port"`
	Username   string  `yaml:"username" mapstructure:"username"`
	Password   string  `yaml:"password" mapstructure:"password"`
	From       string  `yaml:"from" mapstructure:"from"`
	ReplyTo    string  `yaml:"reply_to" mapstructure:"reply_to"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// DocumentsConfig points at the blob bucket holding request documents.
type DocumentsConfig struct {
	BucketURL string `yaml:"bucket_url" mapstructure:"bucket_url"`
}

// SalesforceConfig holds Salesforce JWT credentials and the opportunity
// stage mirrored when a request is submitted.
type SalesforceConfig struct {
	ClientID       string  `yaml:"client_id" mapstructure:"client_id"`
	Username       string  `yaml:"username" mapstructure:"username"`
	KeyPath        string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL       string  `yaml:"login_url" mapstructure:"login_url"`
	StageSubmitted string  `yaml:"stage_submitted" mapstructure:"stage_submitted"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RequestStateConfig selects where request state transitions are written.
type RequestStateConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// PredictorConfig configures lender profiles and scoring.
type PredictorConfig struct {
	ProfileTTLMinutes int `yaml:"profile_ttl_minutes" mapstructure:"profile_ttl_minutes"`
	MinSamples        int `yaml:"min_samples" mapstructure:"min_samples"`
}

// SubmissionConfig configures batch delivery.
type SubmissionConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// LearnerConfig configures the decline rule learner.
type LearnerConfig struct {
	BatchSize               int     `yaml:"batch_size" mapstructure:"batch_size"`
	MinConfidence           float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	ExcerptChars            int     `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	Schedule                string  `yaml:"schedule" mapstructure:"schedule"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("MCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("mailer.port", 587)
	v.SetDefault("mailer.rate_per_sec", 5)
	v.SetDefault("mailer.burst", 1)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.stage_submitted", "Submitted to Lenders")
	v.SetDefault("salesforce.rate_limit", 10)
	v.SetDefault("request_state.provider", "store")
	v.SetDefault("predictor.profile_ttl_minutes", 60)
	v.SetDefault("predictor.min_samples", 3)
	v.SetDefault("submission.max_concurrent", 0)
	v.SetDefault("learner.batch_size", 10)
	v.SetDefault("learner.min_confidence", 0.7)
	v.SetDefault("learner.excerpt_chars", 1500)
	v.SetDefault("learner.schedule", "@every 15m")
	v.SetDefault("learner.circuit_failure_threshold", 5)
	v.SetDefault("learner.circuit_reset_secs", 60)

	// Keys without defaults still need binding so env-only values unmarshal.
	for _, key := range []string{
		"store.database_url",
		"anthropic.key",
		"mailer.host", "mailer.username", "mailer.password", "mailer.from", "mailer.reply_to",
		"documents.bucket_url",
		"salesforce.client_id", "salesforce.username", "salesforce.key_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

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

// Validate checks the keys a command mode needs. Modes are "submit",
// "learn" and "serve"; serve needs everything the other two need.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "submit":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateSubmit()...)
	case "learn":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateLearn()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateSubmit()...)
		errs = append(errs, c.validateLearn()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Predictor.MinSamples < 0 {
		errs = append(errs, "predictor.min_samples must be >= 0")
	}
	if c.Predictor.ProfileTTLMinutes < 0 {
		errs = append(errs, "predictor.profile_ttl_minutes must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	return errs
}

func (c *Config) validateSubmit() []string {
	var errs []string
	if c.Mailer.Host == "" {
		errs = append(errs, "mailer.host is required")
	}
	if c.Mailer.From == "" {
		errs = append(errs, "mailer.from is required")
	}
	if c.Documents.BucketURL == "" {
		errs = append(errs, "documents.bucket_url is required")
	}
	if c.Submission.MaxConcurrent < 0 {
		errs = append(errs, "submission.max_concurrent must be >= 0")
	}
	switch c.RequestState.Provider {
	case "", "store":
	case "salesforce":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	default:
		errs = append(errs, "request_state.provider must be store or salesforce")
	}
	return errs
}

func (c *Config) validateLearn() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.Learner.MinConfidence < 0 || c.Learner.MinConfidence > 1 {
		errs = append(errs, "learner.min_confidence must be between 0 and 1")
	}
	if c.Learner.BatchSize < 0 {
		errs = append(errs, "learner.batch_size must be >= 0")
	}
	return errs
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
