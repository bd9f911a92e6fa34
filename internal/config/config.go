package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	KV         KVConfig         `yaml:"kv" mapstructure:"kv"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Validator  ValidatorConfig  `yaml:"validator" mapstructure:"validator"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	OTP        OTPConfig        `yaml:"otp" mapstructure:"otp"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Proof      ProofConfig      `yaml:"proof" mapstructure:"proof"`
	Ledger     LedgerConfig     `yaml:"ledger" mapstructure:"ledger"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the durable archive backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// KVConfig configures the shared key-value store backing live sessions and
// OTP records.
type KVConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"` // "memory" or "redis"
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// ExtractionConfig configures the document extraction engine chain.
type ExtractionConfig struct {
	AcceptThreshold float64       `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	EngineTimeout   time.Duration `yaml:"engine_timeout" mapstructure:"engine_timeout"`
	MinImageBytes   int           `yaml:"min_image_bytes" mapstructure:"min_image_bytes"`
	RemoteURL       string        `yaml:"remote_url" mapstructure:"remote_url"`
	RemoteKey       string        `yaml:"remote_key" mapstructure:"remote_key"`
}

// ValidatorConfig configures cross-field validation thresholds.
type ValidatorConfig struct {
	MatchThreshold    float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	MismatchThreshold float64 `yaml:"mismatch_threshold" mapstructure:"mismatch_threshold"`
	MaxAmbiguous      int     `yaml:"max_ambiguous" mapstructure:"max_ambiguous"`
}

// RiskConfig configures risk aggregation.
type RiskConfig struct {
	PolicyPath      string        `yaml:"policy_path" mapstructure:"policy_path"`
	SourceTimeout   time.Duration `yaml:"source_timeout" mapstructure:"source_timeout"`
	AuthenticityURL string        `yaml:"authenticity_url" mapstructure:"authenticity_url"`
	AuthenticityKey string        `yaml:"authenticity_key" mapstructure:"authenticity_key"`
	LivenessURL     string        `yaml:"liveness_url" mapstructure:"liveness_url"`
	LivenessKey     string        `yaml:"liveness_key" mapstructure:"liveness_key"`
}

// OTPConfig configures one-time passcode issuance and verification.
type OTPConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	IssueInterval time.Duration `yaml:"issue_interval" mapstructure:"issue_interval"`
	IssueBurst    int           `yaml:"issue_burst" mapstructure:"issue_burst"`
	HMACSecret    string        `yaml:"hmac_secret" mapstructure:"hmac_secret"`
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	AbandonAfter  time.Duration `yaml:"abandon_after" mapstructure:"abandon_after"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	TerminalGrace time.Duration `yaml:"terminal_grace" mapstructure:"terminal_grace"`
}

// ProofConfig configures the zero-knowledge proof service client.
type ProofConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Key     string        `yaml:"key" mapstructure:"key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LedgerConfig configures the append-only ledger client.
type LedgerConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Key     string        `yaml:"key" mapstructure:"key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AnthropicConfig holds credentials for the content-fraud risk source.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ServerConfig configures the HTTP API.
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
	v.SetEnvPrefix("KYC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "kyc.db")
	v.SetDefault("kv.driver", "memory")
	v.SetDefault("extraction.accept_threshold", 0.75)
	v.SetDefault("extraction.engine_timeout", "10s")
	v.SetDefault("extraction.min_image_bytes", 1024)
	v.SetDefault("validator.match_threshold", 0.85)
	v.SetDefault("validator.mismatch_threshold", 0.55)
	v.SetDefault("validator.max_ambiguous", 1)
	v.SetDefault("risk.source_timeout", "8s")
	v.SetDefault("otp.max_attempts", 3)
	v.SetDefault("otp.ttl", "5m")
	v.SetDefault("otp.issue_interval", "30s")
	v.SetDefault("otp.issue_burst", 2)
	v.SetDefault("session.abandon_after", "24h")
	v.SetDefault("session.sweep_interval", "10m")
	v.SetDefault("session.terminal_grace", "1h")
	v.SetDefault("proof.timeout", "10s")
	v.SetDefault("ledger.timeout", "10s")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("server.port", 8080)
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
