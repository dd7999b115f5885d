package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig           `mapstructure:"server"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Redis      RedisConfig            `mapstructure:"redis"`
	JWT        JWTConfig              `mapstructure:"jwt"`
	Log        LogConfig              `mapstructure:"log"`
	Auth       AuthConfig             `mapstructure:"auth"`
	Admin      AdminConfig            `mapstructure:"admin"`
	Webhooks   WebhookConfig          `mapstructure:"webhooks"`
	Chains     map[string]ChainConfig `mapstructure:"chains"`
	Wallets    map[string][]string    `mapstructure:"wallets"` // seed addresses per chain
	Invoice    InvoiceConfig          `mapstructure:"invoice"`
	Pipeline   PipelineConfig         `mapstructure:"pipeline"`
	Compliance ComplianceConfig       `mapstructure:"compliance"`
	Receipts   ReceiptConfig          `mapstructure:"receipts"`
	Custody    CustodyConfig          `mapstructure:"custody"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Pretty     bool   `mapstructure:"pretty"` // human-readable output (dev only)
	File       string `mapstructure:"file"`   // rotated by lumberjack when set
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// AuthConfig guards invoice creation.
type AuthConfig struct {
	APIKeys      []string `mapstructure:"api_keys"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"` // HMAC alternative to API keys
}

// AdminConfig holds the operator account.
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // argon2id encoded
}

type WebhookConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes how one webhook provider signs its callbacks.
type ProviderConfig struct {
	Secret          string `mapstructure:"secret"`
	Algorithm       string `mapstructure:"algorithm"` // sha256, sha512
	SignatureHeader string `mapstructure:"signature_header"`
	EventIDHeader   string `mapstructure:"event_id_header"`
	Format          string `mapstructure:"format"` // generic, nowpayments
}

type ChainConfig struct {
	Tokens                []string `mapstructure:"tokens"`
	RequiredConfirmations int      `mapstructure:"required_confirmations"`
	MemoRequired          bool     `mapstructure:"memo_required"`
	RPCURL                string   `mapstructure:"rpc_url"`
}

type InvoiceConfig struct {
	MinUSD       string        `mapstructure:"min_usd"`
	MaxUSD       string        `mapstructure:"max_usd"`
	ExpiryWindow time.Duration `mapstructure:"expiry_window"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	QRSize       int           `mapstructure:"qr_size"`
	QRCacheTTL   time.Duration `mapstructure:"qr_cache_ttl"`
}

type PipelineConfig struct {
	WorkerID          string        `mapstructure:"worker_id"`
	Workers           int           `mapstructure:"workers"`
	BatchSize         int           `mapstructure:"batch_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
	LeaseDuration     time.Duration `mapstructure:"lease_duration"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffJitter     float64       `mapstructure:"backoff_jitter"`
	MintEnabled       bool          `mapstructure:"mint_enabled"`
	ExpiryInterval    time.Duration `mapstructure:"expiry_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileGrace    time.Duration `mapstructure:"reconcile_grace"`
	ReplayInterval    time.Duration `mapstructure:"replay_interval"`
	ReplayWindow      time.Duration `mapstructure:"replay_window"`
}

type ComplianceConfig struct {
	DenyList           []string `mapstructure:"deny_list"`
	ReviewThresholdUSD string   `mapstructure:"review_threshold_usd"`
}

type ReceiptConfig struct {
	Driver        string `mapstructure:"driver"` // s3, memory
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Organization  string `mapstructure:"organization"`
}

type CustodyConfig struct {
	Driver  string        `mapstructure:"driver"` // http, simulated
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: DGW_ (Donation Gateway).
// Nested keys use underscore: DGW_DATABASE_HOST, DGW_JWT_SECRET, etc.
// Webhook secrets may also be given as DGW_WEBHOOK_SECRET_<PROVIDER>.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: DGW_DATABASE_HOST -> database.host
	v.SetEnvPrefix("DGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	for name, p := range cfg.Webhooks.Providers {
		if s := os.Getenv("DGW_WEBHOOK_SECRET_" + strings.ToUpper(name)); s != "" {
			p.Secret = s
		}
		if p.Algorithm == "" {
			p.Algorithm = "sha256"
		}
		if p.SignatureHeader == "" {
			p.SignatureHeader = "X-Signature"
		}
		if p.EventIDHeader == "" {
			p.EventIDHeader = "X-Event-Id"
		}
		if p.Format == "" {
			p.Format = "generic"
		}
		cfg.Webhooks.Providers[name] = p
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "donations")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "3s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "8h")
	v.SetDefault("jwt.issuer", "donation-gateway")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.client_id", "default")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")

	v.SetDefault("chains", map[string]interface{}{
		"bitcoin":  map[string]interface{}{"tokens": []string{"BTC"}, "required_confirmations": 3},
		"ethereum": map[string]interface{}{"tokens": []string{"ETH", "USDC", "USDT"}, "required_confirmations": 12},
		"solana":   map[string]interface{}{"tokens": []string{"SOL", "USDC"}, "required_confirmations": 32},
		"stellar":  map[string]interface{}{"tokens": []string{"XLM"}, "required_confirmations": 1, "memo_required": true},
	})

	v.SetDefault("invoice.min_usd", "1.00")
	v.SetDefault("invoice.max_usd", "25000.00")
	v.SetDefault("invoice.expiry_window", "1h")
	v.SetDefault("invoice.lock_ttl", "10s")
	v.SetDefault("invoice.qr_size", 256)
	v.SetDefault("invoice.qr_cache_ttl", "24h")

	v.SetDefault("pipeline.workers", 16)
	v.SetDefault("pipeline.batch_size", 32)
	v.SetDefault("pipeline.poll_interval", "5s")
	v.SetDefault("pipeline.stage_timeout", "30s")
	v.SetDefault("pipeline.lease_duration", "2m")
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.backoff_base", "30s")
	v.SetDefault("pipeline.backoff_factor", 2.0)
	v.SetDefault("pipeline.backoff_max", "30m")
	v.SetDefault("pipeline.backoff_jitter", 0.2)
	v.SetDefault("pipeline.mint_enabled", true)
	v.SetDefault("pipeline.expiry_interval", "1m")
	v.SetDefault("pipeline.reconcile_interval", "5m")
	v.SetDefault("pipeline.reconcile_grace", "2m")
	v.SetDefault("pipeline.replay_interval", "1m")
	v.SetDefault("pipeline.replay_window", "24h")

	v.SetDefault("compliance.review_threshold_usd", "10000.00")

	v.SetDefault("receipts.driver", "memory")
	v.SetDefault("receipts.prefix", "receipts")
	v.SetDefault("receipts.region", "us-east-1")
	v.SetDefault("receipts.organization", "Donation Gateway")

	v.SetDefault("custody.driver", "simulated")
	v.SetDefault("custody.timeout", "15s")
}

// Validate checks settings that have no safe default outside debug mode.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Mode == "release" {
		if len(c.Auth.APIKeys) == 0 && c.Auth.ClientSecret == "" {
			problems = append(problems, "auth.api_keys or auth.client_secret is required")
		}
		if c.JWT.Secret == "" {
			problems = append(problems, "jwt.secret is required")
		}
		if c.Database.Driver == "memory" {
			problems = append(problems, "database.driver=memory is not allowed in release mode")
		}
	}
	for name, p := range c.Webhooks.Providers {
		if p.Secret == "" {
			problems = append(problems, fmt.Sprintf("webhooks.providers.%s.secret is required", name))
		}
		if p.Algorithm != "sha256" && p.Algorithm != "sha512" {
			problems = append(problems, fmt.Sprintf("webhooks.providers.%s.algorithm must be sha256 or sha512", name))
		}
	}
	if len(c.Chains) == 0 {
		problems = append(problems, "at least one chain must be configured")
	}
	if c.Pipeline.MaxAttempts < 1 {
		problems = append(problems, "pipeline.max_attempts must be >= 1")
	}
	if c.Pipeline.StageTimeout >= c.Pipeline.LeaseDuration {
		problems = append(problems, "pipeline.stage_timeout must be shorter than pipeline.lease_duration")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
