package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	KurrentDB KurrentDBConfig `mapstructure:"kurrentdb"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Audit     AuditConfig     `mapstructure:"audit"`
	TSA       TSAConfig       `mapstructure:"tsa"`
	HIS       HISConfig       `mapstructure:"his"`
	Seed      SeedConfig      `mapstructure:"seed"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// StoreConfig selects the Record Store Adapter backend: "memory" or "postgres".
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Insecure bool   `mapstructure:"insecure"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// StreamPrefix namespaces domain event streams, e.g. "swasthya-consent-updated"
	StreamPrefix string `mapstructure:"stream_prefix"`
}

// AuthConfig covers patient and admin session tokens. Institution API keys
// are stored in the record store, not here.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// AuditConfig controls where access log entries go and how hard the
// gateway tries before failing a request.
type AuditConfig struct {
	// Backend: "memory", "postgres" or "kurrentdb"
	Backend      string        `mapstructure:"backend"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// WitnessType: "local" or "rfc3161_tsa"
	WitnessType string `mapstructure:"witness_type"`
}

// TSAConfig holds configuration for the Time Stamping Authority.
type TSAConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	OrgName string `mapstructure:"org_name"`
}

// HISConfig configures a hospital information system import source.
type HISConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	InstitutionID string        `mapstructure:"institution_id"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Database      string        `mapstructure:"database"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Encrypt       bool          `mapstructure:"encrypt"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type SeedConfig struct {
	// OnStartup loads the embedded demo data when serve starts
	OnStartup bool `mapstructure:"on_startup"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// Load reads configuration from an optional config file (config.yaml in the
// working directory, or the path in configFile) and environment variables.
// Keys map to env vars by upper-casing and replacing dots, e.g. server.port
// is SERVER_PORT.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// CORS origins may arrive as a comma-separated env var
	if len(cfg.Server.CORSOrigins) == 1 && strings.Contains(cfg.Server.CORSOrigins[0], ",") {
		cfg.Server.CORSOrigins = strings.Split(cfg.Server.CORSOrigins[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "platform")
	v.SetDefault("database.password", "platform")
	v.SetDefault("database.name", "swasthyasetu")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("store.backend", "memory")

	v.SetDefault("kurrentdb.enabled", false)
	v.SetDefault("kurrentdb.host", "localhost")
	v.SetDefault("kurrentdb.port", 2113)
	v.SetDefault("kurrentdb.insecure", true)
	v.SetDefault("kurrentdb.username", "")
	v.SetDefault("kurrentdb.password", "")
	v.SetDefault("kurrentdb.stream_prefix", "swasthya")

	v.SetDefault("auth.jwt_secret", "dev-secret-change-in-prod")
	v.SetDefault("auth.issuer", "swasthyasetu")
	v.SetDefault("auth.token_ttl", 15*time.Minute)

	v.SetDefault("audit.backend", "memory")
	v.SetDefault("audit.write_timeout", 5*time.Second)
	v.SetDefault("audit.max_attempts", 5)
	v.SetDefault("audit.retry_backoff", 50*time.Millisecond)
	v.SetDefault("audit.witness_type", "local")

	v.SetDefault("tsa.enabled", false)
	v.SetDefault("tsa.org_name", "SwasthyaSetu")

	v.SetDefault("his.enabled", false)
	v.SetDefault("his.institution_id", "")
	v.SetDefault("his.host", "localhost")
	v.SetDefault("his.port", 1433)
	v.SetDefault("his.database", "heliant")
	v.SetDefault("his.user", "")
	v.SetDefault("his.password", "")
	v.SetDefault("his.encrypt", false)
	v.SetDefault("his.poll_interval", 5*time.Minute)
	v.SetDefault("his.batch_size", 500)

	v.SetDefault("seed.on_startup", true)

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
}

// Validate rejects configurations that cannot work
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", c.Store.Backend)
	}

	switch c.Audit.Backend {
	case "memory", "postgres":
	case "kurrentdb":
		if !c.KurrentDB.Enabled {
			return fmt.Errorf("audit.backend kurrentdb requires kurrentdb.enabled")
		}
	default:
		return fmt.Errorf("audit.backend must be memory, postgres or kurrentdb, got %q", c.Audit.Backend)
	}

	switch c.Audit.WitnessType {
	case "local":
	case "rfc3161_tsa":
		if !c.TSA.Enabled {
			return fmt.Errorf("audit.witness_type rfc3161_tsa requires tsa.enabled")
		}
	default:
		return fmt.Errorf("audit.witness_type must be local or rfc3161_tsa, got %q", c.Audit.WitnessType)
	}

	if c.Audit.MaxAttempts < 1 {
		return fmt.Errorf("audit.max_attempts must be at least 1")
	}
	if c.Audit.WriteTimeout <= 0 {
		return fmt.Errorf("audit.write_timeout must be positive")
	}

	if c.HIS.Enabled && c.HIS.InstitutionID == "" {
		return fmt.Errorf("his.institution_id is required when his.enabled")
	}

	if c.IsProduction() && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("auth.jwt_secret must be set in production")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
