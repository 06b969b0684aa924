// Package config loads the evalauth service configuration.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/evalauth"
)

//go:embed config.yml
var embeddedConfig []byte

var ErrMissingSigningKey = errors.New("config: auth.signing_key is required (set EVALAUTH_AUTH_SIGNING_KEY)")

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Mode     string         `mapstructure:"mode"`
	Server   ServerConfig   `mapstructure:"server"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Seed     []SeedIdentity `mapstructure:"seed"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// SweepInterval is how often expired refresh tokens are deleted on the
	// SQL backends. Zero disables the sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            string `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DB              string `mapstructure:"db"`
	SSLMode         string `mapstructure:"sslmode"`
	ConnectAttempts int    `mapstructure:"connect_attempts"`
}

// URL renders the connection string in the postgresql:// form accepted by
// both pgx and golang-migrate.
func (p PostgresConfig) URL() string {
	q := url.Values{}
	q.Set("sslmode", p.SSLMode)
	q.Set("timezone", "utc")
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     p.DB,
		RawQuery: q.Encode(),
	}
	return u.String()
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SigningKey          string        `mapstructure:"signing_key"`
	Issuer              string        `mapstructure:"issuer"`
	Audience            string        `mapstructure:"audience"`
	AccessTTL           time.Duration `mapstructure:"access_ttl"`
	RefreshTTL          time.Duration `mapstructure:"refresh_ttl"`
	LockoutThreshold    int           `mapstructure:"lockout_threshold"`
	LockoutWindow       time.Duration `mapstructure:"lockout_window"`
	LockoutFailOpen     bool          `mapstructure:"lockout_fail_open"`
	ThrottleEnabled     bool          `mapstructure:"throttle_enabled"`
	ThrottleMaxAttempts int           `mapstructure:"throttle_max_attempts"`
	ThrottleWindow      time.Duration `mapstructure:"throttle_window"`
	AuditEnabled        bool          `mapstructure:"audit_enabled"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is "prometheus" (client_golang collector) or "otel" (OTel
	// meter provider with the Prometheus reader).
	Exporter string `mapstructure:"exporter"`
}

// SeedIdentity is created at startup; emails that already exist are skipped.
// Password is plaintext and hashed with the engine's configured algorithm.
type SeedIdentity struct {
	Email    string   `mapstructure:"email"`
	Password string   `mapstructure:"password"`
	Roles    []string `mapstructure:"roles"`
	Active   bool     `mapstructure:"active"`
}

func (c Config) Development() bool {
	return c.Mode == "" || c.Mode == "development"
}

// Engine maps the auth section onto an evalauth.Config seeded from
// evalauth.DefaultConfig.
func (c Config) Engine() evalauth.Config {
	cfg := evalauth.DefaultConfig()
	cfg.Token.SigningKey = []byte(c.Auth.SigningKey)
	cfg.Token.Issuer = c.Auth.Issuer
	cfg.Token.Audience = c.Auth.Audience
	cfg.Token.AccessTTL = c.Auth.AccessTTL
	cfg.Token.RefreshTTL = c.Auth.RefreshTTL
	cfg.Lockout.Threshold = c.Auth.LockoutThreshold
	cfg.Lockout.Window = c.Auth.LockoutWindow
	cfg.Lockout.FailOpen = c.Auth.LockoutFailOpen
	cfg.Throttle.Enabled = c.Auth.ThrottleEnabled
	cfg.Throttle.MaxAttempts = c.Auth.ThrottleMaxAttempts
	cfg.Throttle.Window = c.Auth.ThrottleWindow
	cfg.Audit.Enabled = c.Auth.AuditEnabled
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Enabled
	return cfg
}

// Load reads the embedded defaults, merges evalauth.yml from ".", "config"
// and "/etc/evalauth" when present, and applies EVALAUTH_* environment
// overrides.
func Load() (Config, error) {
	return LoadFrom(".", "config", "/etc/evalauth")
}

// LoadFrom is Load with explicit search paths.
func LoadFrom(paths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yml")
	if err := v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
		return Config{}, fmt.Errorf("read embedded config: %w", err)
	}

	v.SetConfigName("evalauth")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("merge config file: %w", err)
		}
	}

	v.SetEnvPrefix("EVALAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return ErrMissingSigningKey
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}
	switch c.Metrics.Exporter {
	case "prometheus", "otel":
	default:
		return fmt.Errorf("config: unknown metrics.exporter %q", c.Metrics.Exporter)
	}
	engine := c.Engine()
	if err := engine.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
