package evalauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/evalauth/password"
)

// Config is the complete engine configuration. Start from [DefaultConfig],
// override fields, then pass it to [Builder.WithConfig].
type Config struct {
	Token    TokenConfig
	Lockout  LockoutConfig
	Throttle ThrottleConfig
	Password PasswordConfig
	Refresh  RefreshConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Messages MessagesConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls signing and lifetimes of access and refresh tokens.
// Keys are loaded once at startup; rotating them means restarting with a new
// KeyID and the old public key in VerifyKeys.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	SigningKey    []byte
	VerifyKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the per-identifier sliding-window policy: Threshold
// failures inside Window lock the identifier until enough of them age out.
type LockoutConfig struct {
	Threshold      int
	Window         time.Duration
	ResetOnSuccess bool
	FailOpen       bool
	KeyPrefix      string
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig is the optional per-client-IP fixed-window throttle.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	KeyPrefix   string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Algorithm   string // "argon2id" (default) or "bcrypt"
	Memory      uint32 // in KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

/*
====================================
REFRESH / AUDIT / METRICS
====================================
*/

type RefreshConfig struct {
	KeyPrefix string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
MESSAGES
====================================
*/

// MessagesConfig holds the caller-visible strings. Inactive accounts reuse
// InvalidCredentials so the two cases are indistinguishable from outside.
type MessagesConfig struct {
	Success            string
	InvalidCredentials string
	AccountLocked      string
	TooManyAttempts    string
	SystemError        string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. SigningKey is left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "evalauth",
			Audience:      "evalauth-api",
		},
		Lockout: LockoutConfig{
			Threshold:      5,
			Window:         10 * time.Minute,
			ResetOnSuccess: true,
			FailOpen:       false,
			KeyPrefix:      "alo",
		},
		Throttle: ThrottleConfig{
			Enabled:     false,
			MaxAttempts: 20,
			Window:      time.Minute,
			KeyPrefix:   "alt",
		},
		Password: PasswordConfig{
			Algorithm:   string(password.AlgArgon2id),
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  12,
		},
		Refresh: RefreshConfig{
			KeyPrefix: "art",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Messages: MessagesConfig{
			Success:            "Login successful.",
			InvalidCredentials: "Invalid email or password.",
			AccountLocked:      "Account temporarily locked. Try again later.",
			TooManyAttempts:    "Too many attempts. Try again later.",
			SystemError:        "Authentication is temporarily unavailable.",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	out.Token.VerifyKey = cloneBytes(cfg.Token.VerifyKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

const minHS256KeyLength = 32

// Validate checks the configuration for values the engine cannot run with.
// Key material is checked again, in more detail, by the jwt package.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "hs256":
		if len(c.Token.SigningKey) == 0 {
			return errors.New("hs256 requires SigningKey")
		}
		if len(c.Token.SigningKey) < minHS256KeyLength {
			return fmt.Errorf("hs256 SigningKey must be at least %d bytes", minHS256KeyLength)
		}
	case "ed25519":
		if len(c.Token.SigningKey) == 0 || len(c.Token.VerifyKey) == 0 {
			return errors.New("ed25519 requires SigningKey and VerifyKey")
		}
	default:
		return fmt.Errorf("unsupported token signing method %q", c.Token.SigningMethod)
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.MaxAttempts < 1 {
			return errors.New("Throttle MaxAttempts must be >= 1")
		}
		if c.Throttle.Window <= 0 {
			return errors.New("Throttle Window must be > 0")
		}
	}

	// Password
	switch password.Algorithm(c.Password.Algorithm) {
	case password.AlgArgon2id, password.AlgBcrypt:
	default:
		return fmt.Errorf("unsupported password algorithm %q", c.Password.Algorithm)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	// Messages
	if strings.TrimSpace(c.Messages.InvalidCredentials) == "" {
		return errors.New("Messages InvalidCredentials must not be empty")
	}
	if strings.TrimSpace(c.Messages.AccountLocked) == "" ||
		strings.TrimSpace(c.Messages.TooManyAttempts) == "" ||
		strings.TrimSpace(c.Messages.SystemError) == "" {
		return errors.New("failure messages must not be empty")
	}

	return nil
}
