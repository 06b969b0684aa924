package evalauth

import (
	"testing"
	"time"
)

func TestDefaultConfigNeedsOnlyAKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing signing key to be rejected")
	}
	cfg.Token.SigningKey = testSigningKey
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config with key to validate, got %v", err)
	}
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Window != 10*time.Minute {
		t.Fatalf("unexpected lockout defaults %+v", cfg.Lockout)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "default",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "refresh shorter than access",
			mutate: func(c *Config) {
				c.Token.RefreshTTL = time.Minute
			},
			wantValid: false,
		},
		{
			name: "zero access ttl",
			mutate: func(c *Config) {
				c.Token.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "unknown signing method",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "ed25519 without verify key",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "short hs256 key",
			mutate: func(c *Config) {
				c.Token.SigningKey = []byte("0123456789abcdef0123456789abcde")
			},
			wantValid: false,
		},
		{
			name: "negative leeway",
			mutate: func(c *Config) {
				c.Token.Leeway = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero threshold",
			mutate: func(c *Config) {
				c.Lockout.Threshold = 0
			},
			wantValid: false,
		},
		{
			name: "zero window",
			mutate: func(c *Config) {
				c.Lockout.Window = 0
			},
			wantValid: false,
		},
		{
			name: "throttle disabled ignores budget",
			mutate: func(c *Config) {
				c.Throttle.MaxAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "throttle enabled without budget",
			mutate: func(c *Config) {
				c.Throttle.Enabled = true
				c.Throttle.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "bcrypt algorithm",
			mutate: func(c *Config) {
				c.Password.Algorithm = "bcrypt"
			},
			wantValid: true,
		},
		{
			name: "unknown algorithm",
			mutate: func(c *Config) {
				c.Password.Algorithm = "md5"
			},
			wantValid: false,
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "blank invalid message",
			mutate: func(c *Config) {
				c.Messages.InvalidCredentials = "  "
			},
			wantValid: false,
		},
		{
			name: "blank locked message",
			mutate: func(c *Config) {
				c.Messages.AccountLocked = ""
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWithConfigCopiesKeys(t *testing.T) {
	cfg := testConfig()
	key := append([]byte(nil), testSigningKey...)
	cfg.Token.SigningKey = key

	b := New().WithConfig(cfg)
	key[0] = 'X'
	if b.config.Token.SigningKey[0] == 'X' {
		t.Fatal("builder must not alias caller key material")
	}
}

func TestShortHMACKeyRejectedAtBuild(t *testing.T) {
	cfg := testConfig()
	cfg.Token.SigningKey = []byte("short")
	if _, err := New().WithConfig(cfg).WithIdentityProvider(newFakeIdentities()).Build(); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
}
