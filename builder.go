package evalauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/evalauth/internal/flows"
	"github.com/MrEthical07/evalauth/internal/limiters"
	"github.com/MrEthical07/evalauth/internal/rate"
	"github.com/MrEthical07/evalauth/jwt"
	"github.com/MrEthical07/evalauth/password"
	"github.com/MrEthical07/evalauth/refresh"
)

const tracerName = "github.com/MrEthical07/evalauth"

// Builder assembles an Engine. A Builder can be used for one Build call.
//
// Without WithRedis the lockout tracker, throttle and refresh store are
// process-local, which is only correct for a single instance.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities     IdentityProvider
	refreshStore   refresh.Store
	auditSink      AuditSink
	logger         *slog.Logger
	clock          func() time.Time
	tracerProvider trace.TracerProvider

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis shares lockout, throttle and, unless WithRefreshStore is also
// used, refresh-token state through client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

// WithRefreshStore overrides the refresh-token store, for example with a
// SQL-backed one.
func (b *Builder) WithRefreshStore(s refresh.Store) *Builder {
	b.refreshStore = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now for token claims, lockout windows and refresh
// records. Tests use it to move time.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, errors.New("identity provider required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- PASSWORDS --------
	verifier, err := password.NewVerifier(password.Options{
		Algorithm: password.Algorithm(cfg.Password.Algorithm),
		Argon2: password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		BcryptCost: cfg.Password.BcryptCost,
	})
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		SigningKey:    cloneBytes(cfg.Token.SigningKey),
		VerifyKey:     cloneBytes(cfg.Token.VerifyKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	// -------- LOCKOUT / THROTTLE / REFRESH STORE --------
	lockCfg := limiters.LockoutConfig{
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
		KeyPrefix: cfg.Lockout.KeyPrefix,
	}
	var tracker limiters.Tracker
	if b.redis != nil {
		tracker, err = limiters.NewRedisLockout(b.redis, lockCfg)
	} else {
		tracker, err = limiters.NewMemoryLockout(lockCfg)
	}
	if err != nil {
		return nil, err
	}

	var throttle rate.Throttle
	if cfg.Throttle.Enabled {
		rateCfg := rate.Config{
			MaxAttempts: cfg.Throttle.MaxAttempts,
			Window:      cfg.Throttle.Window,
			KeyPrefix:   cfg.Throttle.KeyPrefix,
		}
		if b.redis != nil {
			throttle, err = rate.New(b.redis, rateCfg)
		} else {
			throttle, err = rate.NewMemory(rateCfg)
		}
		if err != nil {
			return nil, err
		}
	}

	store := b.refreshStore
	switch {
	case store != nil:
	case b.redis != nil:
		store = refresh.NewRedisStore(b.redis, cfg.Refresh.KeyPrefix, clock)
	default:
		store = refresh.NewMemoryStore(clock)
	}

	engine := &Engine{
		config:       cfg,
		identities:   b.identities,
		validator:    NewCredentialValidator(b.identities, verifier, cfg.Messages),
		passwords:    verifier,
		jwtManager:   jm,
		refreshStore: store,
		lockout:      tracker,
		throttle:     throttle,
		redis:        b.redis,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		logger:       logger.With(slog.String("component", "evalauth")),
		tracer:       tp.Tracer(tracerName),
		clock:        clock,
	}
	engine.flows = flows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}

// revokeIdentity is nil for stores without a per-identity index.
func revokeIdentity(s refresh.Store) func(context.Context, int64, time.Time) (int64, error) {
	if r, ok := s.(refresh.IdentityRevoker); ok {
		return r.RevokeAll
	}
	return nil
}

func (e *Engine) flowDeps() flows.Deps {
	parseRefresh := func(token string) (*jwt.Claims, error) {
		return e.jwtManager.Parse(token, jwt.TypeRefresh)
	}

	return flows.Deps{
		Authenticate: flows.AuthenticateDeps{
			FailOpen:            e.config.Lockout.FailOpen,
			ResetOnSuccess:      e.config.Lockout.ResetOnSuccess,
			Now:                 e.now,
			ClientIPFromContext: clientIPFromContext,
			Throttle:            e.throttle,
			Lockout:             e.lockout,
			ValidateCredentials: e.checkCredentials,
			RecordLogin:         e.RecordSuccessfulLogin,
			MetricInc:           func(id int) { e.metricInc(MetricID(id)) },
			ObserveLatency: func(d time.Duration) {
				e.metrics.Observe(MetricAuthenticateLatency, d)
			},
			EmitAudit: e.emitAudit,
			Warn: func(msg string, args ...any) {
				e.logger.Warn(msg, args...)
			},
			Metrics: flows.AuthenticateMetrics{
				Success:            int(MetricAuthSuccess),
				InvalidCredentials: int(MetricAuthInvalidCredentials),
				Locked:             int(MetricAuthLocked),
				Inactive:           int(MetricAuthInactive),
				Throttled:          int(MetricAuthThrottled),
				SystemError:        int(MetricAuthSystemError),
				LockoutEscalated:   int(MetricLockoutEscalated),
			},
			Events: flows.AuthenticateEvents{
				Success: auditEventLoginSuccess,
				Failure: auditEventLoginFailure,
			},
		},
		Refresh: flows.RefreshDeps{
			Now:          e.now,
			ParseRefresh: parseRefresh,
			Store:        e.refreshStore,
			LoadIdentity: func(ctx context.Context, id int64) (flows.IdentityRecord, error) {
				ident, err := e.identities.IdentityByID(ctx, id)
				if err != nil {
					return flows.IdentityRecord{}, err
				}
				return recordFromIdentity(ident), nil
			},
			IssuePair:        e.issuePair,
			IdentityNotFound: ErrIdentityNotFound,
			RevokeIdentity:   revokeIdentity(e.refreshStore),
		},
		Validate: flows.ValidateDeps{
			ParseAccess: func(token string) (*jwt.Claims, error) {
				return e.jwtManager.Parse(token, jwt.TypeAccess)
			},
		},
		Logout: flows.LogoutDeps{
			Now:          e.now,
			ParseRefresh: parseRefresh,
			Revoke:       e.refreshStore.Revoke,
		},
	}
}
