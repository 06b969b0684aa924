package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/evalauth/internal/limiters"
	"github.com/MrEthical07/evalauth/internal/rate"
)

// IdentityRecord is the flow-local identity model. Password hashes never
// reach the flows.
type IdentityRecord struct {
	ID          int64
	Email       string
	Roles       []string
	Active      bool
	LastLoginAt time.Time
}

// CredentialOutcome classifies a credential check.
type CredentialOutcome int

const (
	CredentialValid CredentialOutcome = iota
	CredentialInvalid
	CredentialInactive
	CredentialError
)

// CredentialCheck is what the credential validator hands back to the flow.
type CredentialCheck struct {
	Outcome  CredentialOutcome
	Identity IdentityRecord
	Err      error
}

// AuthFailureKind classifies authenticate failures for root-level mapping.
type AuthFailureKind int

const (
	AuthFailureNone AuthFailureKind = iota
	AuthFailureInvalidCredentials
	AuthFailureLocked
	AuthFailureInactive
	AuthFailureThrottled
	AuthFailureSystem
)

// AuthenticateResult carries the identity on success or failure metadata.
type AuthenticateResult struct {
	Failure    AuthFailureKind
	Identity   IdentityRecord
	RetryAfter time.Duration
	Err        error
}

// AuthenticateMetrics carries metric IDs used by the authenticate flow.
type AuthenticateMetrics struct {
	Success            int
	InvalidCredentials int
	Locked             int
	Inactive           int
	Throttled          int
	SystemError        int
	LockoutEscalated   int
}

// AuthenticateEvents carries audit event names used by the authenticate flow.
type AuthenticateEvents struct {
	Success string
	Failure string
}

// AuthenticateDeps captures authenticate dependencies.
type AuthenticateDeps struct {
	FailOpen       bool
	ResetOnSuccess bool

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	Throttle rate.Throttle
	Lockout  limiters.Tracker

	ValidateCredentials func(ctx context.Context, email, password string) CredentialCheck
	RecordLogin         func(ctx context.Context, identityID int64, at time.Time) error

	MetricInc      func(int)
	ObserveLatency func(time.Duration)
	EmitAudit      func(ctx context.Context, event string, success bool, identityID int64, reason string, err error, metadata func() map[string]string)
	Warn           func(string, ...any)

	Metrics AuthenticateMetrics
	Events  AuthenticateEvents
}

var errNotWired = errors.New("authenticate flow dependencies missing")

// RunAuthenticate executes throttle, lockout, credential and escalation
// steps for one attempt. identifier must already be normalized. Exactly one
// audit event is emitted per call.
func RunAuthenticate(ctx context.Context, identifier, password string, deps AuthenticateDeps) (res AuthenticateResult) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, int64, string, error, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}

	start := time.Now()
	now := deps.Now()
	ip := deps.ClientIPFromContext(ctx)

	defer func() {
		deps.ObserveLatency(time.Since(start))
		deps.MetricInc(metricFor(res.Failure, deps.Metrics))
		event := deps.Events.Failure
		if res.Failure == AuthFailureNone {
			event = deps.Events.Success
		}
		reason := res.Failure.String()
		deps.EmitAudit(ctx, event, res.Failure == AuthFailureNone, res.Identity.ID, reason, res.Err, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"ip":         ip,
			}
		})
	}()

	if deps.Lockout == nil || deps.ValidateCredentials == nil || deps.RecordLogin == nil {
		return AuthenticateResult{Failure: AuthFailureSystem, Err: errNotWired}
	}

	if deps.Throttle != nil && ip != "" {
		hit, err := deps.Throttle.Hit(ctx, ip)
		switch {
		case err != nil && !deps.FailOpen:
			return AuthenticateResult{Failure: AuthFailureSystem, Err: err}
		case err != nil:
			deps.Warn("evalauth: throttle unavailable, continuing", "error", err)
		case !hit.Allowed:
			return AuthenticateResult{Failure: AuthFailureThrottled, RetryAfter: hit.RetryAfter, Err: rate.ErrRateLimited}
		}
	}

	state, err := deps.Lockout.IsLocked(ctx, identifier, now)
	if err != nil {
		if !deps.FailOpen {
			return AuthenticateResult{Failure: AuthFailureSystem, Err: err}
		}
		deps.Warn("evalauth: lockout read failed, continuing", "error", err)
	}
	if state.Locked {
		return AuthenticateResult{Failure: AuthFailureLocked, RetryAfter: state.RetryAfter}
	}

	check := deps.ValidateCredentials(ctx, identifier, password)
	switch check.Outcome {
	case CredentialValid:
		if err := deps.RecordLogin(ctx, check.Identity.ID, now); err != nil {
			return AuthenticateResult{Failure: AuthFailureSystem, Err: err}
		}
		if deps.ResetOnSuccess {
			if err := deps.Lockout.Reset(ctx, identifier); err != nil {
				deps.Warn("evalauth: lockout reset failed", "error", err)
			}
		}
		check.Identity.LastLoginAt = now
		return AuthenticateResult{Identity: check.Identity}

	case CredentialInvalid:
		decision, err := deps.Lockout.RecordFailedAttempt(ctx, identifier, now)
		if err != nil {
			if !deps.FailOpen {
				return AuthenticateResult{Failure: AuthFailureSystem, Err: err}
			}
			deps.Warn("evalauth: lockout write failed, continuing", "error", err)
			return AuthenticateResult{Failure: AuthFailureInvalidCredentials}
		}
		if decision.Locked {
			deps.MetricInc(deps.Metrics.LockoutEscalated)
			return AuthenticateResult{Failure: AuthFailureLocked, RetryAfter: decision.RetryAfter}
		}
		return AuthenticateResult{Failure: AuthFailureInvalidCredentials}

	case CredentialInactive:
		return AuthenticateResult{Failure: AuthFailureInactive}

	default:
		return AuthenticateResult{Failure: AuthFailureSystem, Err: check.Err}
	}
}

func (k AuthFailureKind) String() string {
	switch k {
	case AuthFailureNone:
		return "success"
	case AuthFailureInvalidCredentials:
		return "invalid_credentials"
	case AuthFailureLocked:
		return "account_locked"
	case AuthFailureInactive:
		return "account_inactive"
	case AuthFailureThrottled:
		return "too_many_attempts"
	case AuthFailureSystem:
		return "internal_error"
	default:
		return "unknown"
	}
}

func metricFor(k AuthFailureKind, m AuthenticateMetrics) int {
	switch k {
	case AuthFailureNone:
		return m.Success
	case AuthFailureInvalidCredentials:
		return m.InvalidCredentials
	case AuthFailureLocked:
		return m.Locked
	case AuthFailureInactive:
		return m.Inactive
	case AuthFailureThrottled:
		return m.Throttled
	default:
		return m.SystemError
	}
}
