package evalauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/evalauth/internal/flows"
	"github.com/MrEthical07/evalauth/internal/limiters"
	"github.com/MrEthical07/evalauth/internal/rate"
	"github.com/MrEthical07/evalauth/jwt"
	"github.com/MrEthical07/evalauth/password"
	"github.com/MrEthical07/evalauth/refresh"
)

var (
	rateLimited         = rate.ErrRateLimited
	throttleUnavailable = rate.ErrRedisUnavailable
	lockoutUnavailable  = limiters.ErrLockoutUnavailable
	refreshUnavailable  = refresh.ErrUnavailable
)

// Engine is the authentication core. Build one with [New] and share it; all
// methods are safe for concurrent use.
type Engine struct {
	config       Config
	identities   IdentityProvider
	validator    *CredentialValidator
	passwords    *password.Verifier
	jwtManager   *jwt.Manager
	refreshStore refresh.Store
	lockout      limiters.Tracker
	throttle     rate.Throttle
	redis        redis.UniversalClient
	audit        *auditDispatcher
	metrics      *Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	clock        func() time.Time
	flows        flows.Service
}

// Close flushes pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

/*
====================================
AUTHENTICATION
====================================
*/

// Authenticate checks one email and password. It never returns a Go error:
// every outcome, including backend failures, is an AuthResult. Exactly one
// audit event is written per call. No tokens are issued; see [Engine.Login].
func (e *Engine) Authenticate(ctx context.Context, email, plaintext string) AuthResult {
	if !e.ready() {
		return failureResult(ReasonSystemError, DefaultConfig().Messages.SystemError, 0, ErrEngineNotReady)
	}

	ctx, span := e.tracer.Start(ctx, "evalauth.Authenticate")
	defer span.End()

	res := e.flows.Authenticate(ctx, NormalizeEmail(email), plaintext)
	out := e.authResultFrom(res)

	span.SetAttributes(attribute.String("evalauth.outcome", res.Failure.String()))
	if out.Succeeded() {
		span.SetAttributes(attribute.Int64("evalauth.identity_id", out.Identity.ID))
	}
	if res.Failure == flows.AuthFailureSystem {
		span.SetStatus(codes.Error, "authentication system error")
		e.logger.WarnContext(ctx, "authenticate failed internally", "error", res.Err)
	}
	return out
}

func (e *Engine) authResultFrom(res flows.AuthenticateResult) AuthResult {
	msgs := e.config.Messages
	switch res.Failure {
	case flows.AuthFailureNone:
		return successResult(identityFromRecord(res.Identity), msgs.Success)
	case flows.AuthFailureInvalidCredentials:
		return failureResult(ReasonInvalidCredentials, msgs.InvalidCredentials, 0, res.Err)
	case flows.AuthFailureLocked:
		return failureResult(ReasonAccountLocked, msgs.AccountLocked, res.RetryAfter, res.Err)
	case flows.AuthFailureInactive:
		return failureResult(ReasonAccountInactive, msgs.InvalidCredentials, 0, res.Err)
	case flows.AuthFailureThrottled:
		return failureResult(ReasonTooManyAttempts, msgs.TooManyAttempts, res.RetryAfter, res.Err)
	default:
		return failureResult(ReasonSystemError, msgs.SystemError, 0, res.Err)
	}
}

// RecordSuccessfulLogin stamps the identity's last login time in the
// identity store.
func (e *Engine) RecordSuccessfulLogin(ctx context.Context, identityID int64, at time.Time) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if err := e.identities.RecordLogin(ctx, identityID, at); err != nil {
		return fmt.Errorf("record login for %d: %w", identityID, err)
	}
	return nil
}

// Login authenticates and, on success, issues a token pair.
func (e *Engine) Login(ctx context.Context, email, plaintext string) LoginResult {
	res := e.Authenticate(ctx, email, plaintext)
	if !res.Succeeded() {
		return LoginResult{AuthResult: res}
	}

	pair, err := e.IssueTokenPair(ctx, *res.Identity)
	if err != nil {
		e.logger.WarnContext(ctx, "token issuance failed after login", "identity_id", res.Identity.ID, "error", err)
		return LoginResult{AuthResult: failureResult(ReasonSystemError, e.config.Messages.SystemError, 0, err)}
	}
	return LoginResult{AuthResult: res, Tokens: &pair}
}

// checkCredentials adapts the validator to the flow's credential callback.
func (e *Engine) checkCredentials(ctx context.Context, email, plaintext string) flows.CredentialCheck {
	r := e.validator.Validate(ctx, email, plaintext)
	switch r.Reason {
	case ReasonNone:
		e.rehashIfNeeded(ctx, *r.Identity, plaintext)
		return flows.CredentialCheck{Outcome: flows.CredentialValid, Identity: recordFromIdentity(*r.Identity)}
	case ReasonInvalidCredentials:
		if r.cause != nil {
			e.logger.WarnContext(ctx, "stored password hash unreadable", "error", r.cause)
		}
		return flows.CredentialCheck{Outcome: flows.CredentialInvalid, Err: r.cause}
	case ReasonAccountInactive:
		return flows.CredentialCheck{Outcome: flows.CredentialInactive}
	default:
		return flows.CredentialCheck{Outcome: flows.CredentialError, Err: r.cause}
	}
}

// rehashIfNeeded upgrades a verified password's stored hash. Failures are
// logged and never fail the login.
func (e *Engine) rehashIfNeeded(ctx context.Context, ident Identity, plaintext string) {
	updater, ok := e.identities.(PasswordRehasher)
	if !ok || !e.passwords.NeedsRehash(ident.PasswordHash) {
		return
	}
	hash, err := e.passwords.Hash(plaintext)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "identity_id", ident.ID, "error", err)
		return
	}
	if err := updater.UpdatePasswordHash(ctx, ident.ID, hash); err != nil {
		e.logger.WarnContext(ctx, "storing rehashed password failed", "identity_id", ident.ID, "error", err)
		return
	}
	e.logger.InfoContext(ctx, "password hash upgraded", "identity_id", ident.ID, "algorithm", string(e.passwords.Primary()))
}

/*
====================================
LOCKOUT ADMINISTRATION
====================================
*/

// LockIdentity sets the explicit lock flag for email. A zero until locks
// until UnlockIdentity is called.
func (e *Engine) LockIdentity(ctx context.Context, email string, until time.Time) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	id := NormalizeEmail(email)
	err := e.lockout.Lock(ctx, id, until)
	e.emitAudit(ctx, auditEventIdentityLock, err == nil, 0, "", err, func() map[string]string {
		meta := map[string]string{"identifier": id}
		if !until.IsZero() {
			meta["until"] = until.UTC().Format(time.RFC3339)
		}
		return meta
	})
	if err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	return nil
}

// UnlockIdentity clears the explicit lock flag and the attempt history.
func (e *Engine) UnlockIdentity(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	id := NormalizeEmail(email)
	err := e.lockout.Unlock(ctx, id)
	e.emitAudit(ctx, auditEventIdentityUnlock, err == nil, 0, "", err, func() map[string]string {
		return map[string]string{"identifier": id}
	})
	if err != nil {
		return fmt.Errorf("unlock identity: %w", err)
	}
	return nil
}

// LockStatus reports whether email is locked right now and, for a lock that
// will lift by itself, how long until it does.
func (e *Engine) LockStatus(ctx context.Context, email string) (bool, time.Duration, error) {
	if !e.ready() {
		return false, 0, ErrEngineNotReady
	}
	state, err := e.lockout.IsLocked(ctx, NormalizeEmail(email), e.now())
	if err != nil {
		return false, 0, fmt.Errorf("lock status: %w", err)
	}
	return state.Locked, state.RetryAfter, nil
}

// HashPassword hashes plaintext with the configured primary algorithm.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	if e == nil || e.passwords == nil {
		return "", ErrEngineNotReady
	}
	return e.passwords.Hash(plaintext)
}

/*
====================================
TOKENS
====================================
*/

// IssueAccessToken signs a short-lived access token carrying the identity's
// ID and roles. Access tokens are not persisted.
func (e *Engine) IssueAccessToken(identity Identity) (IssuedToken, error) {
	if !e.ready() {
		return IssuedToken{}, ErrEngineNotReady
	}
	if identity.ID <= 0 {
		return IssuedToken{}, errors.New("identity id is required")
	}
	tok, err := e.jwtManager.IssueAccess(subjectOf(identity.ID), identity.Roles)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	e.metricInc(MetricAccessIssued)
	return issuedToken(tok), nil
}

// IssueRefreshToken signs a long-lived refresh token and persists its record
// so that it can be revoked.
func (e *Engine) IssueRefreshToken(ctx context.Context, identity Identity) (IssuedToken, error) {
	if !e.ready() {
		return IssuedToken{}, ErrEngineNotReady
	}
	if identity.ID <= 0 {
		return IssuedToken{}, errors.New("identity id is required")
	}
	tok, err := e.jwtManager.IssueRefresh(subjectOf(identity.ID))
	if err != nil {
		return IssuedToken{}, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	if err := e.persistRefresh(ctx, identity.ID, tok); err != nil {
		return IssuedToken{}, err
	}
	return issuedToken(tok), nil
}

// IssueTokenPair issues an access and a refresh token from the same instant.
func (e *Engine) IssueTokenPair(ctx context.Context, identity Identity) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	if identity.ID <= 0 {
		return TokenPair{}, errors.New("identity id is required")
	}
	pair, err := e.issuePair(ctx, recordFromIdentity(identity))
	if err != nil {
		return TokenPair{}, err
	}
	return tokenPairFrom(pair), nil
}

func (e *Engine) issuePair(ctx context.Context, ident flows.IdentityRecord) (flows.TokenPair, error) {
	access, refreshTok, err := e.jwtManager.IssuePair(subjectOf(ident.ID), ident.Roles)
	if err != nil {
		return flows.TokenPair{}, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	if err := e.persistRefresh(ctx, ident.ID, refreshTok); err != nil {
		return flows.TokenPair{}, err
	}
	e.metricInc(MetricAccessIssued)
	return flows.TokenPair{Access: access, Refresh: refreshTok}, nil
}

func (e *Engine) persistRefresh(ctx context.Context, identityID int64, tok jwt.Issued) error {
	rec := refresh.Record{
		TokenID:    tok.Claims.ID,
		IdentityID: identityID,
		IssuedAt:   tok.Claims.IssuedAt.Time,
		ExpiresAt:  tok.Claims.ExpiresAt.Time,
	}
	if err := e.refreshStore.Save(ctx, rec); err != nil {
		return fmt.Errorf("%w: persist refresh token: %v", ErrSystem, err)
	}
	e.metricInc(MetricRefreshIssued)
	return nil
}

// ValidateAccessToken verifies signature and expiry and returns the claims.
// Errors match ErrMalformedToken, ErrExpiredToken or ErrInvalidSignature.
func (e *Engine) ValidateAccessToken(token string) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.ValidateAccess(token)
	if res.Failure != flows.ValidateFailureNone {
		e.metricInc(MetricAccessRejected)
		return nil, res.Err
	}
	id, err := strconv.ParseInt(res.Claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		e.metricInc(MetricAccessRejected)
		return nil, fmt.Errorf("%w: subject is not an identity id", ErrMalformedToken)
	}
	return &Claims{
		IdentityID: id,
		Roles:      cloneStrings(res.Claims.Roles),
		TokenID:    res.Claims.ID,
		IssuedAt:   res.Claims.IssuedAt.Time,
		ExpiresAt:  res.Claims.ExpiresAt.Time,
	}, nil
}

// ValidateRefreshToken verifies a refresh token against its stored record and
// returns the identity it was issued to. On top of the access-token errors it
// can return ErrRevokedToken, ErrAccountInactive or ErrIdentityNotFound.
func (e *Engine) ValidateRefreshToken(ctx context.Context, token string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	res := e.flows.ValidateRefresh(ctx, token)
	if res.Failure != flows.RefreshFailureNone {
		return Identity{}, refreshError(res)
	}
	return identityFromRecord(res.Identity), nil
}

// InvalidateRefreshToken revokes token. It returns true only for the call
// that moved the token from active to revoked. Expired, unknown, already
// revoked, malformed and forged tokens give false and no error; only backend
// failures are returned.
func (e *Engine) InvalidateRefreshToken(ctx context.Context, token string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	res := e.flows.Logout(ctx, token)
	if err := logoutError(res.Err); errors.Is(err, ErrSystem) {
		return false, err
	}
	return res.Revoked, nil
}

// IsExpired reports whether token's exp claim has passed. The signature is
// not checked, so the answer must not be used for authorization.
func (e *Engine) IsExpired(token string) bool {
	if !e.ready() {
		return true
	}
	return e.jwtManager.IsExpired(token)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. Of concurrent calls with the same token exactly one
// succeeds; the others get ErrRevokedToken.
func (e *Engine) Refresh(ctx context.Context, token string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	ctx, span := e.tracer.Start(ctx, "evalauth.Refresh")
	defer span.End()

	res := e.flows.Refresh(ctx, token)
	span.SetAttributes(attribute.String("evalauth.outcome", res.Failure.String()))
	if res.Failure != flows.RefreshFailureNone {
		err := refreshError(res)
		e.metricInc(MetricRefreshFailure)
		event := auditEventRefreshFailure
		if res.Failure == flows.RefreshFailureRevoked {
			e.metricInc(MetricRefreshReuse)
			event = auditEventRefreshReuse
		}
		if errors.Is(err, ErrSystem) {
			span.SetStatus(codes.Error, "refresh system error")
			e.logger.WarnContext(ctx, "refresh failed internally", "error", res.Err)
		}
		e.emitAudit(ctx, event, false, res.IdentityID, res.Failure.String(), err, tokenMeta(res.TokenID))
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.IdentityID, "", nil, tokenMeta(res.TokenID))
	return tokenPairFrom(res.Pair), nil
}

// Logout revokes the refresh token and writes one audit event. The boolean
// has the same meaning as for InvalidateRefreshToken.
func (e *Engine) Logout(ctx context.Context, token string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}

	ctx, span := e.tracer.Start(ctx, "evalauth.Logout")
	defer span.End()

	res := e.flows.Logout(ctx, token)
	err := logoutError(res.Err)
	span.SetAttributes(attribute.Bool("evalauth.revoked", res.Revoked))
	if errors.Is(err, ErrSystem) {
		span.SetStatus(codes.Error, "logout system error")
		e.logger.WarnContext(ctx, "logout failed internally", "error", res.Err)
	}
	if res.Revoked {
		e.metricInc(MetricLogout)
	}
	e.emitAudit(ctx, auditEventLogout, err == nil, res.IdentityID, "", err, func() map[string]string {
		meta := map[string]string{"revoked": strconv.FormatBool(res.Revoked)}
		if res.TokenID != "" {
			meta["token_id"] = res.TokenID
		}
		return meta
	})
	return res.Revoked, err
}

func refreshError(res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureNone:
		return nil
	case flows.RefreshFailureParse:
		return res.Err
	case flows.RefreshFailureExpired:
		if errors.Is(res.Err, ErrExpiredToken) {
			return res.Err
		}
		return ErrExpiredToken
	case flows.RefreshFailureRevoked:
		return ErrRevokedToken
	case flows.RefreshFailureIdentity:
		if res.Err != nil {
			return res.Err
		}
		return ErrAccountInactive
	default:
		return fmt.Errorf("%w: %v", ErrSystem, res.Err)
	}
}

func logoutError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrExpiredToken):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrSystem, err)
	}
}

func tokenMeta(tokenID string) func() map[string]string {
	return func() map[string]string {
		if tokenID == "" {
			return nil
		}
		return map[string]string{"token_id": tokenID}
	}
}

func subjectOf(id int64) string {
	return strconv.FormatInt(id, 10)
}

func issuedToken(tok jwt.Issued) IssuedToken {
	return IssuedToken{
		Token:     tok.Token,
		TokenID:   tok.Claims.ID,
		IssuedAt:  tok.Claims.IssuedAt.Time,
		ExpiresAt: tok.Claims.ExpiresAt.Time,
	}
}

func tokenPairFrom(p flows.TokenPair) TokenPair {
	return TokenPair{Access: issuedToken(p.Access), Refresh: issuedToken(p.Refresh)}
}

func identityFromRecord(r flows.IdentityRecord) Identity {
	return Identity{
		ID:          r.ID,
		Email:       r.Email,
		Active:      r.Active,
		Roles:       cloneStrings(r.Roles),
		LastLoginAt: r.LastLoginAt,
	}
}

func recordFromIdentity(i Identity) flows.IdentityRecord {
	return flows.IdentityRecord{
		ID:          i.ID,
		Email:       i.Email,
		Roles:       cloneStrings(i.Roles),
		Active:      i.Active,
		LastLoginAt: i.LastLoginAt,
	}
}
