package evalauth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess   = "login_success"
	auditEventLoginFailure   = "login_failure"
	auditEventRefreshSuccess = "refresh_success"
	auditEventRefreshFailure = "refresh_failure"
	auditEventRefreshReuse   = "refresh_reuse_detected"
	auditEventLogout         = "logout"
	auditEventIdentityLock   = "identity_locked"
	auditEventIdentityUnlock = "identity_unlocked"
)

// AuditErrorCode is the stable error string written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrRevokedToken       AuditErrorCode = "revoked_token"
	auditErrIdentityNotFound   AuditErrorCode = "identity_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID int64,
	reason string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		IdentityID: identityID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Reason:     reason,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrTooManyAttempts), errors.Is(err, rateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRevokedToken):
		return auditErrRevokedToken
	case errors.Is(err, ErrExpiredToken):
		return auditErrExpiredToken
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrInvalidSignature):
		return auditErrInvalidToken
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrIdentityNotFound
	case errors.Is(err, lockoutUnavailable), errors.Is(err, throttleUnavailable), errors.Is(err, refreshUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
