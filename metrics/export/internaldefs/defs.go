package internaldefs

import (
	"github.com/MrEthical07/evalauth"
)

type CounterDef struct {
	ID   evalauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   evalauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for evalauth.Engine.AuditDropped.
const AuditDroppedName = "evalauth_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: evalauth.MetricAuthSuccess, Name: "evalauth_auth_success_total", Help: "Successful authentications."},
	{ID: evalauth.MetricAuthInvalidCredentials, Name: "evalauth_auth_invalid_credentials_total", Help: "Authentications rejected for invalid credentials."},
	{ID: evalauth.MetricAuthLocked, Name: "evalauth_auth_locked_total", Help: "Authentications rejected because the identifier is locked."},
	{ID: evalauth.MetricAuthInactive, Name: "evalauth_auth_inactive_total", Help: "Authentications rejected for inactive accounts."},
	{ID: evalauth.MetricAuthThrottled, Name: "evalauth_auth_throttled_total", Help: "Authentications rejected by the per-IP throttle."},
	{ID: evalauth.MetricAuthSystemError, Name: "evalauth_auth_system_error_total", Help: "Authentications that failed on a backend error."},
	{ID: evalauth.MetricLockoutEscalated, Name: "evalauth_lockout_escalated_total", Help: "Failed attempts that locked their identifier."},
	{ID: evalauth.MetricAccessIssued, Name: "evalauth_access_tokens_issued_total", Help: "Issued access tokens."},
	{ID: evalauth.MetricRefreshIssued, Name: "evalauth_refresh_tokens_issued_total", Help: "Issued and persisted refresh tokens."},
	{ID: evalauth.MetricRefreshSuccess, Name: "evalauth_refresh_success_total", Help: "Successful refresh-token rotations."},
	{ID: evalauth.MetricRefreshFailure, Name: "evalauth_refresh_failure_total", Help: "Failed refresh-token rotations."},
	{ID: evalauth.MetricRefreshReuse, Name: "evalauth_refresh_reuse_total", Help: "Refresh attempts with an already revoked token."},
	{ID: evalauth.MetricLogout, Name: "evalauth_logout_total", Help: "Logouts that revoked a refresh token."},
	{ID: evalauth.MetricAccessRejected, Name: "evalauth_access_rejected_total", Help: "Access tokens that failed validation."},
	{ID: evalauth.MetricAuthorizeDenied, Name: "evalauth_authorize_denied_total", Help: "Capability checks that denied access."},
}

var HistogramDefs = []HistogramDef{
	{ID: evalauth.MetricAuthenticateLatency, Name: "evalauth_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds; the last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

const bucketCount = 8

func NormalizeBuckets(raw []uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [bucketCount]uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
