package internaldefs

import (
	"github.com/taskboard/sessionauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   sessionauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: sessionauth.MetricLoginSuccess, Name: "sessionauth_login_success_total", Help: "Successful logins."},
	{ID: sessionauth.MetricLoginFailure, Name: "sessionauth_login_failure_total", Help: "Rejected logins."},
	{ID: sessionauth.MetricLoginRateLimited, Name: "sessionauth_login_rate_limited_total", Help: "Logins refused by the attempt throttle."},
	{ID: sessionauth.MetricSignupSuccess, Name: "sessionauth_signup_success_total", Help: "Accounts created."},
	{ID: sessionauth.MetricSignupDuplicate, Name: "sessionauth_signup_duplicate_total", Help: "Signups rejected for a taken username or email."},
	{ID: sessionauth.MetricSignupFailure, Name: "sessionauth_signup_failure_total", Help: "Signups rejected for other reasons."},
	{ID: sessionauth.MetricSessionCreated, Name: "sessionauth_session_created_total", Help: "Refresh sessions appended to the store."},
	{ID: sessionauth.MetricSessionCreateFailed, Name: "sessionauth_session_create_failed_total", Help: "Session appends that failed."},
	{ID: sessionauth.MetricRefreshSuccess, Name: "sessionauth_refresh_success_total", Help: "Access tokens minted from a refresh session."},
	{ID: sessionauth.MetricRefreshFailure, Name: "sessionauth_refresh_failure_total", Help: "Refresh attempts rejected."},
	{ID: sessionauth.MetricRefreshExpired, Name: "sessionauth_refresh_expired_total", Help: "Refresh attempts with an expired session."},
	{ID: sessionauth.MetricRefreshRotated, Name: "sessionauth_refresh_rotated_total", Help: "Refresh sessions rotated on use."},
	{ID: sessionauth.MetricAuthenticateSuccess, Name: "sessionauth_authenticate_success_total", Help: "Access tokens accepted."},
	{ID: sessionauth.MetricAuthenticateFailure, Name: "sessionauth_authenticate_failure_total", Help: "Access tokens rejected."},
	{ID: sessionauth.MetricAuthenticateExpired, Name: "sessionauth_authenticate_expired_total", Help: "Access tokens rejected as expired."},
	{ID: sessionauth.MetricLogout, Name: "sessionauth_logout_total", Help: "Single-session logouts."},
	{ID: sessionauth.MetricLogoutAll, Name: "sessionauth_logout_all_total", Help: "Logout-all operations."},
	{ID: sessionauth.MetricAccountDeleted, Name: "sessionauth_account_deleted_total", Help: "Deleted accounts."},
	{ID: sessionauth.MetricPasswordChangeSuccess, Name: "sessionauth_password_change_success_total", Help: "Successful password changes."},
	{ID: sessionauth.MetricPasswordChangeInvalidOld, Name: "sessionauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: sessionauth.MetricPasswordResetRequest, Name: "sessionauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: sessionauth.MetricPasswordResetConfirmSuccess, Name: "sessionauth_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: sessionauth.MetricPasswordResetConfirmFailure, Name: "sessionauth_password_reset_confirm_failure_total", Help: "Rejected password reset confirmations."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessionauth.MetricAuthenticateLatency, Name: "sessionauth_authenticate_latency_seconds", Help: "Access-token authentication latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "sessionauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
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

// NormalizeBuckets copies raw into a fixed-width array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// ApproximateSum estimates the histogram sum in seconds from bucket counts,
// using each bucket's upper bound. Samples in the +Inf bucket count at the
// largest finite bound.
func ApproximateSum(raw [8]uint64) float64 {
	var sum float64
	for i, n := range raw {
		bound := HistogramUpperBounds[len(HistogramUpperBounds)-1]
		if i < len(HistogramUpperBounds) {
			bound = HistogramUpperBounds[i]
		}
		sum += float64(n) * bound
	}
	return sum
}
