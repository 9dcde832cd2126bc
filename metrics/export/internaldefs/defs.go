package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

// Namespace prefixes every exported series.
const Namespace = "authcore_"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var help = map[authcore.MetricID]string{
	authcore.MetricLoginSuccess:           "Successful logins.",
	authcore.MetricLoginFailure:           "Failed logins.",
	authcore.MetricLoginRateLimited:       "Logins rejected by the rate limiter.",
	authcore.MetricLoginLocked:            "Logins rejected because the account was locked.",
	authcore.MetricLockoutTriggered:       "Failures that locked an account.",
	authcore.MetricRegisterSuccess:        "Accounts created.",
	authcore.MetricRegisterDuplicate:      "Registrations rejected as duplicate.",
	authcore.MetricRefreshSuccess:         "Successful refresh rotations.",
	authcore.MetricRefreshFailure:         "Failed refresh attempts.",
	authcore.MetricRefreshReuseDetected:   "Replayed refresh tokens that revoked a session.",
	authcore.MetricVerifySuccess:          "Access tokens accepted.",
	authcore.MetricVerifyFailure:          "Access tokens rejected.",
	authcore.MetricTokenRevoked:           "Access tokens rejected as revoked.",
	authcore.MetricSessionCreated:         "Sessions created.",
	authcore.MetricSessionInvalidated:     "Sessions invalidated.",
	authcore.MetricLogout:                 "Single-session logouts.",
	authcore.MetricLogoutAll:              "Logout-all operations.",
	authcore.MetricTwoFactorRequired:      "Logins that stopped at the second factor.",
	authcore.MetricTwoFactorSuccess:       "Accepted second-factor codes.",
	authcore.MetricTwoFactorFailure:       "Rejected second-factor codes.",
	authcore.MetricTwoFactorReplay:        "TOTP codes rejected as replays.",
	authcore.MetricTwoFactorEnabled:       "Second factor enrollments confirmed.",
	authcore.MetricTwoFactorDisabled:      "Second factor enrollments removed.",
	authcore.MetricBackupCodeUsed:         "Backup codes consumed.",
	authcore.MetricPasswordChanged:        "Password changes.",
	authcore.MetricPasswordReuseRejected:  "New passwords rejected as reused.",
	authcore.MetricPasswordResetRequested: "Password reset requests.",
	authcore.MetricPasswordResetCompleted: "Completed password resets.",
	authcore.MetricPasswordResetFailed:    "Failed password reset confirmations.",
	authcore.MetricPasswordUpgraded:       "Password hashes upgraded on login.",
	authcore.MetricAuthorizeAllowed:       "Authorization checks allowed.",
	authcore.MetricAuthorizeDenied:        "Authorization checks denied.",
	authcore.MetricAuthorizeTimeout:       "Authorization checks denied on timeout or cancellation.",
	authcore.MetricPermissionCacheHit:     "Resolved masks served from the cache.",
	authcore.MetricPermissionCacheMiss:    "Resolved masks loaded from the store.",
	authcore.MetricValidateLatency:        "Access token verification latency.",
	authcore.MetricAuthorizeLatency:       "Authorization decision latency.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs, HistogramDefs = buildDefs()

func buildDefs() ([]CounterDef, []HistogramDef) {
	var counters []CounterDef
	var histograms []HistogramDef
	for i := 0; i < authcore.MetricIDCount; i++ {
		id := authcore.MetricID(i)
		if id.IsHistogram() {
			histograms = append(histograms, HistogramDef{ID: id, Name: Namespace + id.String() + "_seconds", Help: help[id]})
			continue
		}
		counters = append(counters, CounterDef{ID: id, Name: Namespace + id.String(), Help: help[id]})
	}
	return counters, histograms
}

// BucketCount is the number of buckets per histogram, +Inf included.
const BucketCount = len(authcore.HistogramBounds) + 1

// HistogramBounds are the Prometheus "le" labels in seconds.
var HistogramBounds, HistogramBoundSuffix = buildBounds()

func buildBounds() ([]string, []string) {
	bounds := make([]string, 0, BucketCount)
	suffixes := make([]string, 0, BucketCount)
	for _, d := range authcore.HistogramBounds {
		le := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
		bounds = append(bounds, le)
		suffixes = append(suffixes, strings.ReplaceAll(le, ".", "_"))
	}
	return append(bounds, "+Inf"), append(suffixes, "inf")
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// AuditDef names one series derived from the audit dispatcher stats.
type AuditDef struct {
	Name  string
	Help  string
	Gauge bool
	Value func(authcore.AuditStats) uint64
}

// AuditDefs lists the audit dispatcher series in export order.
var AuditDefs = []AuditDef{
	{
		Name:  Namespace + "audit_delivered_total",
		Help:  "Audit events handed to the sink.",
		Value: func(s authcore.AuditStats) uint64 { return s.Delivered },
	},
	{
		Name:  Namespace + "audit_dropped_total",
		Help:  "Audit events dropped under dispatcher backpressure.",
		Value: func(s authcore.AuditStats) uint64 { return s.Dropped },
	},
	{
		Name:  Namespace + "audit_failed_total",
		Help:  "Audit events whose sink panicked.",
		Value: func(s authcore.AuditStats) uint64 { return s.Failed },
	},
	{
		Name:  Namespace + "audit_pending",
		Help:  "Audit events waiting in the dispatcher queue.",
		Gauge: true,
		Value: func(s authcore.AuditStats) uint64 {
			if s.Pending < 0 {
				return 0
			}
			return uint64(s.Pending)
		},
	},
}

// AuditIdle reports whether s carries nothing worth exporting.
func AuditIdle(s authcore.AuditStats) bool {
	return s.Delivered == 0 && s.Dropped == 0 && s.Failed == 0 && s.Pending == 0
}
