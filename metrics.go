package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginLocked
	MetricLockoutTriggered
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricVerifySuccess
	MetricVerifyFailure
	MetricTokenRevoked
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorReplay
	MetricTwoFactorEnabled
	MetricTwoFactorDisabled
	MetricBackupCodeUsed
	MetricPasswordChanged
	MetricPasswordReuseRejected
	MetricPasswordResetRequested
	MetricPasswordResetCompleted
	MetricPasswordResetFailed
	MetricPasswordUpgraded
	MetricAuthorizeAllowed
	MetricAuthorizeDenied
	MetricAuthorizeTimeout
	MetricPermissionCacheHit
	MetricPermissionCacheMiss
	// MetricValidateLatency and MetricAuthorizeLatency are the only IDs
	// with histograms.
	MetricValidateLatency
	MetricAuthorizeLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:           "login_success_total",
	MetricLoginFailure:           "login_failure_total",
	MetricLoginRateLimited:       "login_rate_limited_total",
	MetricLoginLocked:            "login_locked_total",
	MetricLockoutTriggered:       "lockout_triggered_total",
	MetricRegisterSuccess:        "register_success_total",
	MetricRegisterDuplicate:      "register_duplicate_total",
	MetricRefreshSuccess:         "refresh_success_total",
	MetricRefreshFailure:         "refresh_failure_total",
	MetricRefreshReuseDetected:   "refresh_reuse_detected_total",
	MetricVerifySuccess:          "verify_success_total",
	MetricVerifyFailure:          "verify_failure_total",
	MetricTokenRevoked:           "token_revoked_total",
	MetricSessionCreated:         "session_created_total",
	MetricSessionInvalidated:     "session_invalidated_total",
	MetricLogout:                 "logout_total",
	MetricLogoutAll:              "logout_all_total",
	MetricTwoFactorRequired:      "two_factor_required_total",
	MetricTwoFactorSuccess:       "two_factor_success_total",
	MetricTwoFactorFailure:       "two_factor_failure_total",
	MetricTwoFactorReplay:        "two_factor_replay_total",
	MetricTwoFactorEnabled:       "two_factor_enabled_total",
	MetricTwoFactorDisabled:      "two_factor_disabled_total",
	MetricBackupCodeUsed:         "backup_code_used_total",
	MetricPasswordChanged:        "password_changed_total",
	MetricPasswordReuseRejected:  "password_reuse_rejected_total",
	MetricPasswordResetRequested: "password_reset_requested_total",
	MetricPasswordResetCompleted: "password_reset_completed_total",
	MetricPasswordResetFailed:    "password_reset_failed_total",
	MetricPasswordUpgraded:       "password_upgraded_total",
	MetricAuthorizeAllowed:       "authorize_allowed_total",
	MetricAuthorizeDenied:        "authorize_denied_total",
	MetricAuthorizeTimeout:       "authorize_timeout_total",
	MetricPermissionCacheHit:     "permission_cache_hit_total",
	MetricPermissionCacheMiss:    "permission_cache_miss_total",
	MetricValidateLatency:        "validate_latency",
	MetricAuthorizeLatency:       "authorize_latency",
}

// String returns the exporter name of the metric without a namespace.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDCount is the number of defined metrics. Exporters iterate
// [0, MetricIDCount).
const MetricIDCount = int(metricIDCount)

// IsHistogram reports whether id carries latency buckets.
func (id MetricID) IsHistogram() bool {
	return id == MetricValidateLatency || id == MetricAuthorizeLatency
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds of the latency buckets.
// The last bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a lock-free set of counters and latency histograms. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Non-histogram IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !id.IsHistogram() {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and, when enabled, both histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 2),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id.IsHistogram() {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range []MetricID{MetricValidateLatency, MetricAuthorizeLatency} {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
