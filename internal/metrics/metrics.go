package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks progression outcomes and store health.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	DailyBonuses      prometheus.Counter
	LevelUps          prometheus.Counter
	Recharges         *prometheus.CounterVec
	Verifications     prometheus.Counter
	WriteFailures     *prometheus.CounterVec
	BadgeCacheLookups *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
}

// New registers the progression metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DailyBonuses: factory.NewCounter(prometheus.CounterOpts{
			Name: "progress_daily_bonuses_total",
			Help: "Total number of daily login bonuses granted",
		}),
		LevelUps: factory.NewCounter(prometheus.CounterOpts{
			Name: "progress_level_ups_total",
			Help: "Total number of levels gained by members",
		}),
		Recharges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_recharges_total",
			Help: "Manual recharge attempts by outcome",
		}, []string{"outcome"}),
		Verifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "progress_submissions_verified_total",
			Help: "Total number of submissions verified",
		}),
		WriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_profile_write_failures_total",
			Help: "Profile writes that failed and were served unpersisted",
		}, []string{"operation"}),
		BadgeCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_badge_cache_lookups_total",
			Help: "Badge cache lookups by result",
		}, []string{"result"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "progress_session_start_duration_seconds",
			Help:    "Duration of session start processing",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncDailyBonus records a granted daily bonus
func (m *Metrics) IncDailyBonus() {
	if m == nil {
		return
	}
	m.DailyBonuses.Inc()
}

// AddLevelUps records levels gained in one resolution
func (m *Metrics) AddLevelUps(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LevelUps.Add(float64(n))
}

// IncRecharge records a recharge attempt; outcome is "allowed" or the deny reason
func (m *Metrics) IncRecharge(outcome string) {
	if m == nil {
		return
	}
	m.Recharges.WithLabelValues(outcome).Inc()
}

// IncVerification records a verified submission
func (m *Metrics) IncVerification() {
	if m == nil {
		return
	}
	m.Verifications.Inc()
}

// IncWriteFailure records a profile write that could not be persisted
func (m *Metrics) IncWriteFailure(operation string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(operation).Inc()
}

// IncBadgeCache records a badge cache hit or miss
func (m *Metrics) IncBadgeCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.BadgeCacheLookups.WithLabelValues(result).Inc()
}

// ObserveSession records session start duration.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSession(start time.Time) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(time.Since(start).Seconds())
}
