package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AttemptsStarted   prometheus.Counter
	AttemptsCompleted *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ViolationsTotal   *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	AuditAppendErrors prometheus.Counter
	SettingsCacheHits *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AttemptsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dosegate_attempts_started_total",
			Help: "Total number of verification attempts started",
		}),
		AttemptsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dosegate_attempts_completed_total",
			Help: "Total number of verification attempts reaching a terminal state",
		}, []string{"outcome", "reason"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dosegate_stage_duration_seconds",
			Help:    "Latency of stage submissions",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"stage"}),
		ViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dosegate_violations_recorded_total",
			Help: "Total violation records appended, by kind",
		}, []string{"kind"}),
		EscalationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dosegate_escalations_total",
			Help: "Total escalation events emitted, by action",
		}, []string{"action"}),
		AuditAppendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dosegate_audit_append_errors_total",
			Help: "Total audit append failures (fail-closed path)",
		}),
		SettingsCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dosegate_settings_cache_requests_total",
			Help: "Settings cache lookups, by result (hit/miss)",
		}, []string{"result"}),
	}
}
