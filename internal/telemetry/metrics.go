package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Evaluations      = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_evaluations_total", Help: "Rule evaluations attempted"})
	Firings          = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_firings_total", Help: "Evaluations whose conditions matched"})
	EvaluationErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_evaluation_errors_total", Help: "Evaluations that failed"})
	ActionFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_action_failures_total", Help: "Individual actions that failed during firings"})
	AutoDisabled     = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_rules_auto_disabled_total", Help: "Rules moved to error status by the failure threshold"})
	PlatformRetries  = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_platform_retries_total", Help: "Retry attempts against the advertising platform"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_rate_limit_rejects_total", Help: "Outbound calls held back by the per-account limiter"})
	RecordsArchived  = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_records_archived_total", Help: "Execution records exported to object storage"})
	EngineRunning    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "automation_engine_running", Help: "1 while the scheduler loop is running"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "automation_evaluations_inflight", Help: "Rule evaluations currently in flight"})
	DueRulesGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "automation_rules_due", Help: "Rules due at the last tick"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Evaluations,
			Firings,
			EvaluationErrors,
			ActionFailures,
			AutoDisabled,
			PlatformRetries,
			RateLimitRejects,
			RecordsArchived,
			EngineRunning,
			InFlightGauge,
			DueRulesGauge,
		)
	})
	return promhttp.Handler()
}
