// Package metrics exposes the prometheus metrics for the runtime core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hass_events_fired_total",
			Help: "Total number of events fired on the event bus, by event type",
		},
		[]string{"event_type"},
	)

	EventBusLagTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hass_event_bus_lag_total",
			Help: "Total number of events dropped due to a full or disconnected subscriber channel",
		},
		[]string{"event_type"},
	)

	StateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hass_state_changes_total",
			Help: "Total number of state_changed events fired, by domain",
		},
		[]string{"domain"},
	)

	EntitiesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hass_entities_total",
			Help: "Total number of entities currently tracked in the state store",
		},
	)

	ServiceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hass_service_calls_total",
			Help: "Total number of service calls, by domain, service and result",
		},
		[]string{"domain", "service", "result"},
	)

	ServiceCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hass_service_call_duration_seconds",
			Help:    "Time taken for a service handler to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain", "service"},
	)

	ConfigEntriesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hass_config_entries",
			Help: "Number of config entries, by lifecycle state",
		},
		[]string{"state"},
	)

	ConfigEntrySetupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hass_config_entry_setup_duration_seconds",
			Help:    "Time taken for a config entry's setup_entry callback to complete",
			Buckets: prometheus.DefBuckets,
		},
	)

	AutomationsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hass_automations_running",
			Help: "Total number of currently running automation instances",
		},
	)

	AutomationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hass_automation_runs_total",
			Help: "Total number of automation runs, by automation id and result",
		},
		[]string{"automation_id", "result"},
	)

	AutomationRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hass_automation_rejected_total",
			Help: "Total number of trigger matches rejected by execution-mode admission",
		},
		[]string{"automation_id", "mode"},
	)

	ScriptActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hass_script_action_duration_seconds",
			Help:    "Time taken to execute a single script action, by action kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	AutomationsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hass_automations_loaded",
			Help: "Total number of automations currently loaded, regardless of enabled state",
		},
	)

	NotificationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hass_notifications_total",
			Help: "Total number of persistent notifications currently outstanding",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsFiredTotal)
	prometheus.MustRegister(EventBusLagTotal)
	prometheus.MustRegister(StateChangesTotal)
	prometheus.MustRegister(EntitiesTotal)
	prometheus.MustRegister(ServiceCallsTotal)
	prometheus.MustRegister(ServiceCallDuration)
	prometheus.MustRegister(ConfigEntriesByState)
	prometheus.MustRegister(ConfigEntrySetupDuration)
	prometheus.MustRegister(AutomationsRunning)
	prometheus.MustRegister(AutomationRunsTotal)
	prometheus.MustRegister(AutomationRejectedTotal)
	prometheus.MustRegister(ScriptActionDuration)
	prometheus.MustRegister(AutomationsLoaded)
	prometheus.MustRegister(NotificationsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
