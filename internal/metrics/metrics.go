package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hooksAddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "targethook_hooks_added_total",
			Help: "Total number of AddHook calls that stored a hook",
		},
	)

	modesEnteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targethook_modes_entered_total",
			Help: "Total number of times an owner was placed into capture mode",
		},
		[]string{"behavior", "status"},
	)

	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targethook_selections_total",
			Help: "Selection events handled, by behavior and outcome",
		},
		[]string{"behavior", "outcome"},
	)

	hooksTerminatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targethook_hooks_terminated_total",
			Help: "Hooks deleted, by reason",
		},
		[]string{"reason"},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "targethook_callbacks_total",
			Help: "Completion callbacks dispatched to the host, by status",
		},
		[]string{"status"},
	)

	callbackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "targethook_callback_duration_seconds",
			Help:    "Time spent in host callback dispatch",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	activeHooks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "targethook_active_hooks",
			Help: "Number of stored hooks",
		},
	)

	unlimitedHooks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "targethook_unlimited_hooks",
			Help: "Number of stored hooks with unlimited uses",
		},
	)

	storedTargets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "targethook_stored_targets",
			Help: "Number of captured selections",
		},
	)

	activeModes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "targethook_active_modes",
			Help: "Number of owners with a capture-mode marker",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "targethook_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "targethook_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHookAdded() {
	hooksAddedTotal.Inc()
}

func RecordModeEntered(behavior, status string) {
	modesEnteredTotal.WithLabelValues(behavior, status).Inc()
}

func RecordSelection(behavior, outcome string) {
	selectionsTotal.WithLabelValues(behavior, outcome).Inc()
}

func RecordTermination(reason string) {
	hooksTerminatedTotal.WithLabelValues(reason).Inc()
}

func RecordCallback(status string, duration time.Duration) {
	callbacksTotal.WithLabelValues(status).Inc()
	callbackDuration.Observe(duration.Seconds())
}

func UpdateStoreStats(hooks, unlimited, targets, modes int) {
	activeHooks.Set(float64(hooks))
	unlimitedHooks.Set(float64(unlimited))
	storedTargets.Set(float64(targets))
	activeModes.Set(float64(modes))
}

func UpdateDBStats(open, inUse int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
}
