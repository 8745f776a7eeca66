package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tempest"

// Control-plane and worker metrics, registered on the default registry.
var (
	TriggersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_created_total",
		Help:      "Total number of triggers created",
	})

	TriggersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_dispatched_total",
		Help:      "Total number of triggers created by the recipe dispatcher",
	}, []string{"recipe"})

	PendingTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "triggers_pending",
		Help:      "Pending triggers visible to the last executor poll",
	})

	TriggersClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_claimed_total",
		Help:      "Total number of trigger claims won",
	})

	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_claim_conflicts_total",
		Help:      "Total number of trigger claims lost to another worker",
	})

	TriggersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_completed_total",
		Help:      "Total number of triggers reaching a terminal state",
	}, []string{"status"})

	TriggersRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_recovered_total",
		Help:      "Total number of stale triggers returned to pending",
	})

	ExecutorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_errors_total",
		Help:      "Total number of failures absorbed by executor loops",
	}, []string{"worker"})

	TriggerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trigger_duration_seconds",
		Help:      "Duration of trigger execution in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)

// ServeMetrics starts the metrics HTTP endpoint if enabled. The server
// runs until it fails; callers normally run it in a goroutine.
func ServeMetrics(cfg MetricsConfig) error {
	if !cfg.Enabled {
		return nil
	}

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
