// Package metrics exposes prometheus collectors for authorization,
// sharing, reconciliation and RPC traffic.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_authz_decisions_total",
			Help: "Authorization decisions by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	shareChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_share_changes_total",
			Help: "Share and hide mutations by action and target kind.",
		},
		[]string{"action", "target"},
	)

	reconcileStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datagate_reconcile_steps_total",
			Help: "Account deletion reconciliation steps by step and result.",
		},
		[]string{"step", "result"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datagate_rpc_duration_seconds",
			Help:    "Unary RPC latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)
)

var once sync.Once

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(decisionsTotal, shareChangesTotal, reconcileStepsTotal, rpcDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Decision counts one authorization outcome.
func Decision(op string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	decisionsTotal.WithLabelValues(op, outcome).Inc()
}

// ShareChange counts one share or hide mutation.
func ShareChange(action, target string) {
	shareChangesTotal.WithLabelValues(action, target).Inc()
}

// ReconcileStep counts one reconciliation step.
func ReconcileStep(step string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	reconcileStepsTotal.WithLabelValues(step, result).Inc()
}

// ObserveRPC records the latency of a finished RPC.
func ObserveRPC(method, code string, started time.Time) {
	rpcDuration.WithLabelValues(method, code).Observe(time.Since(started).Seconds())
}
