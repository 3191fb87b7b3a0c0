// Package metrics exposes the scheduler's Prometheus collectors. The sink is
// write-only: nothing in the decision engine ever reads a metric back.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// ClustersManaged counts clusters with a managed upgrade policy.
	ClustersManaged = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetgate_clusters_managed",
		Help: "Clusters with a managed upgrade policy, per organization",
	}, []string{
		"environment",
		"organization",
	})

	// RemainingSoakDays reports how much soak a candidate version still
	// needs before it qualifies for a cluster. Zero means the soak
	// condition is satisfied.
	RemainingSoakDays = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetgate_version_remaining_soak_days",
		Help: "Soak days still required before a candidate version qualifies for a cluster",
	}, []string{
		"organization",
		"cluster",
		"version",
	})

	// ReconcileTotal counts per-organization reconcile outcomes.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_reconcile_total",
		Help: "Organization reconcile outcomes",
	}, []string{
		"organization",
		"result",
	})

	// PolicyActionsTotal counts the actions emitted by the diff engine.
	PolicyActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetgate_policy_actions_total",
		Help: "Upgrade policy actions applied against the cluster-management service",
	}, []string{
		"organization",
		"action",
		"kind",
	})
)

// Reconcile outcome label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ClustersManaged,
		RemainingSoakDays,
		ReconcileTotal,
		PolicyActionsTotal,
	)
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
