// Package metrics exposes the gateway's Prometheus collectors. Registration
// happens at import time via promauto against the default registry, which
// /metrics serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_admission_decisions_total",
			Help: "Admission decisions by model and result",
		},
		[]string{"model", "result"},
	)

	Denials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_denials_total",
			Help: "Admission denials by model and limit type",
		},
		[]string{"model", "limit_type"},
	)

	TokensCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_tokens_committed_total",
			Help: "Actual tokens committed to usage windows by model",
		},
		[]string{"model"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_upstream_requests_total",
			Help: "Forwarded backend requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	ActiveUsageKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokengate_active_usage_keys",
			Help: "Usage counter keys currently live in the store",
		},
	)
)
