// Package metrics defines the Prometheus counters exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "splitchat"

var (
	// CommandsTotal counts chat commands by outcome:
	// "assign", "chat", "none", "error" or "stale".
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Chat commands handled, by outcome.",
		},
		[]string{"outcome"},
	)

	// AIRequestsTotal counts calls to the generative model.
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "Generative model calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// AIRetriesTotal counts retries: "rate_limit" waits and "model_fallback" switches.
	AIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_retries_total",
			Help:      "Generative model retries by reason.",
		},
		[]string{"reason"},
	)

	ReceiptScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_scans_total",
			Help:      "Receipt scans by result.",
		},
		[]string{"result"},
	)

	// StaleResultsTotal counts async results dropped because the bill was
	// reset or reloaded while they were in flight.
	StaleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Async results discarded after the bill changed generation.",
		},
		[]string{"kind"},
	)
)
