// Package metrics holds the prometheus collectors for the check-in
// path. Everything is registered on the default registry and served
// by the /metrics endpoint in cmd/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckinsTotal counts completed check-ins by outcome.
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_requests_total",
		Help: "Check-in requests by outcome.",
	}, []string{"outcome"})

	// OccurrenceConflicts counts get-or-create races lost to a
	// concurrent writer. A steady nonzero rate is normal on busy
	// mornings.
	OccurrenceConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_occurrence_conflicts_total",
		Help: "Occurrence inserts that lost the create race.",
	})

	// CodeAttempts observes how many draws each security code took.
	// A drifting mean means the code space is filling up.
	CodeAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkin_code_generation_attempts",
		Help:    "Draws needed per security code.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	// CodeExhaustions counts generation calls that ran out of
	// attempts. Any nonzero value is a capacity signal.
	CodeExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_code_exhaustions_total",
		Help: "Security code generations that exhausted all attempts.",
	})

	// BatchLoadQueries counts store round-trips per batch load; the
	// loader's contract is that this stays constant as batch size
	// grows.
	BatchLoadQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_batch_load_queries_total",
		Help: "Store round-trips issued by the person batch loader.",
	})

	// SearchDuration observes code-search latency for both hit and
	// miss so the two distributions can be compared.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkin_code_search_seconds",
		Help:    "Security code search duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)
