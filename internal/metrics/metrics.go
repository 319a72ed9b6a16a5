// Package metrics provides Prometheus metrics for the pipeline engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the server.
type Metrics struct {
	ProcessedTotal       *prometheus.CounterVec // chain, outcome
	RetryAttemptsTotal   prometheus.Counter
	DeadLetteredTotal    *prometheus.CounterVec // ingress
	StorageSavesTotal    *prometheus.CounterVec // storage, status
	FollowerFetchedTotal *prometheus.CounterVec // target
	QueueDepth           *prometheus.GaugeVec   // queue
}

// New creates and registers all collectors on the given registerer. Tests
// pass a private registry; main passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcon_chain_processed_total",
				Help: "Chain executions by final outcome",
			},
			[]string{"chain", "outcome"},
		),
		RetryAttemptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vcon_retry_attempts_total",
				Help: "Chain execution retry attempts",
			},
		),
		DeadLetteredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcon_dead_lettered_total",
				Help: "Records routed to a dead-letter queue",
			},
			[]string{"ingress"},
		),
		StorageSavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcon_storage_saves_total",
				Help: "Storage dispatch results",
			},
			[]string{"storage", "status"},
		),
		FollowerFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcon_follower_fetched_total",
				Help: "Records replicated from remote peers",
			},
			[]string{"target"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vcon_queue_depth",
				Help: "Current number of items per queue",
			},
			[]string{"queue"},
		),
	}
}
