package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the batch fetcher.
type Metrics struct {
	// Gauges (current values)
	InflightSubBatches prometheus.Gauge

	// Counters (cumulative values)
	BlocksFetchedTotal    prometheus.Counter
	BlocksSkippedTotal    prometheus.Counter
	SubBatchesTotal       *prometheus.CounterVec
	TransactionsExtracted prometheus.Counter
	RecordsSkippedTotal   prometheus.Counter
}

// NewMetrics creates and registers all fetcher metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		InflightSubBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "staking_indexer",
			Subsystem: "fetch",
			Name:      "inflight_sub_batches",
			Help:      "Current number of sub-batch fetches in flight",
		}),
		BlocksFetchedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staking_indexer",
			Subsystem: "fetch",
			Name:      "blocks_fetched_total",
			Help:      "Total number of blocks fetched",
		}),
		BlocksSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staking_indexer",
			Subsystem: "fetch",
			Name:      "blocks_skipped_total",
			Help:      "Total number of heights skipped because no block exists",
		}),
		SubBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staking_indexer",
			Subsystem: "fetch",
			Name:      "sub_batches_total",
			Help:      "Total number of sub-batches processed by outcome",
		}, []string{"outcome"}),
		TransactionsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staking_indexer",
			Subsystem: "fetch",
			Name:      "transactions_extracted_total",
			Help:      "Total number of staking transactions extracted",
		}),
		RecordsSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "staking_indexer",
			Subsystem: "fetch",
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records skipped",
		}),
	}
}
