package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Prometheus metrics for enrichment runs, served by the status server.
var (
	recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_enrich",
		Name:      "records_processed_total",
		Help:      "Records processed, by outcome status.",
	}, []string{"status"})

	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "listing_enrich",
		Name:      "provider_calls_total",
		Help:      "External provider calls, including retries.",
	}, []string{"provider"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "listing_enrich",
		Name:      "batch_duration_seconds",
		Help:      "Wall time to complete one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "listing_enrich",
		Name:      "lookup_duration_seconds",
		Help:      "Per-record lookup latency.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	runProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "listing_enrich",
		Name:      "run_records",
		Help:      "Current run record counts.",
	}, []string{"kind"})

	runThroughput = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "listing_enrich",
		Name:      "run_throughput_records_per_second",
		Help:      "Records per second for the current run.",
	})
)

func observeResults(results []model.ProcessedResult) {
	for _, r := range results {
		recordsProcessed.WithLabelValues(string(r.Status)).Inc()
		lookupDuration.Observe(float64(r.DurationMS) / 1000)
		for p, n := range r.Calls {
			providerCalls.WithLabelValues(p).Add(float64(n))
		}
	}
}

func observeStats(s model.Stats) {
	runProgress.WithLabelValues("total").Set(float64(s.Total))
	runProgress.WithLabelValues("processed").Set(float64(s.Processed))
	runProgress.WithLabelValues("succeeded").Set(float64(s.Succeeded))
	runProgress.WithLabelValues("failed").Set(float64(s.Failed))
	runProgress.WithLabelValues("cache_hits").Set(float64(s.CacheHits))
	runThroughput.Set(s.Throughput)
}
