package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_submitted_total", Help: "Total conversion requests accepted"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	ConversionSuccess  = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_completed_total", Help: "Conversions completed successfully"})
	ConversionFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_failed_total", Help: "Conversions that ended in failed status"})
	StorageFallbacks   = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_storage_fallbacks_total", Help: "Output writes that fell back to a secondary storage backend"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "conversions_inflight", Help: "Conversions currently processing"})
	BatchQueueDepth    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "conversions_batch_queue_depth", Help: "Batch items waiting in the ready queue"})
	ProcessingSeconds  = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversions_processing_seconds",
		Help:    "Wall-clock model invocation time per conversion",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionCounter,
			RateLimitRejects,
			ConversionSuccess,
			ConversionFailures,
			StorageFallbacks,
			InFlightGauge,
			BatchQueueDepth,
			ProcessingSeconds,
		)
	})
	return promhttp.Handler()
}
