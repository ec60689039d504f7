// Package metrics exposes Prometheus collectors for the upload
// lifecycle: transition counts, policy rejections, scan duration and
// rate-limit rejections. A scan queue depth gauge is also registered,
// but nothing in this module sets it, so it stays at 0.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors the upload coordinator, scan worker
// and HTTP rate limiter update as they run.
type Registry struct {
	TransitionsTotal  *prometheus.CounterVec
	UploadsRejected   *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	QueueDepth        prometheus.Gauge
	RateLimitRejected *prometheus.CounterVec
}

// NewRegistry builds and registers a fresh Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadsvc_file_transitions_total",
			Help: "Count of file object state transitions, labeled by from and to state.",
		}, []string{"from", "to"}),
		UploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadsvc_uploads_rejected_total",
			Help: "Count of uploads quarantined by the scan worker's policy check, labeled by policy reason code.",
		}, []string{"reason"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uploadsvc_scan_duration_seconds",
			Help:    "Wall-clock duration of a scan job attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uploadsvc_scan_queue_depth",
			Help: "Number of scan jobs currently pending in the queue.",
		}),
		RateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadsvc_rate_limit_rejected_total",
			Help: "Count of requests rejected by the rate limiter, labeled by scope.",
		}, []string{"scope"}),
	}

	reg.MustRegister(r.TransitionsTotal, r.UploadsRejected, r.ScanDuration, r.QueueDepth, r.RateLimitRejected)
	return r
}
