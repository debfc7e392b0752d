// Package metrics exposes Prometheus instrumentation for the sync
// service, following the teacher's promauto-based registration idiom
// (internal/metrics/metrics.go) but sized to what push/pull/ghost-GC
// actually need to report instead of the teacher's websocket connection
// and NATS reconnect counters, which have no analogue in this domain.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	pushRequests   prometheus.Counter
	pushEnvelopes  *prometheus.CounterVec
	pullRequests   prometheus.Counter
	pullRecordsOut prometheus.Counter

	pushDuration prometheus.Histogram
	pullDuration prometheus.Histogram

	outboundBytesTotal prometheus.Counter

	attachmentsStaged    prometheus.Counter
	attachmentsCommitted prometheus.Counter

	ghostGCDeletedAttachments prometheus.Counter
	ghostGCDeletedBytes       prometheus.Counter
	stagedSweepDeleted        prometheus.Counter

	quotaRejections *prometheus.CounterVec

	startTime time.Time
}

// New registers and returns the service's metric set. Call once per
// process; promauto panics on a duplicate registration, same as the
// teacher's NewMetrics.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		pushRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_push_requests_total",
			Help: "Total number of sync push requests handled",
		}),
		pushEnvelopes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_push_envelopes_total",
			Help: "Total number of push envelopes processed, labeled by outcome",
		}, []string{"reason"}),
		pullRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_pull_requests_total",
			Help: "Total number of sync pull requests handled",
		}),
		pullRecordsOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_pull_records_returned_total",
			Help: "Total number of records returned across all pull pages",
		}),

		pushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "todosync_push_duration_seconds",
			Help:    "Latency of push transactions",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		pullDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "todosync_pull_duration_seconds",
			Help:    "Latency of pull queries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		outboundBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_outbound_bytes_total",
			Help: "Total bytes accounted against users' monthly outbound quota",
		}),

		attachmentsStaged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_attachments_staged_total",
			Help: "Total number of attachment chunks/metadata written to staging",
		}),
		attachmentsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_attachments_committed_total",
			Help: "Total number of staged attachments promoted to committed records",
		}),

		ghostGCDeletedAttachments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_ghost_gc_deleted_attachments_total",
			Help: "Total number of orphaned attachments removed by ghost GC",
		}),
		ghostGCDeletedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_ghost_gc_deleted_bytes_total",
			Help: "Total stored_b64 bytes reclaimed by ghost GC",
		}),
		stagedSweepDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "todosync_staged_sweep_deleted_total",
			Help: "Total number of expired staged_records rows removed by the staging sweeper",
		}),

		quotaRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_quota_rejections_total",
			Help: "Total number of envelopes or pulls rejected for quota reasons, labeled by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ObservePush(d time.Duration) {
	m.pushRequests.Inc()
	m.pushDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePull(d time.Duration, recordsReturned int) {
	m.pullRequests.Inc()
	m.pullDuration.Observe(d.Seconds())
	m.pullRecordsOut.Add(float64(recordsReturned))
}

func (m *Metrics) RecordEnvelopeOutcome(reason string) {
	m.pushEnvelopes.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordQuotaRejection(reason string) {
	m.quotaRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddOutboundBytes(n int64) {
	if n > 0 {
		m.outboundBytesTotal.Add(float64(n))
	}
}

func (m *Metrics) RecordAttachmentStaged() {
	m.attachmentsStaged.Inc()
}

func (m *Metrics) RecordAttachmentCommitted() {
	m.attachmentsCommitted.Inc()
}

func (m *Metrics) RecordGhostGCRun(deletedAttachments int64, reclaimedBytes int64) {
	if deletedAttachments > 0 {
		m.ghostGCDeletedAttachments.Add(float64(deletedAttachments))
	}
	if reclaimedBytes > 0 {
		m.ghostGCDeletedBytes.Add(float64(reclaimedBytes))
	}
}

func (m *Metrics) RecordStagedSweepDeleted(n int64) {
	if n > 0 {
		m.stagedSweepDeleted.Add(float64(n))
	}
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
