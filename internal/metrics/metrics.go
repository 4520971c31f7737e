// Package metrics provides Prometheus metrics for the ads uploader.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the uploader.
type Metrics struct {
	registry *prometheus.Registry

	// Invocation metrics
	UploadsTotal    *prometheus.CounterVec
	UploadDuration  *prometheus.HistogramVec
	RecordsReceived *prometheus.CounterVec

	// Batch metrics
	BatchesTotal      *prometheus.CounterVec
	BatchSendDuration *prometheus.HistogramVec
	RecordsSent       *prometheus.CounterVec
	BatchesArchived   *prometheus.CounterVec
	ArchiveErrors     *prometheus.CounterVec

	// Governor metrics
	InFlightBatches prometheus.Gauge
	AdmissionWait   prometheus.Histogram

	// Transport metrics
	APIRequests   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec

	// Trigger metrics
	MessagesReceived *prometheus.CounterVec
	SourceFetches    *prometheus.CounterVec
	HistoryErrors    prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var (
	defaultMu      sync.RWMutex
	defaultMetrics *Metrics
)

// Init builds the metric set on a fresh registry and installs it as the
// global instance. Calling it again replaces the previous instance.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ads_uploader"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		UploadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Total number of upload invocations by outcome",
			},
			[]string{"upload_type", "result"},
		),
		UploadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Wall time of a whole upload invocation",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~30min
			},
			[]string{"upload_type"},
		),
		RecordsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_received_total",
				Help:      "Total number of records resolved from inbound messages",
			},
			[]string{"upload_type"},
		),
		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of batches sent by outcome",
			},
			[]string{"upload_type", "status"},
		),
		BatchSendDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_send_duration_seconds",
				Help:      "Time to send a single batch",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"upload_type"},
		),
		RecordsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_sent_total",
				Help:      "Total number of records in successfully sent batches",
			},
			[]string{"upload_type"},
		),
		BatchesArchived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_archived_total",
				Help:      "Total number of failed batches written to the archive",
			},
			[]string{"upload_type"},
		),
		ArchiveErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_errors_total",
				Help:      "Total number of failed archive writes",
			},
			[]string{"upload_type"},
		),
		InFlightBatches: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_batches",
				Help:      "Number of batch sends currently running",
			},
		),
		AdmissionWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_wait_seconds",
				Help:      "Time a batch waited for a concurrency slot and rate token",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
		),
		APIRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of Ads API requests by method and status code",
			},
			[]string{"method", "code"},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		MessagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of Pub/Sub messages handled",
			},
			[]string{"upload_type", "status"},
		),
		SourceFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetches_total",
				Help:      "Total number of remote object fetches by outcome",
			},
			[]string{"status"},
		),
		HistoryErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_errors_total",
				Help:      "Total number of failed history writes",
			},
		),
	}

	defaultMu.Lock()
	defaultMetrics = m
	defaultMu.Unlock()
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultMetrics
}

// Handler returns the scrape handler for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NewServer builds the HTTP server for Prometheus scraping.
func (m *Metrics) NewServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: address, Handler: mux}
}

// Labels is a convenience type for metric labels.
type Labels struct {
	UploadType string
	Status     string
	Operation  string
}

// IncUploads counts one finished invocation.
func (m *Metrics) IncUploads(l Labels) {
	m.UploadsTotal.WithLabelValues(l.UploadType, l.Status).Inc()
}

// ObserveUploadDuration records the invocation wall time.
func (m *Metrics) ObserveUploadDuration(l Labels, seconds float64) {
	m.UploadDuration.WithLabelValues(l.UploadType).Observe(seconds)
}

// AddRecordsReceived adds to the resolved records counter.
func (m *Metrics) AddRecordsReceived(l Labels, count float64) {
	m.RecordsReceived.WithLabelValues(l.UploadType).Add(count)
}

// IncBatches counts one finished batch.
func (m *Metrics) IncBatches(l Labels) {
	m.BatchesTotal.WithLabelValues(l.UploadType, l.Status).Inc()
}

// ObserveBatchSendDuration records a single batch send time.
func (m *Metrics) ObserveBatchSendDuration(l Labels, seconds float64) {
	m.BatchSendDuration.WithLabelValues(l.UploadType).Observe(seconds)
}

// AddRecordsSent adds to the sent records counter.
func (m *Metrics) AddRecordsSent(l Labels, count float64) {
	m.RecordsSent.WithLabelValues(l.UploadType).Add(count)
}

// IncBatchesArchived counts one archived batch.
func (m *Metrics) IncBatchesArchived(l Labels) {
	m.BatchesArchived.WithLabelValues(l.UploadType).Inc()
}

// IncArchiveErrors counts one failed archive write.
func (m *Metrics) IncArchiveErrors(l Labels) {
	m.ArchiveErrors.WithLabelValues(l.UploadType).Inc()
}

// AddInFlight moves the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	m.InFlightBatches.Add(delta)
}

// ObserveAdmissionWait records how long a batch waited before starting.
func (m *Metrics) ObserveAdmissionWait(seconds float64) {
	m.AdmissionWait.Observe(seconds)
}

// IncAPIRequests counts one Ads API request.
func (m *Metrics) IncAPIRequests(method, code string) {
	m.APIRequests.WithLabelValues(method, code).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Operation).Inc()
}

// IncMessages counts one handled Pub/Sub message.
func (m *Metrics) IncMessages(l Labels) {
	m.MessagesReceived.WithLabelValues(l.UploadType, l.Status).Inc()
}

// IncSourceFetches counts one remote object fetch.
func (m *Metrics) IncSourceFetches(l Labels) {
	m.SourceFetches.WithLabelValues(l.Status).Inc()
}

// IncHistoryErrors counts one failed history write.
func (m *Metrics) IncHistoryErrors() {
	m.HistoryErrors.Inc()
}
