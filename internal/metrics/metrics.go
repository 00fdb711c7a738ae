package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for Prospector
type Metrics struct {
	// Message counters
	MessagesSentTotal   *prometheus.CounterVec
	MessagesFailedTotal *prometheus.CounterVec
	SendRetriesTotal    prometheus.Counter

	// Orchestrator
	LinksProcessedTotal   *prometheus.CounterVec
	LinkProcessingSeconds *prometheus.HistogramVec
	ActiveCampaigns       prometheus.Gauge
	Links                 *prometheus.GaugeVec

	// Webhook
	WebhookEventsTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_messages_sent_total",
				Help: "Total number of message parts accepted by the gateway",
			},
			[]string{"mode"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_messages_failed_total",
				Help: "Total number of message parts that exhausted their send attempts",
			},
			[]string{"mode"},
		),
		SendRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "prospector_send_retries_total",
				Help: "Total number of send attempts retried after a temporary failure",
			},
		),

		LinksProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_links_processed_total",
				Help: "Total number of orchestrator cycles by mode and resulting status",
			},
			[]string{"mode", "situacao"},
		),
		LinkProcessingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_link_processing_seconds",
				Help:    "Duration of one orchestrator cycle",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"mode"},
		),
		ActiveCampaigns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prospector_active_campaigns",
				Help: "Number of campaign loops running in this process",
			},
		),
		Links: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prospector_links",
				Help: "Number of contact links by status",
			},
			[]string{"situacao"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_webhook_events_total",
				Help: "Total number of webhook records by ingestion result",
			},
			[]string{"result"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prospector_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prospector_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prospector_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.SendRetriesTotal,
		m.LinksProcessedTotal,
		m.LinkProcessingSeconds,
		m.ActiveCampaigns,
		m.Links,
		m.WebhookEventsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
