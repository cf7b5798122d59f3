package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for sync runs
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Deal metrics
	DealsTotal   *prometheus.CounterVec
	DealDuration prometheus.Histogram

	// Ticket metrics
	TicketOperationsTotal *prometheus.CounterVec

	// CRM metrics
	CRMRetriesTotal *prometheus.CounterVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on the given registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_runs_total",
				Help: "Total number of batch sync runs",
			},
			[]string{"mode", "status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billsync_run_duration_seconds",
				Help:    "Batch sync run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		DealsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_deals_total",
				Help: "Total number of deals processed",
			},
			[]string{"status"},
		),
		DealDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billsync_deal_duration_seconds",
				Help:    "Per deal sync duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		TicketOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_ticket_operations_total",
				Help: "Total number of ticket operations by reconciler",
			},
			[]string{"reconciler", "operation", "dry_run"},
		),
		CRMRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_crm_retries_total",
				Help: "Total number of retried CRM calls",
			},
			[]string{"operation"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_webhook_events_total",
				Help: "Total number of received webhook events",
			},
			[]string{"subscription", "handled"},
		),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.DealsTotal,
		m.DealDuration,
		m.TicketOperationsTotal,
		m.CRMRetriesTotal,
		m.WebhookEventsTotal,
	)

	return m
}

// New creates metrics on a fresh registry
func New() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Handler returns the scrape handler for the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun records a finished batch run
func (m *Metrics) RecordRun(mode string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, status(failed)).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// RecordDeal records one deal outcome
func (m *Metrics) RecordDeal(failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.DealsTotal.WithLabelValues(status(failed)).Inc()
	m.DealDuration.Observe(duration.Seconds())
}

// RecordTicketOps adds count operations of the given kind
func (m *Metrics) RecordTicketOps(reconciler, operation string, dryRun bool, count int) {
	if m == nil || count <= 0 {
		return
	}
	dry := "false"
	if dryRun {
		dry = "true"
	}
	m.TicketOperationsTotal.WithLabelValues(reconciler, operation, dry).Add(float64(count))
}

func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.CRMRetriesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordWebhookEvent(subscription string, handled bool) {
	if m == nil {
		return
	}
	h := "false"
	if handled {
		h = "true"
	}
	m.WebhookEventsTotal.WithLabelValues(subscription, h).Inc()
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}
