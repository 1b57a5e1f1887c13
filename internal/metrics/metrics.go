package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsio_webhook_events_received_total",
		Help: "Inbound gateway webhook deliveries, by outcome.",
	}, []string{"outcome"})

	LedgerEntriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsio_ledger_entries_created_total",
		Help: "Ledger entries written, by entry type.",
	}, []string{"entry_type"})

	DepositsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "previsio_deposits_confirmed_total",
		Help: "Payment intents moved to approved with a ledger credit.",
	})

	ReceiptsProjected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "previsio_receipts_projected_total",
		Help: "Receipts created by the projection backfills, by type.",
	}, []string{"type"})

	WebhookProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "previsio_webhook_processing_duration_seconds",
		Help:    "End to end webhook processing latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
