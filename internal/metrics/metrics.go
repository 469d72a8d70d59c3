package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes.
const (
	IngestEnqueued   = "enqueued"
	IngestNoRoute    = "no_route"
	IngestParseError = "parse_error"
	IngestStoreError = "store_error"
)

// Delivery outcomes, named after the resulting queue status.
const (
	DeliveryDelivered       = "delivered"
	DeliveryRetry           = "retry"
	DeliveryFailedPermanent = "failed_permanent"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Ingested         *prometheus.CounterVec
	Enqueued         prometheus.Counter
	Claimed          prometheus.Counter
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	Recovered        prometheus.Counter
	CycleErrors      prometheus.Counter
	MailboxFetched   prometheus.Counter
}

// New creates the application metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_hook_ingested_total",
			Help: "Bounce emails ingested, by outcome",
		}, []string{"outcome"}),
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_hook_enqueued_total",
			Help: "Webhook deliveries added to the queue",
		}),
		Claimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_hook_claimed_total",
			Help: "Queue items claimed by this worker",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "email_hook_deliveries_total",
			Help: "Webhook delivery attempts, by resulting state",
		}, []string{"outcome"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "email_hook_delivery_duration_seconds",
			Help:    "Time spent on a single webhook request",
			Buckets: prometheus.DefBuckets,
		}),
		Recovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_hook_recovered_total",
			Help: "Stale deliveries returned to pending by the recovery sweep",
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_hook_cycle_errors_total",
			Help: "Worker cycles aborted by a store error",
		}),
		MailboxFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "email_hook_mailbox_fetched_total",
			Help: "Messages fetched from the IMAP mailbox",
		}),
	}
}

// NewRegistry returns a registry with the Go runtime, process and, when db
// is not nil, connection pool collectors.
func NewRegistry(db *sql.DB) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		reg.MustRegister(collectors.NewDBStatsCollector(db, "email_hook"))
	}
	return reg
}
