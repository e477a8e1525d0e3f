package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Journal metrics
	EntriesCommitted *prometheus.CounterVec
	CommitDuration   prometheus.Histogram
	JournalHeight    prometheus.Gauge
	CommitErrors     *prometheus.CounterVec

	// Intent pipeline metrics
	IntentsSubmitted  *prometheus.CounterVec
	HookBlocks        *prometheus.CounterVec
	HookFlags         *prometheus.CounterVec
	RiskRejections    *prometheus.CounterVec
	CompensatingLocks prometheus.Counter

	// Compliance metrics
	AmlDecisions       *prometheus.CounterVec
	ComplianceHeight   prometheus.Gauge
	ExternalCheckFails *prometheus.CounterVec

	// Approval metrics
	ApprovalsCreated   *prometheus.CounterVec
	ApprovalsResolved  *prometheus.CounterVec
	ApprovalSignatures *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Outbox metrics
	EventsPublished *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		// Journal metrics
		EntriesCommitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_entries_committed_total",
				Help: "Total journal entries committed by intent",
			},
			[]string{"intent"},
		),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bibank_commit_duration_seconds",
			Help:    "Duration of the serialized journal commit section",
			Buckets: prometheus.DefBuckets,
		}),
		JournalHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bibank_journal_height",
			Help: "Sequence number of the last committed entry",
		}),
		CommitErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_commit_errors_total",
				Help: "Total rejected commits by error type",
			},
			[]string{"error_type"},
		),

		// Intent pipeline metrics
		IntentsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_intents_total",
				Help: "Total submitted intents by outcome",
			},
			[]string{"intent", "outcome"},
		),
		HookBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_hook_blocks_total",
				Help: "Total intents blocked by pre-validation hooks",
			},
			[]string{"hook", "code"},
		),
		HookFlags: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_hook_flags_total",
				Help: "Total entries flagged by post-commit hooks",
			},
			[]string{"hook", "severity"},
		),
		RiskRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_risk_rejections_total",
				Help: "Total intents rejected by the risk precheck",
			},
			[]string{"asset"},
		),
		CompensatingLocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bibank_compensating_locks_total",
			Help: "Total compensating fund-lock entries committed",
		}),

		// Compliance metrics
		AmlDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_aml_decisions_total",
				Help: "Total AML decisions by outcome",
			},
			[]string{"decision"},
		),
		ComplianceHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bibank_compliance_ledger_height",
			Help: "Sequence number of the last compliance record",
		}),
		ExternalCheckFails: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_external_check_failures_total",
				Help: "Total failed external compliance checks",
			},
			[]string{"service", "kind"},
		),

		// Approval metrics
		ApprovalsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_approvals_created_total",
				Help: "Total pending approvals created by kind",
			},
			[]string{"kind"},
		),
		ApprovalsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_approvals_resolved_total",
				Help: "Total approvals resolved by status",
			},
			[]string{"status"},
		),
		ApprovalSignatures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_approval_signatures_total",
				Help: "Total approval signatures by result",
			},
			[]string{"result"},
		),

		// API metrics
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bibank_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Outbox metrics
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_events_published_total",
				Help: "Total outbox events published by type and result",
			},
			[]string{"event_type", "result"},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bibank_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"ip"},
		),
	}
}
