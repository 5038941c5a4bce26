package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the sync engine
var (
	// Sync operation metrics
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_operations_total",
			Help: "Total number of sync operations by direction, object and outcome",
		},
		[]string{"direction", "object", "status"},
	)

	SyncOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_sync_operation_duration_seconds",
			Help:    "Sync operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction", "object"},
	)

	// Outbox metrics
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_sync_outbox_depth",
			Help: "Number of change log entries awaiting propagation",
		},
	)

	OutboxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_sync_outbox_retries_total",
			Help: "Total number of change log entries requeued after a failed attempt",
		},
	)

	OutboxExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_sync_outbox_exhausted_total",
			Help: "Total number of change log entries that hit the retry cap",
		},
	)

	// Schema metrics
	DDLStatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_ddl_statements_total",
			Help: "Total number of DDL statements executed against record tables",
		},
		[]string{"object", "status"},
	)

	UnsupportedSchemaChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_unsupported_schema_changes_total",
			Help: "Total number of vendor schema changes skipped as unsupported",
		},
		[]string{"object", "change_type"},
	)

	// CRM client metrics
	CRMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_crm_requests_total",
			Help: "Total number of CRM API requests",
		},
		[]string{"method", "status"},
	)

	CRMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_sync_crm_request_duration_seconds",
			Help:    "CRM API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP server metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_sync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Storage metrics
	RecordsStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_sync_records_stored",
			Help: "Number of live records stored per object table",
		},
		[]string{"object"},
	)

	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_sync_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	// Component health (1 = healthy, 0 = unhealthy)
	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_sync_component_health",
			Help: "Component health status",
		},
		[]string{"component"},
	)

	// Service info
	ServiceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_sync_service_info",
			Help: "Service information",
		},
		[]string{"version", "storage_type"},
	)
)
