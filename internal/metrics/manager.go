package metrics

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Manager handles metrics collection and updates. All record methods are
// no-ops when metrics are disabled, so callers never need to guard.
type Manager struct {
	logger  *logrus.Logger
	enabled bool
}

// NewManager creates a new metrics manager
func NewManager(enabled bool) *Manager {
	return &Manager{
		logger:  utils.GetLogger(),
		enabled: enabled,
	}
}

// IsEnabled returns whether metrics collection is enabled
func (m *Manager) IsEnabled() bool {
	return m.enabled
}

// RecordSyncOperation records the outcome of one sync operation
func (m *Manager) RecordSyncOperation(direction, object, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	SyncOperationsTotal.WithLabelValues(direction, object, status).Inc()
	SyncOperationDuration.WithLabelValues(direction, object).Observe(duration.Seconds())
}

// SetOutboxDepth updates the pending change log gauge
func (m *Manager) SetOutboxDepth(depth int64) {
	if !m.enabled {
		return
	}
	OutboxDepth.Set(float64(depth))
}

// RecordOutboxRetry records a requeued change log entry
func (m *Manager) RecordOutboxRetry() {
	if !m.enabled {
		return
	}
	OutboxRetriesTotal.Inc()
}

// RecordOutboxExhausted records a change log entry that hit the retry cap
func (m *Manager) RecordOutboxExhausted() {
	if !m.enabled {
		return
	}
	OutboxExhaustedTotal.Inc()
}

// RecordDDL records one executed DDL statement
func (m *Manager) RecordDDL(object string, success bool) {
	if !m.enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	DDLStatementsTotal.WithLabelValues(object, status).Inc()
}

// RecordUnsupportedSchemaChange records a skipped vendor schema change
func (m *Manager) RecordUnsupportedSchemaChange(object, changeType string) {
	if !m.enabled {
		return
	}
	UnsupportedSchemaChangesTotal.WithLabelValues(object, changeType).Inc()
}

// RecordCRMRequest records one CRM API call
func (m *Manager) RecordCRMRequest(method, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	CRMRequestsTotal.WithLabelValues(method, status).Inc()
	CRMRequestDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request to the local API
func (m *Manager) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// SetRecordsStored updates the per-object record count gauge
func (m *Manager) SetRecordsStored(object string, count int64) {
	if !m.enabled {
		return
	}
	RecordsStored.WithLabelValues(object).Set(float64(count))
}

// RecordDatabaseOperation records a database operation
func (m *Manager) RecordDatabaseOperation(operation string, success bool) {
	if !m.enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
}

// SetComponentHealth updates component health status
func (m *Manager) SetComponentHealth(component string, healthy bool) {
	if !m.enabled {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	ComponentHealth.WithLabelValues(component).Set(value)
}

// SetServiceInfo sets service information metric
func (m *Manager) SetServiceInfo(version, storageType string) {
	if !m.enabled {
		return
	}
	ServiceInfo.WithLabelValues(version, storageType).Set(1)
}
