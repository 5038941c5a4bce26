package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
)

// Storage defines the persistence interface for the sync engine. It covers
// the fixed metadata tables (object/field definitions, change log, sync log,
// sync config) and the dynamically created per-object record tables.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error
	Dialect() string

	// Object definition operations
	UpsertObjectDefinition(ctx context.Context, def *models.ObjectDefinition) error
	GetObjectDefinition(ctx context.Context, apiName string) (*models.ObjectDefinition, error)
	ListObjectDefinitions(ctx context.Context, enabledOnly bool) ([]*models.ObjectDefinition, error)
	SetObjectTableName(ctx context.Context, apiName, tableName string) error
	TouchObjectSynced(ctx context.Context, apiName string, at time.Time) error

	// Field definition operations
	UpsertFieldDefinition(ctx context.Context, field *models.FieldDefinition) error
	GetFieldDefinitions(ctx context.Context, objectAPIName string, activeOnly bool) ([]*models.FieldDefinition, error)
	DeactivateMissingFields(ctx context.Context, objectAPIName string, keep []string) ([]string, error)

	// Change log (outbox) operations
	AppendChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error
	GetChangeLog(ctx context.Context, id string) (*models.ChangeLogEntry, error)
	PendingChangeLogs(ctx context.Context, limit, maxAttempts int, now time.Time) ([]*models.ChangeLogEntry, error)
	MarkChangeLogSyncing(ctx context.Context, id string) error
	MarkChangeLogCompleted(ctx context.Context, id string, at time.Time) error
	MarkChangeLogSkipped(ctx context.Context, id, reason string) error
	RequeueChangeLog(ctx context.Context, id string, attempts int, lastError string, nextAttempt *time.Time, exhausted bool) error

	// Sync log operations
	SaveSyncLog(ctx context.Context, entry *models.SyncLogEntry) error
	QuerySyncLogs(ctx context.Context, filter *models.SyncLogFilter) ([]*models.SyncLogEntry, error)
	SyncLogStats(ctx context.Context, window time.Duration) (*models.SyncStatistics, error)
	DeleteSyncLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Sync config document
	LoadSyncConfig(ctx context.Context) (*models.SyncConfig, error)
	SaveSyncConfig(ctx context.Context, cfg *models.SyncConfig) error

	// Record table operations (dynamic, one table per synchronized object)
	TableExists(ctx context.Context, table string) (bool, error)
	TableColumns(ctx context.Context, table string) ([]string, error)
	ExecDDL(ctx context.Context, objectAPIName, statement string) error
	UpsertRecord(ctx context.Context, table, crmID string, columns map[string]interface{}, modifiedAt time.Time) error
	GetRecordMeta(ctx context.Context, table, crmID string) (*RecordMeta, error)
	GetRecordValues(ctx context.Context, table, crmID string, columns []string) (map[string]interface{}, error)
	UpdateRecordCRMID(ctx context.Context, table, oldID, newID string) error
	SoftDeleteRecord(ctx context.Context, table, crmID string) error
	CountRecords(ctx context.Context, table string) (int64, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	GetHealth() *StorageHealth
}

// RecordMeta carries the bookkeeping columns of one stored record
type RecordMeta struct {
	CRMID      string     `json:"crm_id"`
	ModifiedAt *time.Time `json:"crm_modified_at,omitempty"`
	Deleted    bool       `json:"is_deleted"`
}

// DDLAuditEntry records one attempted DDL statement for forensic replay
type DDLAuditEntry struct {
	ID            int64     `json:"id" db:"id"`
	ObjectAPIName string    `json:"object_api_name" db:"object_api_name"`
	Statement     string    `json:"statement" db:"statement"`
	Success       bool      `json:"success" db:"success"`
	Error         string    `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalObjects     int64 `json:"total_objects"`
	EnabledObjects   int64 `json:"enabled_objects"`
	TotalFields      int64 `json:"total_fields"`
	ActiveFields     int64 `json:"active_fields"`
	PendingChanges   int64 `json:"pending_changes"`
	FailedChanges    int64 `json:"failed_changes"`
	CompletedChanges int64 `json:"completed_changes"`
	SyncLogEntries   int64 `json:"sync_log_entries"`
}

// StorageHealth provides health information for the storage backend
type StorageHealth struct {
	StorageType string            `json:"storage_type"`
	Healthy     bool              `json:"healthy"`
	Details     map[string]string `json:"details,omitempty"`
	LastPing    time.Time         `json:"last_ping"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
