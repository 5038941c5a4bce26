package models

import "time"

// ChangeOperation identifies the kind of store-origin mutation
type ChangeOperation string

const (
	ChangeOpInsert ChangeOperation = "insert"
	ChangeOpUpdate ChangeOperation = "update"
	ChangeOpDelete ChangeOperation = "delete"
)

// Change log sync statuses
const (
	ChangeStatusPending   = "pending"
	ChangeStatusSyncing   = "syncing"
	ChangeStatusCompleted = "completed"
	ChangeStatusFailed    = "failed"
	ChangeStatusSkipped   = "skipped"
)

// ChangeLogEntry is one store-origin mutation awaiting propagation to the
// CRM. Entries are created by change capture on local writes, mutated only by
// the outbox processor, and retained forever for audit.
type ChangeLogEntry struct {
	ID            string          `json:"id" db:"id"`
	ObjectAPIName string          `json:"object_api_name" db:"object_api_name"`
	RecordID      string          `json:"record_id" db:"record_id"`
	Operation     ChangeOperation `json:"operation" db:"operation"`
	OldValues     string          `json:"old_values,omitempty" db:"old_values"` // JSON snapshot
	NewValues     string          `json:"new_values,omitempty" db:"new_values"` // JSON snapshot
	ChangedFields string          `json:"changed_fields,omitempty" db:"changed_fields"`
	SyncStatus    string          `json:"sync_status" db:"sync_status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	LastError     string          `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	ChangedAt     time.Time       `json:"changed_at" db:"changed_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty" db:"synced_at"`
}
