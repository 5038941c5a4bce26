package models

import "time"

// TriggerSource identifies what initiated a synchronization attempt
type TriggerSource string

const (
	TriggerWebhook   TriggerSource = "webhook"
	TriggerScheduled TriggerSource = "scheduled"
	TriggerManual    TriggerSource = "manual"
	TriggerOutbox    TriggerSource = "outbox"
)

// Sync log statuses
const (
	SyncStatusSuccess    = "success"
	SyncStatusSkipped    = "skipped"
	SyncStatusFailed     = "failed"
	SyncStatusInProgress = "in_progress"
)

// Sync directions recorded in log metadata
const (
	DirectionInbound  = "inbound"  // CRM -> store
	DirectionOutbound = "outbound" // store -> CRM
)

// SyncLogEntry is the universal append-only audit record for both sync
// directions. It doubles as the coordination primitive: echo-loop and
// in-progress-bulk checks are queries over these rows.
type SyncLogEntry struct {
	ID             string                 `json:"id" db:"id"`
	TriggerSource  TriggerSource          `json:"trigger_source" db:"trigger_source"`
	Direction      string                 `json:"direction" db:"direction"`
	ObjectAPIName  string                 `json:"object_api_name" db:"object_api_name"`
	RecordID       string                 `json:"record_id,omitempty" db:"record_id"`
	Operation      string                 `json:"operation,omitempty" db:"operation"`
	ChangedFields  []string               `json:"changed_fields,omitempty" db:"changed_fields"`
	BeforeSnapshot string                 `json:"before_snapshot,omitempty" db:"before_snapshot"`
	AfterSnapshot  string                 `json:"after_snapshot,omitempty" db:"after_snapshot"`
	PayloadHash    string                 `json:"payload_hash,omitempty" db:"payload_hash"`
	Processed      int                    `json:"processed" db:"processed"`
	Succeeded      int                    `json:"succeeded" db:"succeeded"`
	Failed         int                    `json:"failed" db:"failed"`
	Duration       time.Duration          `json:"duration" db:"duration_ms"`
	Status         string                 `json:"status" db:"status"`
	Error          string                 `json:"error,omitempty" db:"error"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}

// SyncLogFilter narrows audit queries
type SyncLogFilter struct {
	ObjectAPIName string
	RecordID      string
	TriggerSource TriggerSource
	Direction     string
	Status        string
	PayloadHash   string
	Since         time.Time
	Limit         int
}

// SyncStatistics aggregates audit rows for observability
type SyncStatistics struct {
	Window        time.Duration               `json:"window"`
	TotalRuns     int64                       `json:"total_runs"`
	ByStatus      map[string]int64            `json:"by_status"`
	ByObject      map[string]ObjectSyncCounts `json:"by_object"`
	ByTrigger     map[string]int64            `json:"by_trigger"`
	AvgDurationMS float64                     `json:"avg_duration_ms"`
}

// ObjectSyncCounts holds per-object success/failure tallies
type ObjectSyncCounts struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}
