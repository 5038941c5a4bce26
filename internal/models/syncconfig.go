package models

import "time"

// Conflict resolution policies
const (
	ConflictMostRecentWins = "most-recent-write-wins"
)

// SyncConfig is the process-wide synchronization policy. It is persisted as a
// single document in storage, loaded at the start of each invocation and
// replaced wholesale on update, never mutated in place.
type SyncConfig struct {
	Enabled        bool            `json:"enabled"`
	AutoSync       bool            `json:"auto_sync"`
	PollInterval   time.Duration   `json:"poll_interval"`
	MaxRetries     int             `json:"max_retries"`
	BatchSize      int             `json:"batch_size"`
	DedupWindow    time.Duration   `json:"dedup_window"`
	ConflictPolicy string          `json:"conflict_policy"`
	ExcludedFields []string        `json:"excluded_fields"`
	Objects        map[string]bool `json:"objects"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DefaultSyncConfig returns the policy used when none has been persisted yet
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled:        true,
		AutoSync:       false,
		PollInterval:   60 * time.Second,
		MaxRetries:     3,
		BatchSize:      50,
		DedupWindow:    30 * time.Second,
		ConflictPolicy: ConflictMostRecentWins,
		ExcludedFields: []string{},
		Objects:        map[string]bool{},
	}
}

// ObjectEnabled reports whether sync is enabled for the given object. Objects
// absent from the map default to enabled.
func (c *SyncConfig) ObjectEnabled(objectAPIName string) bool {
	if !c.Enabled {
		return false
	}
	enabled, ok := c.Objects[objectAPIName]
	if !ok {
		return true
	}
	return enabled
}

// FieldExcluded reports whether a field is excluded from delta comparison
func (c *SyncConfig) FieldExcluded(fieldAPIName string) bool {
	for _, f := range c.ExcludedFields {
		if f == fieldAPIName {
			return true
		}
	}
	return false
}
