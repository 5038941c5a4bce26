package models

import "time"

// NotificationEvent identifies the kind of inbound CRM change notification
type NotificationEvent string

const (
	NotificationCreated NotificationEvent = "created"
	NotificationUpdated NotificationEvent = "updated"
	NotificationDeleted NotificationEvent = "deleted"
)

// InboundNotification is the payload delivered to the notification endpoint
// when a record changes in the CRM
type InboundNotification struct {
	Event         NotificationEvent      `json:"event"`
	ObjectAPIName string                 `json:"objectApiName"`
	ObjectID      string                 `json:"objectId"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// NotificationResult is returned to the notification sender
type NotificationResult struct {
	Success          bool          `json:"success"`
	Skipped          bool          `json:"skipped,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	RecordsProcessed int           `json:"recordsProcessed"`
	Duration         time.Duration `json:"duration"`
}

// DrainResult summarizes one outbox drain pass
type DrainResult struct {
	Processed int               `json:"processed"`
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"` // entry id -> error
	Duration  time.Duration     `json:"duration"`
}
