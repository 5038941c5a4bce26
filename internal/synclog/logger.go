package synclog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Logger is the audit trail for both sync directions. Beyond bookkeeping it
// is the coordination primitive between the inbound and outbound paths: the
// echo-suppression and bulk-collision checks are queries over its rows.
type Logger struct {
	storage storage.Storage
	logger  *logrus.Logger
}

// NewLogger creates a sync audit logger
func NewLogger(store storage.Storage) *Logger {
	return &Logger{
		storage: store,
		logger:  utils.GetLogger(),
	}
}

// Record appends or finalizes one audit entry
func (l *Logger) Record(ctx context.Context, entry *models.SyncLogEntry) error {
	return l.storage.SaveSyncLog(ctx, entry)
}

// HasRecentInboundWrite reports whether an inbound application for this
// record with the same payload hash landed inside the dedup window. The
// outbound path uses this to suppress echoes: a local change that merely
// restates what just arrived from the CRM must not be sent back.
func (l *Logger) HasRecentInboundWrite(ctx context.Context, objectAPIName, recordID, payloadHash string, window time.Duration) (bool, error) {
	if payloadHash == "" {
		return false, nil
	}
	entries, err := l.storage.QuerySyncLogs(ctx, &models.SyncLogFilter{
		ObjectAPIName: objectAPIName,
		RecordID:      recordID,
		Direction:     models.DirectionInbound,
		PayloadHash:   payloadHash,
		Status:        models.SyncStatusSuccess,
		Since:         time.Now().UTC().Add(-window),
		Limit:         1,
	})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// HasRecentSuccess reports whether any successful sync for this record, in
// either direction, landed inside the dedup window. Notification handling
// uses this as its loop suppression: a vendor notification that merely
// announces a write we just pushed upstream, or duplicates one we just
// applied, is dropped without a fetch.
func (l *Logger) HasRecentSuccess(ctx context.Context, objectAPIName, recordID string, window time.Duration) (bool, error) {
	entries, err := l.storage.QuerySyncLogs(ctx, &models.SyncLogFilter{
		ObjectAPIName: objectAPIName,
		RecordID:      recordID,
		Status:        models.SyncStatusSuccess,
		Since:         time.Now().UTC().Add(-window),
		Limit:         1,
	})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// HasInProgressBulk reports whether a bulk pull over this object is still
// marked in progress inside the window. Notification handling defers to a
// running bulk pass instead of interleaving with it.
func (l *Logger) HasInProgressBulk(ctx context.Context, objectAPIName string, window time.Duration) (bool, error) {
	entries, err := l.storage.QuerySyncLogs(ctx, &models.SyncLogFilter{
		ObjectAPIName: objectAPIName,
		Status:        models.SyncStatusInProgress,
		Since:         time.Now().UTC().Add(-window),
		Limit:         1,
	})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// Query retrieves audit entries matching the filter
func (l *Logger) Query(ctx context.Context, filter *models.SyncLogFilter) ([]*models.SyncLogEntry, error) {
	return l.storage.QuerySyncLogs(ctx, filter)
}

// Statistics aggregates audit outcomes over the trailing window
func (l *Logger) Statistics(ctx context.Context, window time.Duration) (*models.SyncStatistics, error) {
	return l.storage.SyncLogStats(ctx, window)
}

// Cleanup prunes audit entries older than the retention period
func (l *Logger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := l.storage.DeleteSyncLogsBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		l.logger.WithFields(logrus.Fields{
			"deleted":   deleted,
			"retention": retention.String(),
		}).Info("Sync log cleanup completed")
	}
	return deleted, nil
}
