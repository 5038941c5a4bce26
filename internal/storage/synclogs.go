package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// SaveSyncLog inserts or updates one audit entry. Bulk pulls write an
// in-progress row first and finalize it when the run ends, so the upsert
// keys on the entry ID.
func (s *SQLStorage) SaveSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = utils.GenerateID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	changedFields := ""
	if len(entry.ChangedFields) > 0 {
		data, err := json.Marshal(entry.ChangedFields)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode changed fields", err.Error())
		}
		changedFields = string(data)
	}

	metadata := ""
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode sync log metadata", err.Error())
		}
		metadata = string(data)
	}

	query := s.rebind(`
		INSERT INTO sync_logs
		(id, trigger_source, direction, object_api_name, record_id, operation, changed_fields,
		 before_snapshot, after_snapshot, payload_hash, processed, succeeded, failed,
		 duration_ms, status, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			operation = excluded.operation,
			changed_fields = excluded.changed_fields,
			before_snapshot = excluded.before_snapshot,
			after_snapshot = excluded.after_snapshot,
			payload_hash = excluded.payload_hash,
			processed = excluded.processed,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			metadata = excluded.metadata
	`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, string(entry.TriggerSource), entry.Direction, entry.ObjectAPIName,
		entry.RecordID, entry.Operation, changedFields,
		entry.BeforeSnapshot, entry.AfterSnapshot, entry.PayloadHash,
		entry.Processed, entry.Succeeded, entry.Failed,
		entry.Duration.Milliseconds(), entry.Status, entry.Error, metadata, entry.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save sync log entry", err.Error())
	}
	return nil
}

// QuerySyncLogs retrieves audit entries matching the filter, newest first
func (s *SQLStorage) QuerySyncLogs(ctx context.Context, filter *models.SyncLogFilter) ([]*models.SyncLogEntry, error) {
	var conditions []string
	var args []interface{}

	if filter.ObjectAPIName != "" {
		conditions = append(conditions, "object_api_name = ?")
		args = append(args, filter.ObjectAPIName)
	}
	if filter.RecordID != "" {
		conditions = append(conditions, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	if filter.TriggerSource != "" {
		conditions = append(conditions, "trigger_source = ?")
		args = append(args, string(filter.TriggerSource))
	}
	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PayloadHash != "" {
		conditions = append(conditions, "payload_hash = ?")
		args = append(args, filter.PayloadHash)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, trigger_source, direction, object_api_name, record_id, operation, changed_fields,
		       before_snapshot, after_snapshot, payload_hash, processed, succeeded, failed,
		       duration_ms, status, error, metadata, created_at
		FROM sync_logs
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query sync logs", err.Error())
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		entry, err := scanSyncLogEntry(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan sync log entry", err.Error())
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SyncLogStats aggregates audit outcomes over the given trailing window
func (s *SQLStorage) SyncLogStats(ctx context.Context, window time.Duration) (*models.SyncStatistics, error) {
	since := time.Now().UTC().Add(-window)
	stats := &models.SyncStatistics{
		Window:    window,
		ByStatus:  make(map[string]int64),
		ByObject:  make(map[string]models.ObjectSyncCounts),
		ByTrigger: make(map[string]int64),
	}

	query := s.rebind(`
		SELECT object_api_name, trigger_source, status, COUNT(*)
		FROM sync_logs
		WHERE created_at >= ?
		GROUP BY object_api_name, trigger_source, status
	`)

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to aggregate sync logs", err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var object, trigger, status string
		var count int64
		if err := rows.Scan(&object, &trigger, &status, &count); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan sync log aggregate", err.Error())
		}

		stats.TotalRuns += count
		stats.ByStatus[status] += count
		stats.ByTrigger[trigger] += count

		counts := stats.ByObject[object]
		counts.Total += count
		switch status {
		case models.SyncStatusSuccess:
			counts.Succeeded += count
		case models.SyncStatusSkipped:
			counts.Skipped += count
		case models.SyncStatusFailed:
			counts.Failed += count
		}
		stats.ByObject[object] = counts
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	avgQuery := s.rebind(`SELECT COALESCE(AVG(duration_ms), 0) FROM sync_logs WHERE created_at >= ?`)
	if err := s.db.QueryRowContext(ctx, avgQuery, since).Scan(&stats.AvgDurationMS); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to compute average sync duration", err.Error())
	}
	return stats, nil
}

// DeleteSyncLogsBefore prunes audit entries older than the cutoff, returning
// the number removed
func (s *SQLStorage) DeleteSyncLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM sync_logs WHERE created_at < ?`)
	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to prune sync logs", err.Error())
	}
	return result.RowsAffected()
}

func scanSyncLogEntry(row rowScanner) (*models.SyncLogEntry, error) {
	var entry models.SyncLogEntry
	var triggerSource string
	var recordID, operation, changedFields, beforeSnap, afterSnap sql.NullString
	var payloadHash, errText, metadata sql.NullString
	var durationMs int64

	err := row.Scan(&entry.ID, &triggerSource, &entry.Direction, &entry.ObjectAPIName,
		&recordID, &operation, &changedFields, &beforeSnap, &afterSnap, &payloadHash,
		&entry.Processed, &entry.Succeeded, &entry.Failed, &durationMs,
		&entry.Status, &errText, &metadata, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.TriggerSource = models.TriggerSource(triggerSource)
	entry.RecordID = recordID.String
	entry.Operation = operation.String
	entry.BeforeSnapshot = beforeSnap.String
	entry.AfterSnapshot = afterSnap.String
	entry.PayloadHash = payloadHash.String
	entry.Error = errText.String
	entry.Duration = time.Duration(durationMs) * time.Millisecond
	if changedFields.Valid && changedFields.String != "" {
		if err := json.Unmarshal([]byte(changedFields.String), &entry.ChangedFields); err != nil {
			return nil, err
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return &entry, nil
}
