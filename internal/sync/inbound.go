package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/metrics"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/internal/synclog"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// bulkWindow bounds how long an in-progress bulk entry defers notifications.
// A bulk pass that dies without finalizing its entry stops blocking after
// this long.
const bulkWindow = 10 * time.Minute

// Inbound applies CRM-origin changes to the local store. Notifications are
// treated as hints only: the handler always re-fetches the record from the
// CRM and decides against the stored row, so a stale or duplicated
// notification converges to the same state as a fresh one.
type Inbound struct {
	client         crm.Client
	storage        storage.Storage
	syncLog        *synclog.Logger
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewInbound creates the inbound sync processor
func NewInbound(client crm.Client, store storage.Storage, syncLog *synclog.Logger) *Inbound {
	return &Inbound{
		client:  client,
		storage: store,
		syncLog: syncLog,
		logger:  utils.GetLogger(),
	}
}

// SetMetricsManager wires metrics collection into the processor
func (i *Inbound) SetMetricsManager(manager *metrics.Manager) {
	i.metricsManager = manager
}

// HandleNotification processes one change notification from the CRM
func (i *Inbound) HandleNotification(ctx context.Context, n *models.InboundNotification) (*models.NotificationResult, error) {
	start := time.Now()

	cfg, err := i.storage.LoadSyncConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.ObjectEnabled(n.ObjectAPIName) {
		return i.skip(ctx, n, start, "sync disabled for object")
	}

	def, err := i.storage.GetObjectDefinition(ctx, n.ObjectAPIName)
	if err != nil {
		return nil, err
	}
	if def == nil || !def.Enabled || def.TableName == "" {
		return i.skip(ctx, n, start, "object not synchronized")
	}

	// A running bulk pull owns the object for its duration; the record this
	// notification is about will be covered by the bulk pass itself.
	busy, err := i.syncLog.HasInProgressBulk(ctx, n.ObjectAPIName, bulkWindow)
	if err != nil {
		return nil, err
	}
	if busy {
		return i.skip(ctx, n, start, "bulk sync in progress")
	}

	// Loop suppression: a successful sync for this record inside the dedup
	// window means this notification is an echo of our own outbound write or
	// a duplicate delivery. Either way the store already holds the state.
	if cfg.DedupWindow > 0 {
		recent, err := i.syncLog.HasRecentSuccess(ctx, n.ObjectAPIName, n.ObjectID, cfg.DedupWindow)
		if err != nil {
			return nil, err
		}
		if recent {
			return i.skip(ctx, n, start, "record synced within dedup window")
		}
	}

	fields, err := i.storage.GetFieldDefinitions(ctx, n.ObjectAPIName, true)
	if err != nil {
		return nil, err
	}

	// Fetch-then-act: the notification payload is never applied directly
	record, err := i.client.GetRecord(ctx, n.ObjectAPIName, n.ObjectID)
	if err != nil {
		i.recordOutcome(ctx, n, start, models.SyncStatusFailed, "", err.Error())
		return nil, err
	}

	status, reason, err := i.applyRecord(ctx, def, fields, cfg, n.ObjectID, record, models.TriggerWebhook)
	if err != nil {
		i.recordOutcome(ctx, n, start, models.SyncStatusFailed, "", err.Error())
		return nil, err
	}

	duration := time.Since(start)
	if i.metricsManager != nil {
		i.metricsManager.RecordSyncOperation(models.DirectionInbound, n.ObjectAPIName, status, duration)
	}

	return &models.NotificationResult{
		Success:          status == models.SyncStatusSuccess,
		Skipped:          status == models.SyncStatusSkipped,
		Reason:           reason,
		RecordsProcessed: 1,
		Duration:         duration,
	}, nil
}

// applyRecord reconciles one freshly fetched CRM record against the stored
// row. A nil record or an invalid life status soft-deletes; otherwise the
// record is upserted only when the vendor modification time is strictly
// newer than the stored one. Equal timestamps mean the store already has
// this state and the write is skipped.
func (i *Inbound) applyRecord(ctx context.Context, def *models.ObjectDefinition, fields []*models.FieldDefinition,
	cfg *models.SyncConfig, recordID string, record crm.Record, source models.TriggerSource) (string, string, error) {

	start := time.Now()
	table := def.TableName

	deleted := record == nil
	if !deleted {
		if status, ok := record[crm.RecordStatusField].(string); ok && status == crm.RecordStatusInvalid {
			deleted = true
		}
	}

	meta, err := i.storage.GetRecordMeta(ctx, table, recordID)
	if err != nil {
		return "", "", err
	}

	if deleted {
		if meta == nil {
			return models.SyncStatusSkipped, "record unknown locally", nil
		}
		if meta.Deleted {
			return models.SyncStatusSkipped, "record already deleted", nil
		}

		// Snapshot the row before it is tombstoned
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.ColumnName())
		}
		before, err := i.storage.GetRecordValues(ctx, table, recordID, names)
		if err != nil {
			return "", "", err
		}

		if err := i.storage.SoftDeleteRecord(ctx, table, recordID); err != nil {
			return "", "", err
		}
		entry := &models.SyncLogEntry{
			TriggerSource:  source,
			Direction:      models.DirectionInbound,
			ObjectAPIName:  def.APIName,
			RecordID:       recordID,
			Operation:      string(models.ChangeOpDelete),
			BeforeSnapshot: snapshotJSON(before),
			Processed:      1,
			Succeeded:      1,
			Status:         models.SyncStatusSuccess,
			Duration:       time.Since(start),
		}
		if err := i.syncLog.Record(ctx, entry); err != nil {
			i.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("Failed to record sync log entry")
		}
		return models.SyncStatusSuccess, "", nil
	}

	modifiedAt, ok := record.ModifiedTime()
	if !ok {
		modifiedAt = time.Now().UTC()
	}

	// Most-recent-write-wins: only a strictly newer vendor timestamp
	// overwrites the stored row
	if meta != nil && meta.ModifiedAt != nil && !modifiedAt.After(*meta.ModifiedAt) {
		return models.SyncStatusSkipped, "stored record is as recent", nil
	}

	columns := flattenRecord(fields, record, cfg)
	if err := i.storage.UpsertRecord(ctx, table, recordID, columns, modifiedAt); err != nil {
		return "", "", err
	}

	operation := models.ChangeOpUpdate
	if meta == nil {
		operation = models.ChangeOpInsert
	}
	entry := &models.SyncLogEntry{
		TriggerSource: source,
		Direction:     models.DirectionInbound,
		ObjectAPIName: def.APIName,
		RecordID:      recordID,
		Operation:     string(operation),
		AfterSnapshot: snapshotJSON(columns),
		PayloadHash:   payloadHashFor(columns),
		Processed:     1,
		Succeeded:     1,
		Status:        models.SyncStatusSuccess,
		Duration:      time.Since(start),
	}
	if err := i.syncLog.Record(ctx, entry); err != nil {
		i.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("Failed to record sync log entry")
	}
	return models.SyncStatusSuccess, "", nil
}

// BulkPull pages every record of an object out of the CRM and reconciles
// each one through the same compare-and-apply path notifications use. The
// run is bracketed by an in-progress audit entry so concurrent notifications
// defer instead of interleaving.
func (i *Inbound) BulkPull(ctx context.Context, objectAPIName string, source models.TriggerSource) (*models.SyncLogEntry, error) {
	start := time.Now()

	cfg, err := i.storage.LoadSyncConfig(ctx)
	if err != nil {
		return nil, err
	}
	def, err := i.storage.GetObjectDefinition(ctx, objectAPIName)
	if err != nil {
		return nil, err
	}
	if def == nil || def.TableName == "" {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Object not synchronized", objectAPIName)
	}
	fields, err := i.storage.GetFieldDefinitions(ctx, objectAPIName, true)
	if err != nil {
		return nil, err
	}

	entry := &models.SyncLogEntry{
		ID:            utils.GenerateID(),
		TriggerSource: source,
		Direction:     models.DirectionInbound,
		ObjectAPIName: objectAPIName,
		Status:        models.SyncStatusInProgress,
	}
	if err := i.syncLog.Record(ctx, entry); err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	offset := 0
	for {
		records, total, err := i.client.QueryRecords(ctx, objectAPIName, crm.QueryOptions{
			Offset: offset,
			Limit:  batchSize,
		})
		if err != nil {
			entry.Status = models.SyncStatusFailed
			entry.Error = err.Error()
			entry.Duration = time.Since(start)
			_ = i.syncLog.Record(ctx, entry)
			return entry, err
		}

		for _, record := range records {
			recordID := record.ID()
			if recordID == "" {
				continue
			}
			entry.Processed++
			status, _, err := i.applyRecord(ctx, def, fields, cfg, recordID, record, source)
			if err != nil {
				// One bad record does not abort the pull
				entry.Failed++
				i.logger.WithFields(logrus.Fields{
					"object": objectAPIName,
					"record": recordID,
					"error":  err.Error(),
				}).Error("Failed to apply record during bulk pull")
				continue
			}
			if status == models.SyncStatusSuccess {
				entry.Succeeded++
			}
		}

		offset += len(records)
		if len(records) == 0 || offset >= total {
			break
		}
	}

	entry.Status = models.SyncStatusSuccess
	if entry.Failed > 0 {
		entry.Status = models.SyncStatusFailed
	}
	entry.Duration = time.Since(start)
	if err := i.syncLog.Record(ctx, entry); err != nil {
		return entry, err
	}

	if count, err := i.storage.CountRecords(ctx, def.TableName); err == nil && i.metricsManager != nil {
		i.metricsManager.SetRecordsStored(objectAPIName, count)
	}
	if i.metricsManager != nil {
		i.metricsManager.RecordSyncOperation(models.DirectionInbound, objectAPIName, entry.Status, entry.Duration)
	}

	i.logger.WithFields(logrus.Fields{
		"object":    objectAPIName,
		"processed": entry.Processed,
		"succeeded": entry.Succeeded,
		"failed":    entry.Failed,
	}).Info("Bulk pull completed")
	return entry, nil
}

func (i *Inbound) skip(ctx context.Context, n *models.InboundNotification, start time.Time, reason string) (*models.NotificationResult, error) {
	i.recordOutcome(ctx, n, start, models.SyncStatusSkipped, reason, "")
	return &models.NotificationResult{
		Skipped:  true,
		Reason:   reason,
		Duration: time.Since(start),
	}, nil
}

func (i *Inbound) recordOutcome(ctx context.Context, n *models.InboundNotification, start time.Time, status, reason, errText string) {
	entry := &models.SyncLogEntry{
		TriggerSource: models.TriggerWebhook,
		Direction:     models.DirectionInbound,
		ObjectAPIName: n.ObjectAPIName,
		RecordID:      n.ObjectID,
		Operation:     string(n.Event),
		Status:        status,
		Error:         errText,
		Duration:      time.Since(start),
	}
	if reason != "" {
		entry.Metadata = map[string]interface{}{"reason": reason}
	}
	if err := i.syncLog.Record(ctx, entry); err != nil {
		i.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("Failed to record sync log entry")
	}
	if i.metricsManager != nil && status != models.SyncStatusSuccess {
		i.metricsManager.RecordSyncOperation(models.DirectionInbound, n.ObjectAPIName, status, time.Since(start))
	}
}
