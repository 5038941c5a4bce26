package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/metrics"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/internal/synclog"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Writer propagates one change log entry to the CRM. It owns the echo
// suppression check: a local change that restates a recent inbound write is
// skipped instead of bouncing back to the vendor.
type Writer struct {
	client         crm.Client
	storage        storage.Storage
	syncLog        *synclog.Logger
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewWriter creates the outbound writer
func NewWriter(client crm.Client, store storage.Storage, syncLog *synclog.Logger) *Writer {
	return &Writer{
		client:  client,
		storage: store,
		syncLog: syncLog,
		logger:  utils.GetLogger(),
	}
}

// SetMetricsManager wires metrics collection into the writer
func (w *Writer) SetMetricsManager(manager *metrics.Manager) {
	w.metricsManager = manager
}

// Propagate sends one captured change upstream. The returned status is one
// of the sync log statuses; a skipped status carries a reason and no error.
func (w *Writer) Propagate(ctx context.Context, entry *models.ChangeLogEntry, cfg *models.SyncConfig) (string, string, error) {
	start := time.Now()

	def, err := w.storage.GetObjectDefinition(ctx, entry.ObjectAPIName)
	if err != nil {
		return "", "", err
	}
	if def == nil || def.TableName == "" {
		return models.SyncStatusSkipped, "object not synchronized", nil
	}

	var columns map[string]interface{}
	if entry.NewValues != "" {
		if err := json.Unmarshal([]byte(entry.NewValues), &columns); err != nil {
			return "", "", utils.NewAppError(utils.ErrCodeInternal, "Failed to decode change values", err.Error())
		}
	}

	if entry.Operation != models.ChangeOpDelete {
		hash := payloadHashFor(columns)
		echo, err := w.syncLog.HasRecentInboundWrite(ctx, entry.ObjectAPIName, entry.RecordID, hash, cfg.DedupWindow)
		if err != nil {
			return "", "", err
		}
		if echo {
			w.recordOutcome(ctx, entry, start, models.SyncStatusSkipped, hash, "inbound echo suppressed")
			return models.SyncStatusSkipped, "inbound echo suppressed", nil
		}
	}

	fields, err := w.storage.GetFieldDefinitions(ctx, entry.ObjectAPIName, true)
	if err != nil {
		return "", "", err
	}
	data := w.vendorPayload(fields, columns, cfg)

	switch entry.Operation {
	case models.ChangeOpInsert:
		vendorID, err := w.client.CreateRecord(ctx, entry.ObjectAPIName, data)
		if err != nil {
			return "", "", err
		}
		if vendorID != "" && vendorID != entry.RecordID {
			if err := w.storage.UpdateRecordCRMID(ctx, def.TableName, entry.RecordID, vendorID); err != nil {
				return "", "", err
			}
		}
	case models.ChangeOpUpdate:
		if err := w.client.UpdateRecord(ctx, entry.ObjectAPIName, entry.RecordID, data); err != nil {
			return "", "", err
		}
	case models.ChangeOpDelete:
		// Vendor deletes are status flips, mirroring our own soft deletes
		invalid := map[string]interface{}{crm.RecordStatusField: crm.RecordStatusInvalid}
		if err := w.client.UpdateRecord(ctx, entry.ObjectAPIName, entry.RecordID, invalid); err != nil {
			return "", "", err
		}
	default:
		return models.SyncStatusSkipped, "unknown operation", nil
	}

	w.recordOutcome(ctx, entry, start, models.SyncStatusSuccess, payloadHashFor(columns), "")
	if w.metricsManager != nil {
		w.metricsManager.RecordSyncOperation(models.DirectionOutbound, entry.ObjectAPIName, models.SyncStatusSuccess, time.Since(start))
	}
	return models.SyncStatusSuccess, "", nil
}

// vendorPayload maps stored columns back to vendor field API names. Only
// fields the catalogue still carries are sent; excluded fields never leave
// the store.
func (w *Writer) vendorPayload(fields []*models.FieldDefinition, columns map[string]interface{}, cfg *models.SyncConfig) map[string]interface{} {
	data := make(map[string]interface{}, len(columns))
	for _, f := range fields {
		if cfg.FieldExcluded(f.APIName) {
			continue
		}
		if value, ok := columns[f.ColumnName()]; ok {
			data[f.APIName] = value
		}
	}
	return data
}

func (w *Writer) recordOutcome(ctx context.Context, entry *models.ChangeLogEntry, start time.Time, status, hash, reason string) {
	logEntry := &models.SyncLogEntry{
		TriggerSource: models.TriggerOutbox,
		Direction:     models.DirectionOutbound,
		ObjectAPIName: entry.ObjectAPIName,
		RecordID:      entry.RecordID,
		Operation:     string(entry.Operation),
		ChangedFields: decodeChangedFields(entry.ChangedFields),
		AfterSnapshot: entry.NewValues,
		PayloadHash:   hash,
		Processed:     1,
		Status:        status,
		Duration:      time.Since(start),
	}
	if status == models.SyncStatusSuccess {
		logEntry.Succeeded = 1
	}
	if reason != "" {
		logEntry.Metadata = map[string]interface{}{"reason": reason}
	}
	if err := w.syncLog.Record(ctx, logEntry); err != nil {
		w.logger.WithFields(logrus.Fields{"error": err.Error()}).Error("Failed to record sync log entry")
	}
}

func decodeChangedFields(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var fields []string
	if err := json.Unmarshal([]byte(encoded), &fields); err != nil {
		return nil
	}
	return fields
}
