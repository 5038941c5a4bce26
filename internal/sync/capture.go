package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// LocalChange is a store-origin mutation submitted for capture
type LocalChange struct {
	ObjectAPIName string                 `json:"objectApiName"`
	RecordID      string                 `json:"recordId,omitempty"`
	Operation     models.ChangeOperation `json:"operation"`
	Values        map[string]interface{} `json:"values,omitempty"`
}

// Capture is the local write path. It applies a store-origin mutation to the
// record table and appends a change log entry for the outbox, with the delta
// computed against the pre-write row. A change whose delta is empty after
// excluded fields are removed produces no entry at all.
type Capture struct {
	storage storage.Storage
	logger  *logrus.Logger
}

// NewCapture creates the change capture component
func NewCapture(store storage.Storage) *Capture {
	return &Capture{
		storage: store,
		logger:  utils.GetLogger(),
	}
}

// CaptureChange validates, applies and records one local mutation. The
// returned entry is nil when the change was a no-op.
func (c *Capture) CaptureChange(ctx context.Context, change *LocalChange) (*models.ChangeLogEntry, error) {
	if change.Operation != models.ChangeOpInsert &&
		change.Operation != models.ChangeOpUpdate &&
		change.Operation != models.ChangeOpDelete {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unknown change operation", string(change.Operation))
	}
	if change.RecordID == "" && change.Operation != models.ChangeOpInsert {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Record id is required", "")
	}

	cfg, err := c.storage.LoadSyncConfig(ctx)
	if err != nil {
		return nil, err
	}

	def, err := c.storage.GetObjectDefinition(ctx, change.ObjectAPIName)
	if err != nil {
		return nil, err
	}
	if def == nil || def.TableName == "" {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Object not synchronized", change.ObjectAPIName)
	}

	switch change.Operation {
	case models.ChangeOpDelete:
		return c.captureDelete(ctx, def, change)
	default:
		return c.captureWrite(ctx, def, cfg, change)
	}
}

func (c *Capture) captureDelete(ctx context.Context, def *models.ObjectDefinition, change *LocalChange) (*models.ChangeLogEntry, error) {
	meta, err := c.storage.GetRecordMeta(ctx, def.TableName, change.RecordID)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Deleted {
		return nil, nil
	}

	if err := c.storage.SoftDeleteRecord(ctx, def.TableName, change.RecordID); err != nil {
		return nil, err
	}

	entry := &models.ChangeLogEntry{
		ObjectAPIName: def.APIName,
		RecordID:      change.RecordID,
		Operation:     models.ChangeOpDelete,
	}
	if err := c.storage.AppendChangeLog(ctx, entry); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"object": def.APIName,
		"record": change.RecordID,
	}).Info("Local delete captured")
	return entry, nil
}

func (c *Capture) captureWrite(ctx context.Context, def *models.ObjectDefinition, cfg *models.SyncConfig, change *LocalChange) (*models.ChangeLogEntry, error) {
	// Incoming keys are field API names; storage speaks column names
	columns := make(map[string]interface{}, len(change.Values))
	for name, value := range change.Values {
		if cfg.FieldExcluded(name) {
			continue
		}
		column := models.SanitizedColumn(name)
		if models.IsSystemColumn(column) {
			continue
		}
		columns[column] = normalizeValue(value)
	}
	if len(columns) == 0 {
		return nil, nil
	}

	recordID := change.RecordID
	if recordID == "" {
		// Provisional id until the CRM assigns the real one on create
		recordID = utils.GenerateID()
	}

	var oldColumns map[string]interface{}
	var modifiedAt time.Time

	meta, err := c.storage.GetRecordMeta(ctx, def.TableName, recordID)
	if err != nil {
		return nil, err
	}
	operation := models.ChangeOpInsert
	if meta != nil {
		operation = models.ChangeOpUpdate
		if meta.ModifiedAt != nil {
			modifiedAt = *meta.ModifiedAt
		}
		names := make([]string, 0, len(columns))
		for name := range columns {
			names = append(names, name)
		}
		oldColumns, err = c.storage.GetRecordValues(ctx, def.TableName, recordID, names)
		if err != nil {
			return nil, err
		}
	}

	changed := changedColumns(oldColumns, columns)
	if len(changed) == 0 {
		return nil, nil
	}

	if err := c.storage.UpsertRecord(ctx, def.TableName, recordID, columns, modifiedAt); err != nil {
		return nil, err
	}

	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to encode changed fields", err.Error())
	}

	entry := &models.ChangeLogEntry{
		ObjectAPIName: def.APIName,
		RecordID:      recordID,
		Operation:     operation,
		OldValues:     snapshotJSON(oldColumns),
		NewValues:     snapshotJSON(columns),
		ChangedFields: string(changedJSON),
	}
	if err := c.storage.AppendChangeLog(ctx, entry); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"object":    def.APIName,
		"record":    recordID,
		"operation": string(operation),
		"changed":   len(changed),
	}).Info("Local change captured")
	return entry, nil
}

// changedColumns returns the column names whose value differs between the
// stored row and the incoming write. Values are compared by their string
// rendering since they cross a driver round-trip.
func changedColumns(prev, next map[string]interface{}) []string {
	var changed []string
	for name, nextValue := range next {
		prevValue, ok := prev[name]
		if !ok || fmt.Sprintf("%v", prevValue) != fmt.Sprintf("%v", nextValue) {
			changed = append(changed, name)
		}
	}
	return changed
}
