package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// ObjectSyncResult summarizes one schema sync pass over a single object
type ObjectSyncResult struct {
	ObjectAPIName  string   `json:"object_api_name"`
	TableCreated   bool     `json:"table_created"`
	ColumnsAdded   []string `json:"columns_added,omitempty"`
	FieldsDropped  []string `json:"fields_dropped,omitempty"`
	FieldsRetyped  []string `json:"fields_retyped,omitempty"`
	FieldsTotal    int      `json:"fields_total"`
	DurationMillis int64    `json:"duration_ms"`
}

// SyncAllResult summarizes a schema sync pass over every enabled object
type SyncAllResult struct {
	Objects   []*ObjectSyncResult `json:"objects"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Errors    map[string]string   `json:"errors,omitempty"`
}

// Orchestrator drives schema synchronization end to end: catalogue fetch,
// metadata refresh, table creation and additive column evolution
type Orchestrator struct {
	client    crm.Client
	storage   storage.Storage
	discovery *Discovery
	manager   *Manager
	logger    *logrus.Logger
}

// NewOrchestrator creates a schema sync orchestrator
func NewOrchestrator(client crm.Client, store storage.Storage) *Orchestrator {
	return &Orchestrator{
		client:    client,
		storage:   store,
		discovery: NewDiscovery(client, store),
		manager:   NewManager(store),
		logger:    utils.GetLogger(),
	}
}

// Manager exposes the DDL manager for wiring metrics
func (o *Orchestrator) Manager() *Manager {
	return o.manager
}

// Discovery exposes the catalogue discovery component
func (o *Orchestrator) Discovery() *Discovery {
	return o.discovery
}

// SyncObject refreshes the field metadata for one object and evolves its
// backing table. Evolution is strictly additive: new fields become new
// columns, fields missing from the catalogue are deactivated with their
// columns retained, and a changed vendor type is reported and skipped while
// the column keeps its original type.
func (o *Orchestrator) SyncObject(ctx context.Context, apiName string) (*ObjectSyncResult, error) {
	start := time.Now()

	def, err := o.storage.GetObjectDefinition(ctx, apiName)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Unknown object", apiName)
	}

	fresh, err := o.discovery.FetchFields(ctx, apiName, o.storage.Dialect())
	if err != nil {
		return nil, err
	}

	previous, err := o.storage.GetFieldDefinitions(ctx, apiName, false)
	if err != nil {
		return nil, err
	}
	previousByName := make(map[string]*models.FieldDefinition, len(previous))
	for _, f := range previous {
		previousByName[f.APIName] = f
	}

	result := &ObjectSyncResult{ObjectAPIName: apiName, FieldsTotal: len(fresh)}

	// Retype detection runs against the stored metadata before it is
	// overwritten. The stored type wins so metadata stays truthful about
	// the column actually in the table.
	keep := make([]string, 0, len(fresh))
	for _, f := range fresh {
		keep = append(keep, f.APIName)
		if prev, ok := previousByName[f.APIName]; ok && prev.StorageType != f.StorageType {
			o.manager.ReportUnsupportedChange(apiName, f.APIName, ChangeTypeRetypeField,
				fmt.Sprintf("vendor type changed %s -> %s, column keeps %s", prev.FieldType, f.FieldType, prev.StorageType))
			result.FieldsRetyped = append(result.FieldsRetyped, f.APIName)
			f.FieldType = prev.FieldType
			f.StorageType = prev.StorageType
		}
		if err := o.storage.UpsertFieldDefinition(ctx, f); err != nil {
			return result, err
		}
	}

	dropped, err := o.storage.DeactivateMissingFields(ctx, apiName, keep)
	if err != nil {
		return result, err
	}
	for _, name := range dropped {
		o.manager.ReportUnsupportedChange(apiName, name, ChangeTypeDropField,
			"field removed from vendor catalogue, column retained")
	}
	result.FieldsDropped = dropped

	created, err := o.manager.EnsureTable(ctx, def, fresh)
	if err != nil {
		return result, err
	}
	result.TableCreated = created

	if !created {
		table := def.TableName
		if table == "" {
			table = models.TableNameFor(apiName)
			if err := o.storage.SetObjectTableName(ctx, apiName, table); err != nil {
				return result, err
			}
		}
		missing, err := o.manager.MissingColumns(ctx, table, fresh)
		if err != nil {
			return result, err
		}
		for _, f := range missing {
			if err := o.manager.AddColumn(ctx, apiName, table, f); err != nil {
				return result, err
			}
			result.ColumnsAdded = append(result.ColumnsAdded, f.ColumnName())
		}
	}

	if err := o.storage.TouchObjectSynced(ctx, apiName, time.Now().UTC()); err != nil {
		return result, err
	}

	result.DurationMillis = time.Since(start).Milliseconds()
	o.logger.WithFields(logrus.Fields{
		"object":        apiName,
		"table_created": result.TableCreated,
		"columns_added": len(result.ColumnsAdded),
		"fields_total":  result.FieldsTotal,
	}).Info("Schema sync completed")
	return result, nil
}

// SyncAll runs a schema sync over every enabled object. A failure on one
// object is recorded and does not stop the others.
func (o *Orchestrator) SyncAll(ctx context.Context) (*SyncAllResult, error) {
	defs, err := o.storage.ListObjectDefinitions(ctx, true)
	if err != nil {
		return nil, err
	}

	result := &SyncAllResult{Errors: make(map[string]string)}
	for _, def := range defs {
		objectResult, err := o.SyncObject(ctx, def.APIName)
		if err != nil {
			result.Failed++
			result.Errors[def.APIName] = err.Error()
			o.logger.WithFields(logrus.Fields{
				"object": def.APIName,
				"error":  err.Error(),
			}).Error("Schema sync failed for object")
			continue
		}
		result.Succeeded++
		result.Objects = append(result.Objects, objectResult)
	}
	return result, nil
}
