package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/metrics"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Unsupported change types reported in logs and metrics
const (
	ChangeTypeDropField   = "drop_field"
	ChangeTypeRetypeField = "retype_field"
)

// Manager owns the record-table DDL. Its vocabulary is strictly additive:
// CREATE TABLE and ADD COLUMN. Dropping or retyping a column is not in the
// vocabulary and is reported as an unsupported change instead.
type Manager struct {
	storage        storage.Storage
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewManager creates a schema manager
func NewManager(store storage.Storage) *Manager {
	return &Manager{
		storage: store,
		logger:  utils.GetLogger(),
	}
}

// SetMetricsManager wires metrics collection into the manager
func (m *Manager) SetMetricsManager(manager *metrics.Manager) {
	m.metricsManager = manager
}

// EnsureTable creates the backing table for an object when it does not exist
// yet, with columns for every active field plus the bookkeeping columns.
// Returns true when the table was created by this call.
func (m *Manager) EnsureTable(ctx context.Context, def *models.ObjectDefinition, fields []*models.FieldDefinition) (bool, error) {
	table := models.TableNameFor(def.APIName)

	exists, err := m.storage.TableExists(ctx, table)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	statement := m.createTableSQL(table, fields)
	if err := m.storage.ExecDDL(ctx, def.APIName, statement); err != nil {
		if m.metricsManager != nil {
			m.metricsManager.RecordDDL(def.APIName, false)
		}
		return false, err
	}
	if m.metricsManager != nil {
		m.metricsManager.RecordDDL(def.APIName, true)
	}

	if err := m.storage.SetObjectTableName(ctx, def.APIName, table); err != nil {
		return true, err
	}

	m.logger.WithFields(logrus.Fields{
		"object": def.APIName,
		"table":  table,
		"fields": len(fields),
	}).Info("Record table created")
	return true, nil
}

// MissingColumns diffs the declared fields against the live table and
// returns the fields whose backing column does not exist yet. Bookkeeping
// columns and extra columns already in the table are ignored.
func (m *Manager) MissingColumns(ctx context.Context, table string, fields []*models.FieldDefinition) ([]*models.FieldDefinition, error) {
	existing, err := m.storage.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	existingSet := make(map[string]bool, len(existing))
	for _, name := range existing {
		existingSet[name] = true
	}

	var missing []*models.FieldDefinition
	for _, f := range fields {
		column := f.ColumnName()
		if models.IsSystemColumn(column) || existingSet[column] {
			continue
		}
		missing = append(missing, f)
	}
	return missing, nil
}

// AddColumn appends one nullable column to a record table. Columns are added
// without NOT NULL regardless of the field's required flag; existing rows
// predate the field and cannot satisfy it.
func (m *Manager) AddColumn(ctx context.Context, objectAPIName, table string, field *models.FieldDefinition) error {
	statement := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		table, field.ColumnName(), field.StorageType)

	if err := m.storage.ExecDDL(ctx, objectAPIName, statement); err != nil {
		if m.metricsManager != nil {
			m.metricsManager.RecordDDL(objectAPIName, false)
		}
		return err
	}
	if m.metricsManager != nil {
		m.metricsManager.RecordDDL(objectAPIName, true)
	}

	m.logger.WithFields(logrus.Fields{
		"object": objectAPIName,
		"table":  table,
		"column": field.ColumnName(),
		"type":   field.StorageType,
	}).Info("Column added")
	return nil
}

// ReportUnsupportedChange logs a vendor schema change the engine will not
// apply. The stored column is left untouched and sync continues.
func (m *Manager) ReportUnsupportedChange(objectAPIName, fieldAPIName, changeType, detail string) {
	m.logger.WithFields(logrus.Fields{
		"object":      objectAPIName,
		"field":       fieldAPIName,
		"change_type": changeType,
		"detail":      detail,
	}).Warn("UNSUPPORTED_SCHEMA_CHANGE")
	if m.metricsManager != nil {
		m.metricsManager.RecordUnsupportedSchemaChange(objectAPIName, changeType)
	}
}

func (m *Manager) createTableSQL(table string, fields []*models.FieldDefinition) string {
	var columns []string
	if m.storage.Dialect() == storage.DialectPostgres {
		columns = []string{
			"id BIGSERIAL PRIMARY KEY",
			"crm_id TEXT NOT NULL UNIQUE",
			"is_deleted BOOLEAN NOT NULL DEFAULT FALSE",
			"crm_modified_at TIMESTAMP WITH TIME ZONE",
			"created_at TIMESTAMP WITH TIME ZONE NOT NULL",
			"updated_at TIMESTAMP WITH TIME ZONE NOT NULL",
		}
	} else {
		columns = []string{
			"id INTEGER PRIMARY KEY AUTOINCREMENT",
			"crm_id TEXT NOT NULL UNIQUE",
			"is_deleted BOOLEAN NOT NULL DEFAULT FALSE",
			"crm_modified_at DATETIME",
			"created_at DATETIME NOT NULL",
			"updated_at DATETIME NOT NULL",
		}
	}

	for _, f := range fields {
		column := f.ColumnName()
		if models.IsSystemColumn(column) {
			continue
		}
		definition := fmt.Sprintf("%s %s", column, f.StorageType)
		if f.Required {
			definition += " NOT NULL"
		}
		if f.DefaultValue != "" {
			definition += " DEFAULT " + defaultLiteral(f.StorageType, f.DefaultValue)
		}
		columns = append(columns, definition)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(columns, ",\n\t"))
}

// defaultLiteral renders a catalogue default value as a SQL literal. Numeric
// and boolean types pass through unquoted, everything else is quoted.
func defaultLiteral(storageType, value string) string {
	switch storageType {
	case "INTEGER", "BIGINT", "REAL", "NUMERIC", "BOOLEAN":
		return value
	default:
		return "'" + strings.ReplaceAll(value, "'", "''") + "'"
	}
}
