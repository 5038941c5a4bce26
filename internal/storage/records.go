package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// TableExists reports whether a table is present in the active schema
func (s *SQLStorage) TableExists(ctx context.Context, table string) (bool, error) {
	var query string
	if s.dialect == DialectPostgres {
		query = s.rebind(`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?`)
	} else {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check table existence", err.Error())
	}
	return count > 0, nil
}

// TableColumns returns the column names of a table in schema order
func (s *SQLStorage) TableColumns(ctx context.Context, table string) ([]string, error) {
	var columns []string

	if s.dialect == DialectPostgres {
		query := s.rebind(`
			SELECT column_name FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = ?
			ORDER BY ordinal_position
		`)
		rows, err := s.db.QueryContext(ctx, query, table)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query table columns", err.Error())
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan column name", err.Error())
			}
			columns = append(columns, name)
		}
		return columns, rows.Err()
	}

	// PRAGMA does not support placeholders; table names are produced by our
	// own sanitizer so this is not attacker-controlled
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", utils.SanitizeIdentifier(table)))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query table columns", err.Error())
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan column info", err.Error())
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// ExecDDL executes one DDL statement against a record table and records it in
// the audit trail, success or failure
func (s *SQLStorage) ExecDDL(ctx context.Context, objectAPIName, statement string) error {
	_, execErr := s.db.ExecContext(ctx, statement)

	auditQuery := s.rebind(`
		INSERT INTO ddl_audit (object_api_name, statement, success, error, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	if _, auditErr := s.db.ExecContext(ctx, auditQuery,
		objectAPIName, statement, execErr == nil, errText, time.Now().UTC()); auditErr != nil {
		s.logger.WithFields(logrus.Fields{
			"object": objectAPIName,
			"error":  auditErr.Error(),
		}).Error("Failed to record DDL audit entry")
	}

	if execErr != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "DDL statement failed", execErr.Error())
	}
	return nil
}

// GetDDLAudit returns the most recent DDL audit entries for an object
func (s *SQLStorage) GetDDLAudit(ctx context.Context, objectAPIName string, limit int) ([]*DDLAuditEntry, error) {
	query := s.rebind(`
		SELECT id, object_api_name, statement, success, error, created_at
		FROM ddl_audit WHERE object_api_name = ?
		ORDER BY created_at DESC LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, objectAPIName, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query DDL audit", err.Error())
	}
	defer rows.Close()

	var entries []*DDLAuditEntry
	for rows.Next() {
		var entry DDLAuditEntry
		var errText sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ObjectAPIName, &entry.Statement,
			&entry.Success, &errText, &entry.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan DDL audit entry", err.Error())
		}
		entry.Error = errText.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// UpsertRecord writes one record into its object table, keyed on crm_id.
// Re-applying the same payload is harmless: the row converges to the same
// state. An upsert also clears any prior soft-delete flag, which is what a
// vendor-side undelete looks like from here.
func (s *SQLStorage) UpsertRecord(ctx context.Context, table, crmID string, columns map[string]interface{}, modifiedAt time.Time) error {
	now := time.Now().UTC()

	// Deterministic column order keeps generated SQL stable across calls
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	insertCols := []string{"crm_id", "is_deleted", "crm_modified_at", "created_at", "updated_at"}
	args := []interface{}{crmID, false, modifiedAt.UTC(), now, now}
	updates := []string{
		"is_deleted = excluded.is_deleted",
		"crm_modified_at = excluded.crm_modified_at",
		"updated_at = excluded.updated_at",
	}
	for _, name := range names {
		insertCols = append(insertCols, name)
		args = append(args, columns[name])
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", name, name))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")
	query := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (crm_id) DO UPDATE SET %s
	`, table, strings.Join(insertCols, ", "), placeholders, strings.Join(updates, ", "))

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert record", err.Error())
	}
	return nil
}

// GetRecordMeta retrieves the bookkeeping columns of one record, nil when the
// record has never been seen
func (s *SQLStorage) GetRecordMeta(ctx context.Context, table, crmID string) (*RecordMeta, error) {
	query := s.rebind(fmt.Sprintf(
		`SELECT crm_id, is_deleted, crm_modified_at FROM %s WHERE crm_id = ?`, table))

	var meta RecordMeta
	var modifiedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, crmID).Scan(&meta.CRMID, &meta.Deleted, &modifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get record meta", err.Error())
	}
	if modifiedAt.Valid {
		meta.ModifiedAt = &modifiedAt.Time
	}
	return &meta, nil
}

// GetRecordValues retrieves the named columns of one record, nil when absent
func (s *SQLStorage) GetRecordValues(ctx context.Context, table, crmID string, columns []string) (map[string]interface{}, error) {
	if len(columns) == 0 {
		return map[string]interface{}{}, nil
	}

	query := s.rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE crm_id = ?`, strings.Join(columns, ", "), table))

	dests := make([]interface{}, len(columns))
	for i := range dests {
		dests[i] = new(interface{})
	}

	err := s.db.QueryRowContext(ctx, query, crmID).Scan(dests...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get record values", err.Error())
	}

	values := make(map[string]interface{}, len(columns))
	for i, name := range columns {
		v := *(dests[i].(*interface{}))
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		values[name] = v
	}
	return values, nil
}

// UpdateRecordCRMID rebinds a row to a new CRM id. Store-origin inserts get
// a provisional local id until the vendor assigns the real one.
func (s *SQLStorage) UpdateRecordCRMID(ctx context.Context, table, oldID, newID string) error {
	query := s.rebind(fmt.Sprintf(
		`UPDATE %s SET crm_id = ?, updated_at = ? WHERE crm_id = ?`, table))

	result, err := s.db.ExecContext(ctx, query, newID, time.Now().UTC(), oldID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update record CRM id", err.Error())
	}
	return requireRowsAffected(result, "Record not found", oldID)
}

// SoftDeleteRecord marks one record deleted without removing the row. Rows
// are never hard-deleted from record tables.
func (s *SQLStorage) SoftDeleteRecord(ctx context.Context, table, crmID string) error {
	query := s.rebind(fmt.Sprintf(
		`UPDATE %s SET is_deleted = TRUE, updated_at = ? WHERE crm_id = ?`, table))

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), crmID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to soft-delete record", err.Error())
	}
	return requireRowsAffected(result, "Record not found", crmID)
}

// CountRecords counts live (not soft-deleted) rows in a record table
func (s *SQLStorage) CountRecords(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_deleted = FALSE`, table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}
	return count, nil
}
