package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Supported dialects
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStorage implements Storage against SQLite or PostgreSQL. The metadata
// queries are written once with ? placeholders and rebound for postgres;
// dialect differences beyond placeholders live in the migration scripts and
// in the schema manager's type mapping.
type SQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	dialect    string
	migrations []*Migration
}

// NewSQLStorage creates a storage instance for the given dialect
func NewSQLStorage(config *StorageConfig, dialect string) *SQLStorage {
	migrations := GetSQLiteMigrations()
	if dialect == DialectPostgres {
		migrations = GetPostgresMigrations()
	}
	return &SQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		dialect:    dialect,
		migrations: migrations,
	}
}

// Dialect returns the active SQL dialect
func (s *SQLStorage) Dialect() string {
	return s.dialect
}

// Connect establishes the database connection
func (s *SQLStorage) Connect() error {
	driver := "sqlite"
	dsn := s.config.ConnectionString

	if s.dialect == DialectPostgres {
		driver = "postgres"
	} else {
		// Ensure directory exists for file-backed SQLite databases
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if s.dialect == DialectSQLite {
		// WAL improves concurrent read behavior under request-scoped access
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
		}
	}

	s.db = db
	s.logger.WithFields(logrus.Fields{
		"dialect": s.dialect,
	}).Info("Database connected")
	return nil
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs the metadata table migrations
func (s *SQLStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")
		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// rebind converts ? placeholders to $n for postgres
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// --- Object definitions ---

// UpsertObjectDefinition inserts or refreshes an object definition keyed by
// API name. Locally-owned flags (enabled, synced, table_name) are preserved
// on conflict; only vendor-reported attributes are overwritten.
func (s *SQLStorage) UpsertObjectDefinition(ctx context.Context, def *models.ObjectDefinition) error {
	now := time.Now().UTC()
	query := s.rebind(`
		INSERT INTO object_definitions
		(api_name, display_name, is_custom, table_name, enabled, synced, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (api_name) DO UPDATE SET
			display_name = excluded.display_name,
			is_custom = excluded.is_custom,
			updated_at = excluded.updated_at
	`)

	var tableName interface{}
	if def.TableName != "" {
		tableName = def.TableName
	}

	_, err := s.db.ExecContext(ctx, query,
		def.APIName, def.DisplayName, def.IsCustom, tableName,
		def.Enabled, def.Synced, def.LastSyncedAt, now, now)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert object definition", err.Error())
	}
	return nil
}

// GetObjectDefinition retrieves one object definition, nil when absent
func (s *SQLStorage) GetObjectDefinition(ctx context.Context, apiName string) (*models.ObjectDefinition, error) {
	query := s.rebind(`
		SELECT api_name, display_name, is_custom, table_name, enabled, synced, last_synced_at, created_at, updated_at
		FROM object_definitions WHERE api_name = ?
	`)

	def, err := scanObjectDefinition(s.db.QueryRowContext(ctx, query, apiName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get object definition", err.Error())
	}
	return def, nil
}

// ListObjectDefinitions retrieves object definitions, optionally only enabled
func (s *SQLStorage) ListObjectDefinitions(ctx context.Context, enabledOnly bool) ([]*models.ObjectDefinition, error) {
	query := `
		SELECT api_name, display_name, is_custom, table_name, enabled, synced, last_synced_at, created_at, updated_at
		FROM object_definitions
	`
	if enabledOnly {
		query += " WHERE enabled = TRUE"
	}
	query += " ORDER BY api_name ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query object definitions", err.Error())
	}
	defer rows.Close()

	var defs []*models.ObjectDefinition
	for rows.Next() {
		def, err := scanObjectDefinition(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan object definition", err.Error())
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SetObjectTableName records the backing table created for an object
func (s *SQLStorage) SetObjectTableName(ctx context.Context, apiName, tableName string) error {
	query := s.rebind(`
		UPDATE object_definitions SET table_name = ?, synced = TRUE, updated_at = ? WHERE api_name = ?
	`)
	result, err := s.db.ExecContext(ctx, query, tableName, time.Now().UTC(), apiName)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set object table name", err.Error())
	}
	return requireRowsAffected(result, "Object definition not found", apiName)
}

// TouchObjectSynced stamps the object's last successful schema sync
func (s *SQLStorage) TouchObjectSynced(ctx context.Context, apiName string, at time.Time) error {
	query := s.rebind(`
		UPDATE object_definitions SET last_synced_at = ?, updated_at = ? WHERE api_name = ?
	`)
	result, err := s.db.ExecContext(ctx, query, at.UTC(), time.Now().UTC(), apiName)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to touch object sync timestamp", err.Error())
	}
	return requireRowsAffected(result, "Object definition not found", apiName)
}

// --- Field definitions ---

// UpsertFieldDefinition inserts or refreshes a field definition. A field that
// reappears in the catalogue after deactivation is re-activated.
func (s *SQLStorage) UpsertFieldDefinition(ctx context.Context, field *models.FieldDefinition) error {
	now := time.Now().UTC()
	query := s.rebind(`
		INSERT INTO field_definitions
		(object_api_name, api_name, display_name, field_type, storage_type, required, is_custom,
		 default_value, options, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?)
		ON CONFLICT (object_api_name, api_name) DO UPDATE SET
			display_name = excluded.display_name,
			field_type = excluded.field_type,
			storage_type = excluded.storage_type,
			required = excluded.required,
			is_custom = excluded.is_custom,
			default_value = excluded.default_value,
			options = excluded.options,
			active = TRUE,
			updated_at = excluded.updated_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		field.ObjectAPIName, field.APIName, field.DisplayName, string(field.FieldType),
		field.StorageType, field.Required, field.IsCustom, field.DefaultValue,
		field.Options, now, now)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert field definition", err.Error())
	}
	return nil
}

// GetFieldDefinitions retrieves field definitions for an object
func (s *SQLStorage) GetFieldDefinitions(ctx context.Context, objectAPIName string, activeOnly bool) ([]*models.FieldDefinition, error) {
	query := `
		SELECT object_api_name, api_name, display_name, field_type, storage_type, required, is_custom,
		       default_value, options, active, created_at, updated_at
		FROM field_definitions WHERE object_api_name = ?
	`
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY api_name ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), objectAPIName)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query field definitions", err.Error())
	}
	defer rows.Close()

	var fields []*models.FieldDefinition
	for rows.Next() {
		var f models.FieldDefinition
		var fieldType string
		var defaultValue, options sql.NullString
		err := rows.Scan(&f.ObjectAPIName, &f.APIName, &f.DisplayName, &fieldType,
			&f.StorageType, &f.Required, &f.IsCustom, &defaultValue, &options,
			&f.Active, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan field definition", err.Error())
		}
		f.FieldType = models.FieldType(fieldType)
		f.DefaultValue = defaultValue.String
		f.Options = options.String
		fields = append(fields, &f)
	}
	return fields, rows.Err()
}

// DeactivateMissingFields soft-deletes every active field of an object that
// is absent from keep, returning the deactivated field API names. Columns are
// never dropped; this only flips the active flag.
func (s *SQLStorage) DeactivateMissingFields(ctx context.Context, objectAPIName string, keep []string) ([]string, error) {
	current, err := s.GetFieldDefinitions(ctx, objectAPIName, true)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}

	var deactivated []string
	query := s.rebind(`
		UPDATE field_definitions SET active = FALSE, updated_at = ?
		WHERE object_api_name = ? AND api_name = ?
	`)
	for _, f := range current {
		if keepSet[f.APIName] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), objectAPIName, f.APIName); err != nil {
			return deactivated, utils.NewAppError(utils.ErrCodeDatabase, "Failed to deactivate field", err.Error())
		}
		deactivated = append(deactivated, f.APIName)
	}
	return deactivated, nil
}

// --- Change log (outbox) ---

// AppendChangeLog inserts one store-origin mutation into the outbox
func (s *SQLStorage) AppendChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = utils.GenerateID()
	}
	if entry.SyncStatus == "" {
		entry.SyncStatus = models.ChangeStatusPending
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO change_log
		(id, object_api_name, record_id, operation, old_values, new_values, changed_fields,
		 sync_status, attempts, last_error, next_attempt_at, changed_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.ObjectAPIName, entry.RecordID, string(entry.Operation),
		entry.OldValues, entry.NewValues, entry.ChangedFields,
		entry.SyncStatus, entry.Attempts, entry.LastError, entry.NextAttemptAt,
		entry.ChangedAt, entry.SyncedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append change log entry", err.Error())
	}
	return nil
}

// GetChangeLog retrieves one outbox entry, nil when absent
func (s *SQLStorage) GetChangeLog(ctx context.Context, id string) (*models.ChangeLogEntry, error) {
	query := s.rebind(`
		SELECT id, object_api_name, record_id, operation, old_values, new_values, changed_fields,
		       sync_status, attempts, last_error, next_attempt_at, changed_at, synced_at
		FROM change_log WHERE id = ?
	`)
	entry, err := scanChangeLogEntry(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get change log entry", err.Error())
	}
	return entry, nil
}

// PendingChangeLogs selects up to limit entries eligible for a drain pass:
// pending or retryable-failed, under the attempt cap, past any backoff
// deadline, oldest change first.
func (s *SQLStorage) PendingChangeLogs(ctx context.Context, limit, maxAttempts int, now time.Time) ([]*models.ChangeLogEntry, error) {
	query := s.rebind(`
		SELECT id, object_api_name, record_id, operation, old_values, new_values, changed_fields,
		       sync_status, attempts, last_error, next_attempt_at, changed_at, synced_at
		FROM change_log
		WHERE sync_status = ? AND attempts < ?
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY changed_at ASC
		LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, models.ChangeStatusPending, maxAttempts, now.UTC(), limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query pending change log entries", err.Error())
	}
	defer rows.Close()

	var entries []*models.ChangeLogEntry
	for rows.Next() {
		entry, err := scanChangeLogEntry(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan change log entry", err.Error())
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkChangeLogSyncing flags one entry as being drained
func (s *SQLStorage) MarkChangeLogSyncing(ctx context.Context, id string) error {
	return s.updateChangeLogStatus(ctx, id, models.ChangeStatusSyncing, "", nil)
}

// MarkChangeLogCompleted flags one entry as propagated upstream
func (s *SQLStorage) MarkChangeLogCompleted(ctx context.Context, id string, at time.Time) error {
	query := s.rebind(`
		UPDATE change_log SET sync_status = ?, synced_at = ?, last_error = '' WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, models.ChangeStatusCompleted, at.UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark change log completed", err.Error())
	}
	return requireRowsAffected(result, "Change log entry not found", id)
}

// MarkChangeLogSkipped flags one entry as intentionally not propagated
func (s *SQLStorage) MarkChangeLogSkipped(ctx context.Context, id, reason string) error {
	return s.updateChangeLogStatus(ctx, id, models.ChangeStatusSkipped, reason, nil)
}

// RequeueChangeLog records a failed attempt. When exhausted the entry goes to
// the terminal failed status; otherwise it returns to pending with a backoff
// deadline.
func (s *SQLStorage) RequeueChangeLog(ctx context.Context, id string, attempts int, lastError string, nextAttempt *time.Time, exhausted bool) error {
	status := models.ChangeStatusPending
	if exhausted {
		status = models.ChangeStatusFailed
	}
	query := s.rebind(`
		UPDATE change_log SET sync_status = ?, attempts = ?, last_error = ?, next_attempt_at = ? WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, status, attempts, lastError, nextAttempt, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to requeue change log entry", err.Error())
	}
	return requireRowsAffected(result, "Change log entry not found", id)
}

func (s *SQLStorage) updateChangeLogStatus(ctx context.Context, id, status, lastError string, syncedAt *time.Time) error {
	query := s.rebind(`
		UPDATE change_log SET sync_status = ?, last_error = ?, synced_at = ? WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, status, lastError, syncedAt, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update change log status", err.Error())
	}
	return requireRowsAffected(result, "Change log entry not found", id)
}

// --- Sync config document ---

const syncConfigKey = "sync_config"

// LoadSyncConfig reads the persisted sync policy, falling back to defaults
// when none has been stored yet
func (s *SQLStorage) LoadSyncConfig(ctx context.Context) (*models.SyncConfig, error) {
	query := s.rebind(`SELECT value FROM sync_config WHERE key = ?`)

	var value string
	err := s.db.QueryRowContext(ctx, query, syncConfigKey).Scan(&value)
	if err == sql.ErrNoRows {
		return models.DefaultSyncConfig(), nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to load sync config", err.Error())
	}

	var cfg models.SyncConfig
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to decode sync config", err.Error())
	}
	return &cfg, nil
}

// SaveSyncConfig replaces the persisted sync policy wholesale
func (s *SQLStorage) SaveSyncConfig(ctx context.Context, cfg *models.SyncConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	value, err := json.Marshal(cfg)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode sync config", err.Error())
	}

	query := s.rebind(`
		INSERT INTO sync_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, syncConfigKey, string(value), cfg.UpdatedAt); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save sync config", err.Error())
	}
	return nil
}

// --- Statistics ---

// GetStorageStats aggregates row counts across the metadata tables
func (s *SQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM object_definitions", &stats.TotalObjects},
		{"SELECT COUNT(*) FROM object_definitions WHERE enabled = TRUE", &stats.EnabledObjects},
		{"SELECT COUNT(*) FROM field_definitions", &stats.TotalFields},
		{"SELECT COUNT(*) FROM field_definitions WHERE active = TRUE", &stats.ActiveFields},
		{"SELECT COUNT(*) FROM change_log WHERE sync_status = 'pending'", &stats.PendingChanges},
		{"SELECT COUNT(*) FROM change_log WHERE sync_status = 'failed'", &stats.FailedChanges},
		{"SELECT COUNT(*) FROM change_log WHERE sync_status = 'completed'", &stats.CompletedChanges},
		{"SELECT COUNT(*) FROM sync_logs", &stats.SyncLogEntries},
	}

	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err.Error())
		}
	}
	return stats, nil
}

// GetHealth reports storage backend health
func (s *SQLStorage) GetHealth() *StorageHealth {
	return &StorageHealth{
		StorageType: s.dialect,
		Healthy:     s.Ping() == nil,
		Details:     map[string]string{"connection_string": s.config.ConnectionString},
		LastPing:    time.Now(),
	}
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObjectDefinition(row rowScanner) (*models.ObjectDefinition, error) {
	var def models.ObjectDefinition
	var tableName sql.NullString
	var lastSynced sql.NullTime

	err := row.Scan(&def.APIName, &def.DisplayName, &def.IsCustom, &tableName,
		&def.Enabled, &def.Synced, &lastSynced, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.TableName = tableName.String
	if lastSynced.Valid {
		def.LastSyncedAt = &lastSynced.Time
	}
	return &def, nil
}

func scanChangeLogEntry(row rowScanner) (*models.ChangeLogEntry, error) {
	var entry models.ChangeLogEntry
	var operation string
	var oldValues, newValues, changedFields, lastError sql.NullString
	var nextAttempt, syncedAt sql.NullTime

	err := row.Scan(&entry.ID, &entry.ObjectAPIName, &entry.RecordID, &operation,
		&oldValues, &newValues, &changedFields, &entry.SyncStatus, &entry.Attempts,
		&lastError, &nextAttempt, &entry.ChangedAt, &syncedAt)
	if err != nil {
		return nil, err
	}
	entry.Operation = models.ChangeOperation(operation)
	entry.OldValues = oldValues.String
	entry.NewValues = newValues.String
	entry.ChangedFields = changedFields.String
	entry.LastError = lastError.String
	if nextAttempt.Valid {
		entry.NextAttemptAt = &nextAttempt.Time
	}
	if syncedAt.Valid {
		entry.SyncedAt = &syncedAt.Time
	}
	return &entry, nil
}

func requireRowsAffected(result sql.Result, message, detail string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to get rows affected", err.Error())
	}
	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, message, detail)
	}
	return nil
}
