package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts for the metadata
// tables. Record tables are created at runtime by the schema manager and are
// deliberately absent here.
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create object_definitions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS object_definitions (
					api_name TEXT PRIMARY KEY,
					display_name TEXT NOT NULL,
					is_custom BOOLEAN DEFAULT FALSE,
					table_name TEXT,
					enabled BOOLEAN DEFAULT TRUE,
					synced BOOLEAN DEFAULT FALSE,
					last_synced_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_object_definitions_enabled ON object_definitions(enabled);
			`,
		},
		{
			Version:     "002",
			Description: "Create field_definitions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS field_definitions (
					object_api_name TEXT NOT NULL,
					api_name TEXT NOT NULL,
					display_name TEXT NOT NULL,
					field_type TEXT NOT NULL,
					storage_type TEXT NOT NULL,
					required BOOLEAN DEFAULT FALSE,
					is_custom BOOLEAN DEFAULT FALSE,
					default_value TEXT,
					options TEXT, -- JSON
					active BOOLEAN DEFAULT TRUE,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (object_api_name, api_name)
				);

				CREATE INDEX IF NOT EXISTS idx_field_definitions_active ON field_definitions(object_api_name, active);
			`,
		},
		{
			Version:     "003",
			Description: "Create change_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS change_log (
					id TEXT PRIMARY KEY,
					object_api_name TEXT NOT NULL,
					record_id TEXT NOT NULL,
					operation TEXT NOT NULL,
					old_values TEXT, -- JSON
					new_values TEXT, -- JSON
					changed_fields TEXT, -- JSON
					sync_status TEXT DEFAULT 'pending',
					attempts INTEGER DEFAULT 0,
					last_error TEXT,
					next_attempt_at DATETIME,
					changed_at DATETIME NOT NULL,
					synced_at DATETIME
				);

				CREATE INDEX IF NOT EXISTS idx_change_log_status ON change_log(sync_status, attempts);
				CREATE INDEX IF NOT EXISTS idx_change_log_changed_at ON change_log(changed_at);
				CREATE INDEX IF NOT EXISTS idx_change_log_object ON change_log(object_api_name);
			`,
		},
		{
			Version:     "004",
			Description: "Create sync_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_logs (
					id TEXT PRIMARY KEY,
					trigger_source TEXT NOT NULL,
					direction TEXT NOT NULL,
					object_api_name TEXT NOT NULL,
					record_id TEXT,
					operation TEXT,
					changed_fields TEXT, -- JSON
					before_snapshot TEXT, -- JSON
					after_snapshot TEXT, -- JSON
					payload_hash TEXT,
					processed INTEGER DEFAULT 0,
					succeeded INTEGER DEFAULT 0,
					failed INTEGER DEFAULT 0,
					duration_ms INTEGER DEFAULT 0,
					status TEXT NOT NULL,
					error TEXT,
					metadata TEXT, -- JSON
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_sync_logs_object_record ON sync_logs(object_api_name, record_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_sync_logs_status ON sync_logs(status);
				CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at);
			`,
		},
		{
			Version:     "005",
			Description: "Create sync_config table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_config (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     "006",
			Description: "Create ddl_audit table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ddl_audit (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					object_api_name TEXT NOT NULL,
					statement TEXT NOT NULL,
					success BOOLEAN NOT NULL,
					error TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_ddl_audit_object ON ddl_audit(object_api_name);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create object_definitions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS object_definitions (
					api_name TEXT PRIMARY KEY,
					display_name TEXT NOT NULL,
					is_custom BOOLEAN DEFAULT FALSE,
					table_name TEXT,
					enabled BOOLEAN DEFAULT TRUE,
					synced BOOLEAN DEFAULT FALSE,
					last_synced_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_object_definitions_enabled ON object_definitions(enabled);
			`,
		},
		{
			Version:     "002",
			Description: "Create field_definitions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS field_definitions (
					object_api_name TEXT NOT NULL,
					api_name TEXT NOT NULL,
					display_name TEXT NOT NULL,
					field_type TEXT NOT NULL,
					storage_type TEXT NOT NULL,
					required BOOLEAN DEFAULT FALSE,
					is_custom BOOLEAN DEFAULT FALSE,
					default_value TEXT,
					options TEXT,
					active BOOLEAN DEFAULT TRUE,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
					PRIMARY KEY (object_api_name, api_name)
				);

				CREATE INDEX IF NOT EXISTS idx_field_definitions_active ON field_definitions(object_api_name, active);
			`,
		},
		{
			Version:     "003",
			Description: "Create change_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS change_log (
					id TEXT PRIMARY KEY,
					object_api_name TEXT NOT NULL,
					record_id TEXT NOT NULL,
					operation TEXT NOT NULL,
					old_values TEXT,
					new_values TEXT,
					changed_fields TEXT,
					sync_status TEXT DEFAULT 'pending',
					attempts INTEGER DEFAULT 0,
					last_error TEXT,
					next_attempt_at TIMESTAMP WITH TIME ZONE,
					changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
					synced_at TIMESTAMP WITH TIME ZONE
				);

				CREATE INDEX IF NOT EXISTS idx_change_log_status ON change_log(sync_status, attempts);
				CREATE INDEX IF NOT EXISTS idx_change_log_changed_at ON change_log(changed_at);
				CREATE INDEX IF NOT EXISTS idx_change_log_object ON change_log(object_api_name);
			`,
		},
		{
			Version:     "004",
			Description: "Create sync_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_logs (
					id TEXT PRIMARY KEY,
					trigger_source TEXT NOT NULL,
					direction TEXT NOT NULL,
					object_api_name TEXT NOT NULL,
					record_id TEXT,
					operation TEXT,
					changed_fields TEXT,
					before_snapshot TEXT,
					after_snapshot TEXT,
					payload_hash TEXT,
					processed INTEGER DEFAULT 0,
					succeeded INTEGER DEFAULT 0,
					failed INTEGER DEFAULT 0,
					duration_ms BIGINT DEFAULT 0,
					status TEXT NOT NULL,
					error TEXT,
					metadata TEXT,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_sync_logs_object_record ON sync_logs(object_api_name, record_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_sync_logs_status ON sync_logs(status);
				CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at);
			`,
		},
		{
			Version:     "005",
			Description: "Create sync_config table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sync_config (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
		{
			Version:     "006",
			Description: "Create ddl_audit table",
			SQL: `
				CREATE TABLE IF NOT EXISTS ddl_audit (
					id BIGSERIAL PRIMARY KEY,
					object_api_name TEXT NOT NULL,
					statement TEXT NOT NULL,
					success BOOLEAN NOT NULL,
					error TEXT,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_ddl_audit_object ON ddl_audit(object_api_name);
			`,
		},
	}
}
