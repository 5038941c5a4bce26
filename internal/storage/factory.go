package storage

import (
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// NewStorage creates a storage instance based on configuration
func NewStorage(config *StorageConfig) (Storage, error) {
	switch config.Type {
	case DialectSQLite, "sqlite3":
		return NewSQLStorage(config, DialectSQLite), nil
	case DialectPostgres, "postgresql":
		return NewSQLStorage(config, DialectPostgres), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", config.Type)
	}
}
