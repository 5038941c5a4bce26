package models

import "github.com/smartdevs17/crm-sync-engine/pkg/utils"

// TableNameFor derives the deterministic storage table name for an object
// API name, e.g. "SalesOrder" -> "crm_salesorder".
func TableNameFor(objectAPIName string) string {
	return "crm_" + utils.SanitizeIdentifier(objectAPIName)
}

// SanitizedColumn derives the storage column name for a field API name
func SanitizedColumn(fieldAPIName string) string {
	return utils.SanitizeIdentifier(fieldAPIName)
}

// Bookkeeping columns present in every record table. These never correspond
// to CRM fields and are excluded from schema diffs and payload serialization.
var SystemColumns = map[string]bool{
	"id":              true,
	"crm_id":          true,
	"is_deleted":      true,
	"crm_modified_at": true,
	"created_at":      true,
	"updated_at":      true,
}

// IsSystemColumn reports whether name is a bookkeeping column
func IsSystemColumn(name string) bool {
	return SystemColumns[name]
}
