package sync

import (
	"encoding/json"

	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// flattenRecord projects a CRM record onto storage columns using the active
// field definitions. Vendor bookkeeping fields and policy-excluded fields are
// dropped; nested values (lookups, multiselects) are stored as JSON text.
func flattenRecord(fields []*models.FieldDefinition, record crm.Record, cfg *models.SyncConfig) map[string]interface{} {
	columns := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if cfg != nil && cfg.FieldExcluded(f.APIName) {
			continue
		}
		value, ok := record[f.APIName]
		if !ok {
			continue
		}
		column := f.ColumnName()
		if models.IsSystemColumn(column) {
			continue
		}
		columns[column] = normalizeValue(value)
	}
	return columns
}

// normalizeValue converts a decoded JSON value into something a SQL driver
// accepts. Composite values are re-encoded as JSON text.
func normalizeValue(value interface{}) interface{} {
	switch value.(type) {
	case nil, string, bool, float64, int, int64:
		return value
	case json.Number:
		return value.(json.Number).String()
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// payloadHashFor computes the content hash used for echo suppression. Both
// directions hash the same flattened column map, so an outbound change that
// restates an inbound write produces an identical hash.
func payloadHashFor(columns map[string]interface{}) string {
	return utils.PayloadHash(columns)
}

// snapshotJSON serializes a column map for audit snapshots
func snapshotJSON(columns map[string]interface{}) string {
	if len(columns) == 0 {
		return ""
	}
	data, err := json.Marshal(columns)
	if err != nil {
		return ""
	}
	return string(data)
}
