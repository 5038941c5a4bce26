package models

import "time"

// ObjectDefinition describes a CRM object known to the sync engine. The API
// name is vendor-assigned and immutable; rows are never deleted, an object the
// vendor retires simply stays unsynced.
type ObjectDefinition struct {
	APIName      string     `json:"api_name" db:"api_name"`
	DisplayName  string     `json:"display_name" db:"display_name"`
	IsCustom     bool       `json:"is_custom" db:"is_custom"`
	TableName    string     `json:"table_name,omitempty" db:"table_name"`
	Enabled      bool       `json:"enabled" db:"enabled"`
	Synced       bool       `json:"synced" db:"synced"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// FieldType is the vendor field-type tag reported by the describe endpoint.
// The set is closed: the schema manager maps every tag through a fixed table
// and refuses to infer column types from sampled values.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextArea    FieldType = "textarea"
	FieldTypeRichText    FieldType = "richtext"
	FieldTypeNumber      FieldType = "number"
	FieldTypeDecimal     FieldType = "decimal"
	FieldTypeCurrency    FieldType = "currency"
	FieldTypePercent     FieldType = "percent"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDate        FieldType = "date"
	FieldTypeDateTime    FieldType = "datetime"
	FieldTypePicklist    FieldType = "picklist"
	FieldTypeMultiSelect FieldType = "multiselect"
	FieldTypeEmail       FieldType = "email"
	FieldTypePhone       FieldType = "phone"
	FieldTypeURL         FieldType = "url"
	FieldTypeLookup      FieldType = "lookup"
	FieldTypeUser        FieldType = "user"
	FieldTypeFile        FieldType = "file"
)

// FieldDefinition describes one field of a CRM object. The composite key is
// (object API name, field API name). Fields are never dropped from storage;
// when a field disappears from a fresh catalogue fetch its Active flag is set
// false and the backing column is left in place.
type FieldDefinition struct {
	ObjectAPIName string    `json:"object_api_name" db:"object_api_name"`
	APIName       string    `json:"api_name" db:"api_name"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	FieldType     FieldType `json:"field_type" db:"field_type"`
	StorageType   string    `json:"storage_type" db:"storage_type"`
	Required      bool      `json:"required" db:"required"`
	IsCustom      bool      `json:"is_custom" db:"is_custom"`
	DefaultValue  string    `json:"default_value,omitempty" db:"default_value"`
	Options       string    `json:"options,omitempty" db:"options"` // JSON array
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ColumnName returns the storage column backing this field
func (f *FieldDefinition) ColumnName() string {
	return SanitizedColumn(f.APIName)
}
