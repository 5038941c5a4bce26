package schema

import (
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
)

// sqliteTypes and postgresTypes are the fixed vendor-type to column-type
// tables. Column types are never inferred from sampled values; a vendor tag
// missing from these tables is an unsupported field and is skipped.
var sqliteTypes = map[models.FieldType]string{
	models.FieldTypeText:        "TEXT",
	models.FieldTypeTextArea:    "TEXT",
	models.FieldTypeRichText:    "TEXT",
	models.FieldTypeNumber:      "INTEGER",
	models.FieldTypeDecimal:     "REAL",
	models.FieldTypeCurrency:    "REAL",
	models.FieldTypePercent:     "REAL",
	models.FieldTypeBoolean:     "BOOLEAN",
	models.FieldTypeDate:        "DATE",
	models.FieldTypeDateTime:    "DATETIME",
	models.FieldTypePicklist:    "TEXT",
	models.FieldTypeMultiSelect: "TEXT",
	models.FieldTypeEmail:       "TEXT",
	models.FieldTypePhone:       "TEXT",
	models.FieldTypeURL:         "TEXT",
	models.FieldTypeLookup:      "TEXT",
	models.FieldTypeUser:        "TEXT",
	models.FieldTypeFile:        "TEXT",
}

var postgresTypes = map[models.FieldType]string{
	models.FieldTypeText:        "TEXT",
	models.FieldTypeTextArea:    "TEXT",
	models.FieldTypeRichText:    "TEXT",
	models.FieldTypeNumber:      "BIGINT",
	models.FieldTypeDecimal:     "NUMERIC",
	models.FieldTypeCurrency:    "NUMERIC",
	models.FieldTypePercent:     "NUMERIC",
	models.FieldTypeBoolean:     "BOOLEAN",
	models.FieldTypeDate:        "DATE",
	models.FieldTypeDateTime:    "TIMESTAMP WITH TIME ZONE",
	models.FieldTypePicklist:    "TEXT",
	models.FieldTypeMultiSelect: "TEXT",
	models.FieldTypeEmail:       "TEXT",
	models.FieldTypePhone:       "TEXT",
	models.FieldTypeURL:         "TEXT",
	models.FieldTypeLookup:      "TEXT",
	models.FieldTypeUser:        "TEXT",
	models.FieldTypeFile:        "TEXT",
}

// StorageType maps a vendor field type to a column type for the dialect.
// The second return is false for unknown vendor tags.
func StorageType(fieldType models.FieldType, dialect string) (string, bool) {
	table := sqliteTypes
	if dialect == storage.DialectPostgres {
		table = postgresTypes
	}
	columnType, ok := table[fieldType]
	return columnType, ok
}
