package crm

import (
	"encoding/json"
	"time"
)

// Envelope wraps every CRM API response. A zero error code means success;
// anything non-zero carries a vendor message and aborts the calling
// operation.
type Envelope struct {
	ErrCode int             `json:"errcode"`
	ErrMsg  string          `json:"errmsg"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Vendor error codes the engine cares about
const (
	ErrCodeOK             = 0
	ErrCodeTokenExpired   = 42001
	ErrCodeRecordNotFound = 40004
)

// ObjectDescriptor is one entry of the object-list endpoint
type ObjectDescriptor struct {
	APIName     string `json:"api_name"`
	DisplayName string `json:"display_name"`
	IsCustom    bool   `json:"is_custom"`
}

// FieldDescriptor is one entry of the object-describe endpoint
type FieldDescriptor struct {
	APIName      string   `json:"api_name"`
	DisplayName  string   `json:"display_name"`
	FieldType    string   `json:"field_type"`
	Required     bool     `json:"required"`
	IsCustom     bool     `json:"is_custom"`
	DefaultValue string   `json:"default_value,omitempty"`
	Options      []string `json:"options,omitempty"`
}

// Well-known vendor bookkeeping fields present on every record
const (
	RecordIDField       = "_id"
	RecordModifiedField = "last_modified_time"
	RecordStatusField   = "life_status"
)

// Vendor soft-delete marker written on outbound deletes
const RecordStatusInvalid = "invalid"

// Record is a CRM record as returned by the query/get endpoints
type Record map[string]interface{}

// ID returns the vendor record id, if present
func (r Record) ID() string {
	if v, ok := r[RecordIDField].(string); ok {
		return v
	}
	return ""
}

// ModifiedTime parses the vendor modification timestamp. The API reports it
// either as epoch milliseconds or as an RFC 3339 string depending on the
// endpoint version.
func (r Record) ModifiedTime() (time.Time, bool) {
	switch v := r[RecordModifiedField].(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case json.Number:
		if ms, err := v.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// authResponse is the payload of the authenticate endpoint
type authResponse struct {
	AccessToken string `json:"access_token"`
	CorpID      string `json:"corp_id"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

type objectListResponse struct {
	Objects []ObjectDescriptor `json:"objects"`
}

type describeResponse struct {
	Fields []FieldDescriptor `json:"fields"`
}

type queryResponse struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
}

type recordResponse struct {
	Record Record `json:"record"`
}

type createResponse struct {
	ID string `json:"id"`
}

// QueryOptions controls the record-query endpoint
type QueryOptions struct {
	Offset int                    `json:"offset"`
	Limit  int                    `json:"limit"`
	Filter map[string]interface{} `json:"filter,omitempty"`
}
