package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func envelope(t *testing.T, w http.ResponseWriter, errcode int, errmsg string, data interface{}) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("Failed to encode test payload: %v", err)
		}
		raw = encoded
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Envelope{ErrCode: errcode, ErrMsg: errmsg, Data: raw})
}

func newTestClient(server *httptest.Server) *HTTPClient {
	return NewHTTPClient(&ClientConfig{
		BaseURL:        server.URL,
		AppID:          "app-1",
		AppSecret:      "secret",
		RequestTimeout: 5 * time.Second,
	})
}

func TestAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["app_id"] != "app-1" || body["app_secret"] != "secret" {
			t.Errorf("Credentials not forwarded: %v", body)
		}
		envelope(t, w, 0, "", authResponse{AccessToken: "tok-1", CorpID: "corp-1", ExpiresIn: 7200})
	}))
	defer server.Close()

	client := newTestClient(server)
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if client.accessToken != "tok-1" || client.corpID != "corp-1" {
		t.Fatalf("Token state not stored: %s %s", client.accessToken, client.corpID)
	}
}

func TestTokenExpiredRetry(t *testing.T) {
	var authCalls, listCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			authCalls++
			envelope(t, w, 0, "", authResponse{AccessToken: "tok", CorpID: "corp", ExpiresIn: 7200})
		case "/objects":
			listCalls++
			if listCalls == 1 {
				envelope(t, w, ErrCodeTokenExpired, "token expired", nil)
				return
			}
			envelope(t, w, 0, "", objectListResponse{Objects: []ObjectDescriptor{{APIName: "AccountObj"}}})
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	objects, err := client.ListObjects(context.Background())
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 1 || objects[0].APIName != "AccountObj" {
		t.Fatalf("Unexpected objects: %+v", objects)
	}
	if listCalls != 2 {
		t.Errorf("Expected exactly one retry, got %d list calls", listCalls)
	}
	if authCalls != 2 {
		t.Errorf("Expected re-authentication before retry, got %d auth calls", authCalls)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			envelope(t, w, 0, "", authResponse{AccessToken: "tok", CorpID: "corp", ExpiresIn: 7200})
			return
		}
		envelope(t, w, ErrCodeRecordNotFound, "record not found", nil)
	}))
	defer server.Close()

	record, err := newTestClient(server).GetRecord(context.Background(), "AccountObj", "gone")
	if err != nil {
		t.Fatalf("Expected nil error for not-found, got %v", err)
	}
	if record != nil {
		t.Fatalf("Expected nil record, got %+v", record)
	}
}

func TestVendorErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			envelope(t, w, 0, "", authResponse{AccessToken: "tok", CorpID: "corp", ExpiresIn: 7200})
			return
		}
		envelope(t, w, 50001, "internal vendor error", nil)
	}))
	defer server.Close()

	_, err := newTestClient(server).DescribeObject(context.Background(), "AccountObj")
	if err == nil {
		t.Fatal("Expected error for non-zero errcode")
	}
}

func TestQueryRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			envelope(t, w, 0, "", authResponse{AccessToken: "tok", CorpID: "corp", ExpiresIn: 7200})
		case "/objects/DealObj/records/query":
			var opts QueryOptions
			json.NewDecoder(r.Body).Decode(&opts)
			if opts.Limit != 2 {
				t.Errorf("Limit not forwarded: %d", opts.Limit)
			}
			envelope(t, w, 0, "", queryResponse{
				Records: []Record{
					{"_id": "r1", "name": "one", "last_modified_time": float64(1700000000000)},
					{"_id": "r2", "name": "two"},
				},
				Total: 5,
			})
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	records, total, err := newTestClient(server).QueryRecords(context.Background(), "DealObj",
		QueryOptions{Limit: 2})
	if err != nil {
		t.Fatalf("QueryRecords failed: %v", err)
	}
	if total != 5 || len(records) != 2 {
		t.Fatalf("Unexpected page: total=%d records=%d", total, len(records))
	}
	if records[0].ID() != "r1" {
		t.Errorf("Record id not parsed: %s", records[0].ID())
	}
	if _, ok := records[0].ModifiedTime(); !ok {
		t.Error("Epoch-ms modification time not parsed")
	}
}

func TestRecordModifiedTimeFormats(t *testing.T) {
	epoch := Record{"last_modified_time": float64(1700000000000)}
	if ts, ok := epoch.ModifiedTime(); !ok || ts.Year() != 2023 {
		t.Errorf("Epoch-ms parse failed: %v %v", ts, ok)
	}

	rfc := Record{"last_modified_time": "2026-03-01T12:00:00Z"}
	if ts, ok := rfc.ModifiedTime(); !ok || !ts.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("RFC 3339 parse failed: %v %v", ts, ok)
	}

	if _, ok := (Record{}).ModifiedTime(); ok {
		t.Error("Missing timestamp should not parse")
	}
}
