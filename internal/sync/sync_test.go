package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/internal/synclog"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

type vendorCall struct {
	object string
	record string
	data   map[string]interface{}
}

// fakeCRM serves canned records and captures outbound writes
type fakeCRM struct {
	records    map[string]crm.Record // object|id
	updates    []vendorCall
	creates    []vendorCall
	failWrites bool
	nextID     string
}

func key(object, id string) string { return object + "|" + id }

func (f *fakeCRM) Authenticate(ctx context.Context) error { return nil }

func (f *fakeCRM) ListObjects(ctx context.Context) ([]crm.ObjectDescriptor, error) {
	return nil, nil
}

func (f *fakeCRM) DescribeObject(ctx context.Context, objectAPIName string) ([]crm.FieldDescriptor, error) {
	return nil, nil
}

func (f *fakeCRM) QueryRecords(ctx context.Context, objectAPIName string, opts crm.QueryOptions) ([]crm.Record, int, error) {
	var keys []string
	for k := range f.records {
		if strings.HasPrefix(k, objectAPIName+"|") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	all := make([]crm.Record, 0, len(keys))
	for _, k := range keys {
		all = append(all, f.records[k])
	}
	if opts.Offset >= len(all) {
		return nil, len(all), nil
	}
	end := opts.Offset + opts.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[opts.Offset:end], len(all), nil
}

func (f *fakeCRM) GetRecord(ctx context.Context, objectAPIName, recordID string) (crm.Record, error) {
	record, ok := f.records[key(objectAPIName, recordID)]
	if !ok {
		return nil, nil
	}
	return record, nil
}

func (f *fakeCRM) CreateRecord(ctx context.Context, objectAPIName string, data map[string]interface{}) (string, error) {
	if f.failWrites {
		return "", utils.NewAppError(utils.ErrCodeCRM, "vendor rejected create", "")
	}
	f.creates = append(f.creates, vendorCall{object: objectAPIName, data: data})
	return f.nextID, nil
}

func (f *fakeCRM) UpdateRecord(ctx context.Context, objectAPIName, recordID string, data map[string]interface{}) error {
	if f.failWrites {
		return utils.NewAppError(utils.ErrCodeCRM, "vendor rejected update", "")
	}
	f.updates = append(f.updates, vendorCall{object: objectAPIName, record: recordID, data: data})
	return nil
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	store := storage.NewSQLStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	}, storage.DialectSQLite)
	if err := store.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return store
}

// setupDealObject registers the DealObj object with name/amount fields and
// its backing table
func setupDealObject(t *testing.T, store storage.Storage) {
	t.Helper()
	ctx := context.Background()

	if err := store.UpsertObjectDefinition(ctx, &models.ObjectDefinition{
		APIName:     "DealObj",
		DisplayName: "Deal",
		Enabled:     true,
	}); err != nil {
		t.Fatalf("Failed to upsert object: %v", err)
	}

	fields := []*models.FieldDefinition{
		{ObjectAPIName: "DealObj", APIName: "name", DisplayName: "Name", FieldType: models.FieldTypeText, StorageType: "TEXT"},
		{ObjectAPIName: "DealObj", APIName: "amount", DisplayName: "Amount", FieldType: models.FieldTypeCurrency, StorageType: "REAL"},
	}
	for _, f := range fields {
		if err := store.UpsertFieldDefinition(ctx, f); err != nil {
			t.Fatalf("Failed to upsert field: %v", err)
		}
	}

	ddl := `CREATE TABLE crm_dealobj (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crm_id TEXT NOT NULL UNIQUE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		crm_modified_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		name TEXT,
		amount REAL
	)`
	if err := store.ExecDDL(ctx, "DealObj", ddl); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	if err := store.SetObjectTableName(ctx, "DealObj", "crm_dealobj"); err != nil {
		t.Fatalf("Failed to set table name: %v", err)
	}
}

func newEngine(t *testing.T, client *fakeCRM) (storage.Storage, *Inbound, *Capture, *Outbox) {
	t.Helper()
	store := newTestStorage(t)
	setupDealObject(t, store)
	syncLog := synclog.NewLogger(store)
	inbound := NewInbound(client, store, syncLog)
	capture := NewCapture(store)
	outbox := NewOutbox(store, NewWriter(client, store, syncLog))
	return store, inbound, capture, outbox
}

func msTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// disableDedup turns off duplicate suppression so every notification reaches
// the timestamp comparison
func disableDedup(t *testing.T, store storage.Storage) {
	t.Helper()
	ctx := context.Background()
	cfg, err := store.LoadSyncConfig(ctx)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	cfg.DedupWindow = 0
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
}

func TestNotificationAppliesFreshRecord(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{
		key("DealObj", "d1"): {"_id": "d1", "name": "Acme deal", "amount": 1200.0, "last_modified_time": float64(100_000)},
	}}
	store, inbound, _, _ := newEngine(t, client)
	ctx := context.Background()

	result, err := inbound.HandleNotification(ctx, &models.InboundNotification{
		Event:         models.NotificationCreated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	})
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}

	values, err := store.GetRecordValues(ctx, "crm_dealobj", "d1", []string{"name", "amount"})
	if err != nil {
		t.Fatalf("Failed to read record: %v", err)
	}
	if values["name"] != "Acme deal" {
		t.Fatalf("Record not stored: %+v", values)
	}

	meta, _ := store.GetRecordMeta(ctx, "crm_dealobj", "d1")
	if meta.ModifiedAt == nil || !meta.ModifiedAt.Equal(msTime(100_000)) {
		t.Fatalf("Modification time not stored: %+v", meta)
	}

	t.Log("✓ Fresh record fetched and stored")
}

func TestMostRecentWriteWins(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{
		key("DealObj", "d1"): {"_id": "d1", "name": "v1", "last_modified_time": float64(100_000)},
	}}
	store, inbound, _, _ := newEngine(t, client)
	disableDedup(t, store)
	ctx := context.Background()
	notification := &models.InboundNotification{
		Event:         models.NotificationUpdated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	}

	if _, err := inbound.HandleNotification(ctx, notification); err != nil {
		t.Fatalf("Initial apply failed: %v", err)
	}

	// Same timestamp: stored state already reflects it, skip
	client.records[key("DealObj", "d1")] = crm.Record{
		"_id": "d1", "name": "v1-echo", "last_modified_time": float64(100_000),
	}
	result, err := inbound.HandleNotification(ctx, notification)
	if err != nil {
		t.Fatalf("Equal-timestamp apply failed: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("Equal timestamp must skip, got %+v", result)
	}

	// Older timestamp: skip
	client.records[key("DealObj", "d1")] = crm.Record{
		"_id": "d1", "name": "stale", "last_modified_time": float64(50_000),
	}
	result, _ = inbound.HandleNotification(ctx, notification)
	if !result.Skipped {
		t.Fatalf("Older timestamp must skip, got %+v", result)
	}

	// Strictly newer: applied
	client.records[key("DealObj", "d1")] = crm.Record{
		"_id": "d1", "name": "v2", "last_modified_time": float64(150_000),
	}
	result, _ = inbound.HandleNotification(ctx, notification)
	if !result.Success {
		t.Fatalf("Newer timestamp must apply, got %+v", result)
	}

	t.Log("✓ Strictly-newer comparison verified")
}

func TestNotificationSoftDeletes(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{
		key("DealObj", "d1"): {"_id": "d1", "name": "doomed", "last_modified_time": float64(100_000)},
	}}
	store, inbound, _, _ := newEngine(t, client)
	disableDedup(t, store)
	ctx := context.Background()
	notification := &models.InboundNotification{
		Event:         models.NotificationUpdated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	}

	if _, err := inbound.HandleNotification(ctx, notification); err != nil {
		t.Fatalf("Initial apply failed: %v", err)
	}

	// Vendor flips life status to invalid
	client.records[key("DealObj", "d1")] = crm.Record{
		"_id": "d1", "life_status": "invalid", "last_modified_time": float64(200_000),
	}
	notification.Event = models.NotificationDeleted
	result, err := inbound.HandleNotification(ctx, notification)
	if err != nil {
		t.Fatalf("Delete handling failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected delete applied, got %+v", result)
	}

	meta, _ := store.GetRecordMeta(ctx, "crm_dealobj", "d1")
	if !meta.Deleted {
		t.Fatal("Record not soft-deleted")
	}

	// The audit entry keeps the row state as it was before the tombstone
	entries, err := store.QuerySyncLogs(ctx, &models.SyncLogFilter{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Status:        models.SyncStatusSuccess,
	})
	if err != nil {
		t.Fatalf("Failed to query sync logs: %v", err)
	}
	var deleteEntry *models.SyncLogEntry
	for _, e := range entries {
		if e.Operation == string(models.ChangeOpDelete) {
			deleteEntry = e
		}
	}
	if deleteEntry == nil {
		t.Fatalf("No delete audit entry: %+v", entries)
	}
	if !strings.Contains(deleteEntry.BeforeSnapshot, "doomed") {
		t.Fatalf("Delete entry missing prior state: %q", deleteEntry.BeforeSnapshot)
	}

	// Record hard-deleted upstream and unknown locally: skip, no error
	notification.ObjectID = "never-seen"
	result, err = inbound.HandleNotification(ctx, notification)
	if err != nil {
		t.Fatalf("Unknown record delete errored: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("Unknown record delete should skip: %+v", result)
	}
}

func TestNotificationDefersDuringBulk(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	store, inbound, _, _ := newEngine(t, client)
	ctx := context.Background()

	// Simulate a running bulk pull
	if err := store.SaveSyncLog(ctx, &models.SyncLogEntry{
		TriggerSource: models.TriggerScheduled,
		Direction:     models.DirectionInbound,
		ObjectAPIName: "DealObj",
		Status:        models.SyncStatusInProgress,
	}); err != nil {
		t.Fatalf("Failed to seed in-progress entry: %v", err)
	}

	result, err := inbound.HandleNotification(ctx, &models.InboundNotification{
		Event:         models.NotificationUpdated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	})
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if !result.Skipped || result.Reason != "bulk sync in progress" {
		t.Fatalf("Expected deferral, got %+v", result)
	}
}

func TestBulkPullReconcilesAllRecords(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("d%d", i)
		client.records[key("DealObj", id)] = crm.Record{
			"_id": id, "name": fmt.Sprintf("deal %d", i), "last_modified_time": float64(100_000 + i),
		}
	}
	store, inbound, _, _ := newEngine(t, client)
	ctx := context.Background()

	// Small batches force paging
	cfg, _ := store.LoadSyncConfig(ctx)
	cfg.BatchSize = 3
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	entry, err := inbound.BulkPull(ctx, "DealObj", models.TriggerManual)
	if err != nil {
		t.Fatalf("BulkPull failed: %v", err)
	}
	if entry.Processed != 7 || entry.Succeeded != 7 || entry.Status != models.SyncStatusSuccess {
		t.Fatalf("Unexpected bulk result: %+v", entry)
	}

	count, _ := store.CountRecords(ctx, "crm_dealobj")
	if count != 7 {
		t.Fatalf("Expected 7 stored records, got %d", count)
	}
}

func TestCaptureAndDrainPropagates(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}, nextID: "vendor-9"}
	store, _, capture, outbox := newEngine(t, client)
	ctx := context.Background()

	// Local update of a record that came from the CRM earlier
	if err := store.UpsertRecord(ctx, "crm_dealobj", "d1",
		map[string]interface{}{"name": "old name"}, msTime(100_000)); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpUpdate,
		Values:        map[string]interface{}{"name": "new name"},
	})
	if err != nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}
	if entry == nil || entry.Operation != models.ChangeOpUpdate {
		t.Fatalf("Unexpected entry: %+v", entry)
	}

	result, err := outbox.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("Expected 1 propagated, got %+v", result)
	}
	if len(client.updates) != 1 || client.updates[0].data["name"] != "new name" {
		t.Fatalf("Vendor update missing: %+v", client.updates)
	}

	got, _ := store.GetChangeLog(ctx, entry.ID)
	if got.SyncStatus != models.ChangeStatusCompleted {
		t.Fatalf("Entry not completed: %s", got.SyncStatus)
	}

	t.Log("✓ Local change propagated upstream")
}

func TestCaptureInsertRebindsVendorID(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}, nextID: "vendor-1"}
	store, _, capture, outbox := newEngine(t, client)
	ctx := context.Background()

	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		Operation:     models.ChangeOpInsert,
		Values:        map[string]interface{}{"name": "born local", "amount": 10.0},
	})
	if err != nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}
	if entry == nil || entry.RecordID == "" {
		t.Fatal("Insert did not get a provisional id")
	}

	if _, err := outbox.ProcessPending(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(client.creates) != 1 {
		t.Fatalf("Vendor create missing: %+v", client.creates)
	}

	// Row now lives under the vendor id
	meta, _ := store.GetRecordMeta(ctx, "crm_dealobj", "vendor-1")
	if meta == nil {
		t.Fatal("Record not rebound to vendor id")
	}
	old, _ := store.GetRecordMeta(ctx, "crm_dealobj", entry.RecordID)
	if old != nil {
		t.Fatal("Provisional id still present")
	}
}

func TestCaptureDeleteSendsStatusFlip(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	store, _, capture, outbox := newEngine(t, client)
	ctx := context.Background()

	if err := store.UpsertRecord(ctx, "crm_dealobj", "d1",
		map[string]interface{}{"name": "doomed"}, msTime(100_000)); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpDelete,
	})
	if err != nil || entry == nil {
		t.Fatalf("CaptureChange failed: %v %+v", err, entry)
	}

	meta, _ := store.GetRecordMeta(ctx, "crm_dealobj", "d1")
	if !meta.Deleted {
		t.Fatal("Local row not soft-deleted")
	}

	if _, err := outbox.ProcessPending(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(client.updates) != 1 || client.updates[0].data["life_status"] != "invalid" {
		t.Fatalf("Expected life_status flip, got %+v", client.updates)
	}
}

func TestCaptureEmptyDeltaIsNoop(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	store, _, capture, _ := newEngine(t, client)
	ctx := context.Background()

	if err := store.UpsertRecord(ctx, "crm_dealobj", "d1",
		map[string]interface{}{"name": "same"}, msTime(100_000)); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpUpdate,
		Values:        map[string]interface{}{"name": "same"},
	})
	if err != nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("Empty delta produced an entry: %+v", entry)
	}

	stats, _ := store.GetStorageStats(ctx)
	if stats.PendingChanges != 0 {
		t.Fatalf("Outbox not empty: %d", stats.PendingChanges)
	}
}

func TestExcludedFieldsDropFromDelta(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	store, _, capture, _ := newEngine(t, client)
	ctx := context.Background()

	cfg, _ := store.LoadSyncConfig(ctx)
	cfg.ExcludedFields = []string{"amount"}
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if err := store.UpsertRecord(ctx, "crm_dealobj", "d1",
		map[string]interface{}{"name": "same", "amount": 1.0}, msTime(100_000)); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	// Only the excluded field changed: no capture
	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpUpdate,
		Values:        map[string]interface{}{"name": "same", "amount": 999.0},
	})
	if err != nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}
	if entry != nil {
		t.Fatalf("Excluded-only delta produced an entry: %+v", entry)
	}
}

func TestNotificationSuppressesOutboundEcho(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	store, inbound, capture, outbox := newEngine(t, client)
	ctx := context.Background()

	if err := store.UpsertRecord(ctx, "crm_dealobj", "d1",
		map[string]interface{}{"name": "old name"}, msTime(100_000)); err != nil {
		t.Fatalf("Failed to seed record: %v", err)
	}

	// Local edit pushed upstream
	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpUpdate,
		Values:        map[string]interface{}{"name": "edited locally"},
	})
	if err != nil || entry == nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}
	drained, err := outbox.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if drained.Succeeded != 1 {
		t.Fatalf("Expected 1 propagated, got %+v", drained)
	}

	// The vendor announces our own write back, timestamped after its commit
	client.records[key("DealObj", "d1")] = crm.Record{
		"_id": "d1", "name": "edited locally",
		"last_modified_time": float64(time.Now().UnixMilli()),
	}
	result, err := inbound.HandleNotification(ctx, &models.InboundNotification{
		Event:         models.NotificationUpdated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	})
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if !result.Skipped || result.Reason != "record synced within dedup window" {
		t.Fatalf("Own write echoed back must skip, got %+v", result)
	}

	t.Log("✓ Notification for our own write dropped without a fetch")
}

func TestNotificationSuppressesDuplicateDelivery(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{
		key("DealObj", "d1"): {"_id": "d1", "name": "v1", "last_modified_time": float64(100_000)},
	}}
	_, inbound, _, _ := newEngine(t, client)
	ctx := context.Background()
	notification := &models.InboundNotification{
		Event:         models.NotificationUpdated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	}

	result, err := inbound.HandleNotification(ctx, notification)
	if err != nil || !result.Success {
		t.Fatalf("Initial apply failed: %v %+v", err, result)
	}

	// Redelivery inside the dedup window never reaches the vendor fetch
	result, err = inbound.HandleNotification(ctx, notification)
	if err != nil {
		t.Fatalf("Redelivery failed: %v", err)
	}
	if !result.Skipped || result.Reason != "record synced within dedup window" {
		t.Fatalf("Duplicate delivery must skip, got %+v", result)
	}
}

func TestRetryBackoffBounds(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute},
		{100, 15 * time.Minute},
	}
	for _, c := range cases {
		if got := retryBackoff(c.attempts); got != c.want {
			t.Errorf("retryBackoff(%d) = %s, want %s", c.attempts, got, c.want)
		}
	}
}

func TestEchoSuppression(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}}
	store, inbound, capture, outbox := newEngine(t, client)
	ctx := context.Background()

	// Local write captured before the CRM's own notification arrives
	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpInsert,
		Values:        map[string]interface{}{"name": "shared state"},
	})
	if err != nil || entry == nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}

	// The identical state arrives inbound (the notification round trip) and
	// is applied, stamping the payload hash in the audit log
	client.records[key("DealObj", entry.RecordID)] = crm.Record{
		"_id": entry.RecordID, "name": "shared state", "last_modified_time": float64(500_000),
	}
	if _, err := inbound.HandleNotification(ctx, &models.InboundNotification{
		Event:         models.NotificationUpdated,
		ObjectAPIName: "DealObj",
		ObjectID:      entry.RecordID,
	}); err != nil {
		t.Fatalf("Inbound apply failed: %v", err)
	}

	// Draining the outbox now must suppress the echo, not call the vendor
	result, err := outbox.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Skipped != 1 || result.Succeeded != 0 {
		t.Fatalf("Echo not suppressed: %+v", result)
	}
	if len(client.creates) != 0 && len(client.updates) != 0 {
		t.Fatalf("Vendor called despite echo: creates=%d updates=%d", len(client.creates), len(client.updates))
	}

	got, _ := store.GetChangeLog(ctx, entry.ID)
	if got.SyncStatus != models.ChangeStatusSkipped {
		t.Fatalf("Entry not skipped: %s", got.SyncStatus)
	}

	t.Log("✓ Inbound echo suppressed within dedup window")
}

func TestRetryCapIsTerminal(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{}, failWrites: true}
	store, _, capture, outbox := newEngine(t, client)
	ctx := context.Background()

	cfg, _ := store.LoadSyncConfig(ctx)
	cfg.MaxRetries = 1
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	entry, err := capture.CaptureChange(ctx, &LocalChange{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpInsert,
		Values:        map[string]interface{}{"name": "unlucky"},
	})
	if err != nil || entry == nil {
		t.Fatalf("CaptureChange failed: %v", err)
	}

	result, err := outbox.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("Expected 1 failure, got %+v", result)
	}

	got, _ := store.GetChangeLog(ctx, entry.ID)
	if got.SyncStatus != models.ChangeStatusFailed || got.Attempts != 1 {
		t.Fatalf("Entry not terminal at cap: status=%s attempts=%d", got.SyncStatus, got.Attempts)
	}
	if got.LastError == "" {
		t.Error("Final error not recorded")
	}

	// Later passes never pick it up again
	client.failWrites = false
	result, _ = outbox.ProcessPending(ctx)
	if result.Processed != 0 {
		t.Fatalf("Exhausted entry reprocessed: %+v", result)
	}

	t.Log("✓ Entry at retry cap is terminal")
}

func TestDisabledObjectSkipsBothDirections(t *testing.T) {
	client := &fakeCRM{records: map[string]crm.Record{
		key("DealObj", "d1"): {"_id": "d1", "name": "x", "last_modified_time": float64(100_000)},
	}}
	store, inbound, _, outbox := newEngine(t, client)
	ctx := context.Background()

	cfg, _ := store.LoadSyncConfig(ctx)
	cfg.Objects = map[string]bool{"DealObj": false}
	if err := store.SaveSyncConfig(ctx, cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	result, err := inbound.HandleNotification(ctx, &models.InboundNotification{
		Event:         models.NotificationCreated,
		ObjectAPIName: "DealObj",
		ObjectID:      "d1",
	})
	if err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("Disabled object not skipped inbound: %+v", result)
	}

	// Seed a pending entry directly, then drain
	pending := &models.ChangeLogEntry{
		ObjectAPIName: "DealObj",
		RecordID:      "d1",
		Operation:     models.ChangeOpUpdate,
		NewValues:     `{"name":"y"}`,
	}
	if err := store.AppendChangeLog(ctx, pending); err != nil {
		t.Fatalf("Failed to seed change: %v", err)
	}
	drain, err := outbox.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if drain.Skipped != 1 {
		t.Fatalf("Disabled object not skipped outbound: %+v", drain)
	}
}
