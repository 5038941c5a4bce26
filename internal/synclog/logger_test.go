package synclog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
)

func newTestLogger(t *testing.T) *Logger {
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
	return NewLogger(store)
}

func inboundWrite(object, recordID, hash string, createdAt time.Time) *models.SyncLogEntry {
	return &models.SyncLogEntry{
		TriggerSource: models.TriggerWebhook,
		Direction:     models.DirectionInbound,
		ObjectAPIName: object,
		RecordID:      recordID,
		Operation:     "update",
		PayloadHash:   hash,
		Processed:     1,
		Succeeded:     1,
		Status:        models.SyncStatusSuccess,
		CreatedAt:     createdAt,
	}
}

func TestHasRecentInboundWrite(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := log.Record(ctx, inboundWrite("DealObj", "d1", "hash-a", now)); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	found, err := log.HasRecentInboundWrite(ctx, "DealObj", "d1", "hash-a", 30*time.Second)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found {
		t.Fatal("Expected recent inbound write to be found")
	}

	// Different hash: the local change carries different content
	found, _ = log.HasRecentInboundWrite(ctx, "DealObj", "d1", "hash-b", 30*time.Second)
	if found {
		t.Fatal("Different payload hash must not match")
	}

	// Different record
	found, _ = log.HasRecentInboundWrite(ctx, "DealObj", "d2", "hash-a", 30*time.Second)
	if found {
		t.Fatal("Different record must not match")
	}

	// Empty hash never matches anything
	found, _ = log.HasRecentInboundWrite(ctx, "DealObj", "d1", "", 30*time.Second)
	if found {
		t.Fatal("Empty payload hash must not match")
	}

	t.Log("✓ Echo lookup keyed on object, record and payload hash")
}

func TestHasRecentInboundWriteWindowExpiry(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-2 * time.Minute)
	if err := log.Record(ctx, inboundWrite("DealObj", "d1", "hash-a", stale)); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	found, err := log.HasRecentInboundWrite(ctx, "DealObj", "d1", "hash-a", 30*time.Second)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if found {
		t.Fatal("Write outside the dedup window must not match")
	}

	// A wider window reaches it again
	found, _ = log.HasRecentInboundWrite(ctx, "DealObj", "d1", "hash-a", time.Hour)
	if !found {
		t.Fatal("Write inside a wider window should match")
	}
}

func TestHasRecentInboundWriteIgnoresOutbound(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()

	entry := inboundWrite("DealObj", "d1", "hash-a", time.Now().UTC())
	entry.Direction = models.DirectionOutbound
	entry.TriggerSource = models.TriggerOutbox
	if err := log.Record(ctx, entry); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	found, err := log.HasRecentInboundWrite(ctx, "DealObj", "d1", "hash-a", 30*time.Second)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if found {
		t.Fatal("Outbound entries must not suppress outbound propagation")
	}
}

func TestHasRecentInboundWriteBehindOutbound(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// An inbound apply followed by a newer outbound entry for the same
	// record: the inbound row must still be found
	if err := log.Record(ctx, inboundWrite("DealObj", "d1", "hash-a", now.Add(-10*time.Second))); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}
	newer := inboundWrite("DealObj", "d1", "hash-a", now)
	newer.Direction = models.DirectionOutbound
	newer.TriggerSource = models.TriggerOutbox
	if err := log.Record(ctx, newer); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	found, err := log.HasRecentInboundWrite(ctx, "DealObj", "d1", "hash-a", 30*time.Second)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found {
		t.Fatal("Inbound write hidden behind a newer outbound entry")
	}
}

func TestHasRecentSuccess(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	outbound := inboundWrite("DealObj", "d1", "hash-a", now)
	outbound.Direction = models.DirectionOutbound
	outbound.TriggerSource = models.TriggerOutbox
	if err := log.Record(ctx, outbound); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	// Either direction counts: a fresh outbound success suppresses the echo
	found, err := log.HasRecentSuccess(ctx, "DealObj", "d1", 30*time.Second)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found {
		t.Fatal("Expected recent outbound success to be found")
	}

	// Other records and expired windows do not
	found, _ = log.HasRecentSuccess(ctx, "DealObj", "d2", 30*time.Second)
	if found {
		t.Fatal("Different record must not match")
	}

	stale := inboundWrite("DealObj", "d3", "hash-b", now.Add(-2*time.Minute))
	if err := log.Record(ctx, stale); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}
	found, _ = log.HasRecentSuccess(ctx, "DealObj", "d3", 30*time.Second)
	if found {
		t.Fatal("Success outside the window must not match")
	}

	// Skips and failures are not successes
	skipped := inboundWrite("DealObj", "d4", "", now)
	skipped.Succeeded = 0
	skipped.Status = models.SyncStatusSkipped
	if err := log.Record(ctx, skipped); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}
	found, _ = log.HasRecentSuccess(ctx, "DealObj", "d4", 30*time.Second)
	if found {
		t.Fatal("Skipped entry must not suppress a notification")
	}

	t.Log("✓ Loop suppression keyed on object, record, status and window")
}

func TestHasInProgressBulk(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()

	entry := &models.SyncLogEntry{
		TriggerSource: models.TriggerScheduled,
		Direction:     models.DirectionInbound,
		ObjectAPIName: "DealObj",
		Status:        models.SyncStatusInProgress,
	}
	if err := log.Record(ctx, entry); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	running, err := log.HasInProgressBulk(ctx, "DealObj", 10*time.Minute)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !running {
		t.Fatal("Expected running bulk pull to be detected")
	}

	// Other objects are unaffected
	running, _ = log.HasInProgressBulk(ctx, "AccountObj", 10*time.Minute)
	if running {
		t.Fatal("Bulk detection leaked across objects")
	}

	// Finalizing the entry clears the signal
	entry.Status = models.SyncStatusSuccess
	if err := log.Record(ctx, entry); err != nil {
		t.Fatalf("Failed to finalize entry: %v", err)
	}
	running, _ = log.HasInProgressBulk(ctx, "DealObj", 10*time.Minute)
	if running {
		t.Fatal("Finished bulk pull still detected")
	}

	t.Log("✓ Bulk collision detection tracks in-progress entries")
}

func TestHasInProgressBulkStaleness(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()

	// An entry abandoned by a crashed pass ages out of the window
	entry := &models.SyncLogEntry{
		TriggerSource: models.TriggerScheduled,
		Direction:     models.DirectionInbound,
		ObjectAPIName: "DealObj",
		Status:        models.SyncStatusInProgress,
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
	}
	if err := log.Record(ctx, entry); err != nil {
		t.Fatalf("Failed to record entry: %v", err)
	}

	running, err := log.HasInProgressBulk(ctx, "DealObj", 10*time.Minute)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if running {
		t.Fatal("Stale in-progress entry must not block notifications forever")
	}
}

func TestCleanup(t *testing.T) {
	log := newTestLogger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{0, time.Hour, 48 * time.Hour, 96 * time.Hour} {
		entry := inboundWrite("DealObj", "d1", "", now.Add(-age))
		entry.RecordID = entry.RecordID + string(rune('a'+i))
		if err := log.Record(ctx, entry); err != nil {
			t.Fatalf("Failed to record entry: %v", err)
		}
	}

	deleted, err := log.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("Expected 2 pruned entries, got %d", deleted)
	}

	remaining, err := log.Query(ctx, &models.SyncLogFilter{ObjectAPIName: "DealObj", Limit: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("Expected 2 remaining entries, got %d", len(remaining))
	}
}
