package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/postcast/internal/delivery"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "postcast.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func fixedClock(st *Store, at time.Time) *time.Time {
	now := at
	st.now = func() time.Time { return now }
	return &now
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.Record(ctx, "C1", delivery.Tag{EventType: "blogpost_summary", ID: "5", Trigger: delivery.TriggerScheduled}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()

	c, err := again.LastCursor(ctx, "C1", "blogpost_summary")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "5" {
		t.Errorf("cursor after reopen = %+v", c)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecord_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		channel string
		tag     delivery.Tag
	}{
		{"no channel", "", delivery.Tag{EventType: "x", ID: "1", Trigger: delivery.TriggerScheduled}},
		{"no event type", "C1", delivery.Tag{ID: "1", Trigger: delivery.TriggerScheduled}},
		{"no trigger", "C1", delivery.Tag{EventType: "x", ID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := st.Record(ctx, tt.channel, tt.tag); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLastCursor(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	records := []delivery.Tag{
		{EventType: "blogpost_summary", ID: "6", Trigger: delivery.TriggerScheduled},
		{EventType: "blogpost_summary", ID: "7", Trigger: delivery.TriggerScheduled},
		{EventType: "vendor_blogpost", Date: "2023-03-28", Trigger: delivery.TriggerScheduled},
		{EventType: delivery.EventNotification, ID: "uuid", Trigger: delivery.TriggerScheduled},
		{EventType: "blogpost_summary", ID: "9", Trigger: delivery.TriggerRequested},
	}
	for _, r := range records {
		if err := st.Record(ctx, "C1", r); err != nil {
			t.Fatalf("record %+v: %v", r, err)
		}
	}
	if err := st.Record(ctx, "C2", delivery.Tag{EventType: "blogpost_summary", ID: "100", Trigger: delivery.TriggerScheduled}); err != nil {
		t.Fatal(err)
	}

	c, err := st.LastCursor(ctx, "C1", "blogpost_summary")
	if err != nil {
		t.Fatal(err)
	}
	if c != (delivery.Cursor{ID: "7"}) {
		t.Errorf("cursor = %+v, want id 7", c)
	}

	c, err = st.LastCursor(ctx, "C1", "vendor_blogpost")
	if err != nil {
		t.Fatal(err)
	}
	if c != (delivery.Cursor{Date: "2023-03-28"}) {
		t.Errorf("date cursor = %+v", c)
	}

	c, err = st.LastCursor(ctx, "C3", "blogpost_summary")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsZero() {
		t.Errorf("unknown channel cursor = %+v, want none", c)
	}
}

func TestHistory(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	clock := fixedClock(st, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	for _, id := range []string{"1", "2", "3"} {
		if err := st.Record(ctx, "C1", delivery.Tag{EventType: "blogpost_summary", ID: id, Trigger: delivery.TriggerScheduled}); err != nil {
			t.Fatal(err)
		}
		*clock = clock.Add(time.Hour)
	}
	if err := st.Record(ctx, "C2", delivery.Tag{EventType: "vendor_blogpost", Date: "2023-03-29", Trigger: delivery.TriggerRequested}); err != nil {
		t.Fatal(err)
	}

	got, err := st.History(ctx, "C1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].PayloadID != "3" || got[1].PayloadID != "2" {
		t.Fatalf("history = %+v, want newest first [3 2]", got)
	}
	if !got[0].DeliveredAt.Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("delivered_at = %v", got[0].DeliveredAt)
	}
	if got[0].Tag() != (delivery.Tag{EventType: "blogpost_summary", ID: "3", Trigger: delivery.TriggerScheduled}) {
		t.Errorf("tag = %+v", got[0].Tag())
	}

	all, err := st.History(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Channel != "C2" || all[0].Trigger != delivery.TriggerRequested {
		t.Errorf("all history = %+v", all)
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := fixedClock(st, now.AddDate(0, 0, -60))

	for _, id := range []string{"1", "2"} {
		if err := st.Record(ctx, "C1", delivery.Tag{EventType: "blogpost_summary", ID: id, Trigger: delivery.TriggerScheduled}); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Record(ctx, "C1", delivery.Tag{EventType: "blogpost_summary", ID: "r", Trigger: delivery.TriggerRequested}); err != nil {
		t.Fatal(err)
	}
	*clock = now.Add(-time.Hour)
	if err := st.Record(ctx, "C1", delivery.Tag{EventType: "vendor_blogpost", Date: "2026-02-28", Trigger: delivery.TriggerScheduled}); err != nil {
		t.Fatal(err)
	}
	*clock = now

	pruned, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2 (old id 1 and old requested)", pruned)
	}

	c, err := st.LastCursor(ctx, "C1", "blogpost_summary")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "2" {
		t.Errorf("cursor after prune = %+v, want newest scheduled kept", c)
	}

	if n, err := st.PruneOld(ctx, 0); err != nil || n != 0 {
		t.Errorf("prune with 0 days = %d, %v", n, err)
	}
}

func TestLocks(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	clock := fixedClock(st, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	key := LockKey("C1", "blogpost_summary")

	if key != "C1|blogpost_summary" {
		t.Errorf("key = %q", key)
	}

	if err := st.AcquireLock(ctx, key, "run-a", 15*time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := st.AcquireLock(ctx, key, "run-b", 15*time.Minute)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second owner err = %v, want ErrLocked", err)
	}

	if err := st.AcquireLock(ctx, key, "run-a", 15*time.Minute); err != nil {
		t.Errorf("owner should be able to extend its lease: %v", err)
	}

	if err := st.AcquireLock(ctx, LockKey("C1", "vendor_blogpost"), "run-b", time.Minute); err != nil {
		t.Errorf("different key should not be blocked: %v", err)
	}

	*clock = clock.Add(16 * time.Minute)
	if err := st.AcquireLock(ctx, key, "run-b", 15*time.Minute); err != nil {
		t.Fatalf("expired lease should be stolen: %v", err)
	}

	if err := st.ReleaseLock(ctx, key, "run-a"); err != nil {
		t.Fatal(err)
	}
	if err := st.AcquireLock(ctx, key, "run-c", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("release by a non-owner must not free the lock, err = %v", err)
	}

	if err := st.ReleaseLock(ctx, key, "run-b"); err != nil {
		t.Fatal(err)
	}
	if err := st.AcquireLock(ctx, key, "run-c", time.Minute); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestAcquireLock_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.AcquireLock(ctx, "", "o", time.Minute); err == nil {
		t.Error("expected error for empty key")
	}
	if err := st.AcquireLock(ctx, "k", "o", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
	if err := st.Record(context.Background(), "C1", delivery.Tag{}); err == nil {
		t.Error("expected error from nil store")
	}
}
