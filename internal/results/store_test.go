package results

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func tempStore(t *testing.T, maxResults int) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), maxResults, 0)
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreSaveAndGet(t *testing.T) {
	store := tempStore(t, 100)

	saved, err := store.Save(Result{
		RoundTripMs:   12.5,
		DownloadBps:   33554432,
		UploadBps:     8388608,
		DownloadHuman: "32.0 Mbps",
		UploadHuman:   "8.0 Mbps",
		Samples:       5,
		BlobSize:      4194304,
		ClientIP:      "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(saved.ID) != 8 || !validID.MatchString(saved.ID) {
		t.Fatalf("expected 8-char alphanumeric ID, got %q", saved.ID)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := store.Get(saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.DownloadBps != 33554432 || got.UploadBps != 8388608 {
		t.Errorf("bps = %v/%v", got.DownloadBps, got.UploadBps)
	}
	if got.DownloadHuman != "32.0 Mbps" {
		t.Errorf("download_human = %q", got.DownloadHuman)
	}
	if got.Samples != 5 || got.BlobSize != 4194304 {
		t.Errorf("samples=%d blob_size=%d", got.Samples, got.BlobSize)
	}
	if got.ClientIP != "203.0.113.7" {
		t.Errorf("client_ip = %q", got.ClientIP)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store := tempStore(t, 100)

	got, err := store.Get("abcd1234")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing ID, got %+v", got)
	}
}

func TestStoreTrimToMax(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trim.db")

	store, err := New(dbPath, 3, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	ids := make([]string, 5)
	for i := range ids {
		stamp := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return stamp }
		saved, saveErr := store.Save(Result{RoundTripMs: float64(i + 1)})
		if saveErr != nil {
			t.Fatalf("Save %d: %v", i, saveErr)
		}
		ids[i] = saved.ID
	}
	store.Close()

	// cleanup runs on open
	reopened, err := New(dbPath, 3, 0)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer reopened.Close()

	for _, id := range ids[:2] {
		if got, _ := reopened.Get(id); got != nil {
			t.Errorf("expected id %s to be trimmed", id)
		}
	}
	for _, id := range ids[2:] {
		if got, _ := reopened.Get(id); got == nil {
			t.Errorf("expected id %s to remain", id)
		}
	}
	if n, err := reopened.Count(); err != nil || n != 3 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
}

func TestStoreCleanupDropsExpired(t *testing.T) {
	store := tempStore(t, 100)
	store.retention = time.Hour

	store.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := store.Save(Result{RoundTripMs: 1})
	if err != nil {
		t.Fatalf("Save old: %v", err)
	}
	store.now = time.Now
	fresh, err := store.Save(Result{RoundTripMs: 2})
	if err != nil {
		t.Fatalf("Save fresh: %v", err)
	}

	store.cleanup()

	if got, _ := store.Get(old.ID); got != nil {
		t.Fatal("expected expired result to be removed")
	}
	if got, _ := store.Get(fresh.ID); got == nil {
		t.Fatal("expected fresh result to remain")
	}
}

func TestClassifyBusyErrors(t *testing.T) {
	busy := classify(errors.New("database is locked (5) (SQLITE_BUSY)"))
	if !errors.Is(busy, ErrStoreRetryable) {
		t.Fatalf("expected retryable, got %v", busy)
	}
	other := classify(errors.New("no such table"))
	if errors.Is(other, ErrStoreRetryable) {
		t.Fatalf("unexpected retryable for %v", other)
	}
}
