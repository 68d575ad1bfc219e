package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sofascraper/internal/domain"
)

func sampleRecords() []domain.ProxyRecord {
	records := []domain.ProxyRecord{
		domain.NewProxyRecord("Austria", "Vienna", "10.124.2.35", "at-vie-wg-001"),
		domain.NewProxyRecord("Sweden", "Malmö", "10.124.1.10", "se-mma-wg-001"),
	}
	records[0].MarkValid(time.Now().UTC().Truncate(time.Second))
	records[1].MarkBlocked(time.Now().UTC().Truncate(time.Second), "403", "rate limited")
	return records
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	records := sampleRecords()

	path, err := store.Save(records, false)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if filepath.Dir(path) != store.Dir {
		t.Fatalf("snapshot landed in %s, want %s", filepath.Dir(path), store.Dir)
	}

	loaded := store.LoadLatest()
	if len(loaded) != len(records) {
		t.Fatalf("loaded %d records, want %d", len(loaded), len(records))
	}

	for i, record := range records {
		got := loaded[i]
		if got.Hostname != record.Hostname || got.ProxyURL != record.ProxyURL {
			t.Fatalf("record %d mismatch: %+v vs %+v", i, got, record)
		}
		if got.IsValid() != record.IsValid() {
			t.Fatalf("record %d validity mismatch", i)
		}
		if got.ErrorCode != record.ErrorCode || got.ErrorReason != record.ErrorReason {
			t.Fatalf("record %d error fields mismatch", i)
		}
	}
}

func TestSaveUnfilteredUsesRawSubdirectory(t *testing.T) {
	store := NewStore(t.TempDir())

	path, err := store.Save(sampleRecords(), true)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(store.Dir, "raw") {
		t.Fatalf("unfiltered snapshot landed in %s", filepath.Dir(path))
	}
	if !strings.HasSuffix(path, ".json") {
		t.Fatalf("snapshot file %s is not a .json file", path)
	}

	// Raw snapshots must not shadow the validated set.
	if loaded := store.LoadLatest(); len(loaded) != 0 {
		t.Fatalf("LoadLatest picked up the raw snapshot: %d records", len(loaded))
	}
}

func TestSaveSameDayOverwrites(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Save(sampleRecords(), false)
	if err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}
	second, err := store.Save(sampleRecords()[:1], false)
	if err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	if first != second {
		t.Fatalf("same-day saves produced different files: %s vs %s", first, second)
	}
	if loaded := store.LoadLatest(); len(loaded) != 1 {
		t.Fatalf("last write did not win, loaded %d records", len(loaded))
	}
}

func TestLoadLatestEmptyDirectory(t *testing.T) {
	store := NewStore(t.TempDir())

	if loaded := store.LoadLatest(); len(loaded) != 0 {
		t.Fatalf("LoadLatest returned %d records from empty dir", len(loaded))
	}
}

func TestLoadLatestPicksNewestFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	old := filepath.Join(dir, "2025_04_01.json")
	if err := os.WriteFile(old, []byte(`[{"hostname":"old"}]`), 0o644); err != nil {
		t.Fatalf("write old snapshot: %v", err)
	}
	if err := os.Chtimes(old, time.Now().Add(-48*time.Hour), time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("age old snapshot: %v", err)
	}

	recent := filepath.Join(dir, "2025_04_03.json")
	if err := os.WriteFile(recent, []byte(`[{"hostname":"recent"}]`), 0o644); err != nil {
		t.Fatalf("write recent snapshot: %v", err)
	}

	loaded := store.LoadLatest()
	if len(loaded) != 1 || loaded[0].Hostname != "recent" {
		t.Fatalf("LoadLatest returned %+v, want the recent snapshot", loaded)
	}
}

func TestIsFresh(t *testing.T) {
	store := NewStore(t.TempDir())

	fresh, path := store.IsFresh(24)
	if fresh || path != "" {
		t.Fatalf("empty store reported fresh=%v path=%q", fresh, path)
	}

	saved, err := store.Save(sampleRecords(), false)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	fresh, path = store.IsFresh(24)
	if !fresh {
		t.Fatal("snapshot saved moments ago reported stale")
	}
	if path != saved {
		t.Fatalf("IsFresh path was %s, want %s", path, saved)
	}

	stale := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(saved, stale, stale); err != nil {
		t.Fatalf("age snapshot: %v", err)
	}

	fresh, path = store.IsFresh(24)
	if fresh {
		t.Fatal("25h-old snapshot reported fresh against a 24h budget")
	}
	if path != saved {
		t.Fatalf("IsFresh path was %s, want %s", path, saved)
	}
}
