package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTitleCacheMissingFileStartsEmpty(t *testing.T) {
	cache := LoadTitleCache(filepath.Join(t.TempDir(), "products.json"), testLogger())
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", cache.Len())
	}
}

func TestLoadTitleCacheCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	if err := os.WriteFile(path, []byte("[broken"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	cache := LoadTitleCache(path, testLogger())
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", cache.Len())
	}
}

func TestReplacePersistsAndReportsSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	cache := LoadTitleCache(path, testLogger())

	before, after, err := cache.Replace(map[string]string{"p1": "Doom", "p2": "Quake"})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if before != 0 || after != 2 {
		t.Fatalf("expected sizes 0 -> 2, got %d -> %d", before, after)
	}

	reloaded := LoadTitleCache(path, testLogger())
	titles := reloaded.Snapshot()
	if titles["p1"] != "Doom" || titles["p2"] != "Quake" {
		t.Fatalf("expected persisted titles, got %v", titles)
	}
}

func TestSnapshotReturnsCopy(t *testing.T) {
	cache := LoadTitleCache(filepath.Join(t.TempDir(), "products.json"), testLogger())
	if _, _, err := cache.Replace(map[string]string{"p1": "Doom"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	snap := cache.Snapshot()
	snap["p1"] = "mutated"

	if cache.Snapshot()["p1"] != "Doom" {
		t.Fatal("cache state leaked through snapshot")
	}
}
