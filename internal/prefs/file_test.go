package prefs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	return NewFileStore(path, testLogger()), path
}

func TestAuthTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if _, ok := store.AuthToken(ctx, 42); ok {
		t.Fatal("expected no token for a fresh chat")
	}

	if _, err := store.SetAuthToken(ctx, 42, "tok-123"); err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}

	token, ok := store.AuthToken(ctx, 42)
	if !ok || token != "tok-123" {
		t.Fatalf("expected stored token, got %q ok=%v", token, ok)
	}
}

func TestSetAuthTokenRemoveSentinel(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	removed, err := store.SetAuthToken(ctx, 1, Remove)
	if err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}
	if removed {
		t.Fatal("removing an absent token must report removed=false")
	}

	if _, err := store.SetAuthToken(ctx, 1, "tok"); err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}

	removed, err = store.SetAuthToken(ctx, 1, Remove)
	if err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}
	if !removed {
		t.Fatal("removing an existing token must report removed=true")
	}

	if _, ok := store.AuthToken(ctx, 1); ok {
		t.Fatal("token must be gone after removal")
	}
}

func TestSelectedStationRemoveClearsToAllStations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.SetSelectedStation(ctx, 7, "station-a"); err != nil {
		t.Fatalf("SetSelectedStation: %v", err)
	}
	if id, ok := store.SelectedStation(ctx, 7); !ok || id != "station-a" {
		t.Fatalf("expected station-a, got %q ok=%v", id, ok)
	}

	if err := store.SetSelectedStation(ctx, 7, Remove); err != nil {
		t.Fatalf("SetSelectedStation: %v", err)
	}
	if _, ok := store.SelectedStation(ctx, 7); ok {
		t.Fatal("selection must be cleared by the remove sentinel")
	}
}

func TestLimitDefaultsAndValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if got := store.Limit(ctx, 9); got != DefaultLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultLimit, got)
	}

	if err := store.SetLimit(ctx, 9, 0); err == nil {
		t.Fatal("expected error for non-positive limit")
	}
	if err := store.SetLimit(ctx, 9, -3); err == nil {
		t.Fatal("expected error for negative limit")
	}

	if err := store.SetLimit(ctx, 9, 12); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	if got := store.Limit(ctx, 9); got != 12 {
		t.Fatalf("expected limit 12, got %d", got)
	}
}

func TestStationNamesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.SetStationNames(ctx, 3, map[string]string{"id1": "Alpha"}); err != nil {
		t.Fatalf("SetStationNames: %v", err)
	}

	names := store.StationNames(ctx, 3)
	names["id1"] = "mutated"
	names["id2"] = "extra"

	again := store.StationNames(ctx, 3)
	if again["id1"] != "Alpha" || len(again) != 1 {
		t.Fatalf("store state leaked through returned map: %v", again)
	}
}

func TestPersistenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTestStore(t)

	if _, err := store.SetAuthToken(ctx, 5, "tok"); err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}
	if err := store.SetAccountID(ctx, 5, "acc-5"); err != nil {
		t.Fatalf("SetAccountID: %v", err)
	}
	if err := store.SetLimit(ctx, 5, 8); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}

	reopened := NewFileStore(path, testLogger())

	if token, ok := reopened.AuthToken(ctx, 5); !ok || token != "tok" {
		t.Fatalf("expected token after reopen, got %q ok=%v", token, ok)
	}
	if got := reopened.AccountID(ctx, 5); got != "acc-5" {
		t.Fatalf("expected account id after reopen, got %q", got)
	}
	if got := reopened.Limit(ctx, 5); got != 8 {
		t.Fatalf("expected limit 8 after reopen, got %d", got)
	}
}

func TestCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	store := NewFileStore(path, testLogger())

	if _, ok := store.AuthToken(context.Background(), 1); ok {
		t.Fatal("corrupt file must yield an empty store")
	}

	// A later write must recover the file.
	if _, err := store.SetAuthToken(context.Background(), 1, "tok"); err != nil {
		t.Fatalf("SetAuthToken after corrupt load: %v", err)
	}
}

func TestPingProbesWritability(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on writable dir: %v", err)
	}

	broken := NewFileStore(filepath.Join(t.TempDir(), "missing-dir", "prefs.json"), testLogger())
	if err := broken.Ping(context.Background()); err == nil {
		t.Fatal("Ping must fail when the target directory does not exist")
	}
}
