package state

import (
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	testStore(t, store)
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadger(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer store.Close()

	testStore(t, store)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	store, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.Put("production/org-a", []byte("history")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	reopened, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer reopened.Close()

	value, ok, err := reopened.Get("production/org-a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !ok || string(value) != "history" {
		t.Errorf("Expected the value to survive a restart, got (%q, %v)", value, ok)
	}
}

func testStore(t *testing.T, store Store) {
	t.Helper()

	_, ok, err := store.Get("missing")
	if err != nil {
		t.Fatalf("Expected no error for a missing key, got: %v", err)
	}
	if ok {
		t.Error("Expected a missing key to report ok=false")
	}

	if err := store.Put("production/org-a", []byte("v1")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	value, ok, err := store.Get("production/org-a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !ok || string(value) != "v1" {
		t.Errorf("Expected (v1, true), got (%q, %v)", value, ok)
	}

	if err := store.Put("production/org-a", []byte("v2")); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	value, _, err = store.Get("production/org-a")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(value) != "v2" {
		t.Errorf("Expected overwrite to take effect, got %q", value)
	}
}
