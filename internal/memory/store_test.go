package memory

import (
	"errors"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SetGet(t *testing.T) {
	store := openStore(t)

	if err := store.Set("default", "color", "blue"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get("default", "color")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "blue" {
		t.Errorf("Get = %q, want %q", got, "blue")
	}
}

func TestStore_Overwrite(t *testing.T) {
	store := openStore(t)

	store.Set("default", "k", "v1")
	store.Set("default", "k", "v2")

	got, err := store.Get("default", "k")
	if err != nil {
		t.Fatal(err)
	}
	if got != "v2" {
		t.Errorf("Get = %q, want v2", got)
	}
}

func TestStore_AgentScoping(t *testing.T) {
	store := openStore(t)

	store.Set("agent1", "k", "one")
	store.Set("agent2", "k", "two")

	got, _ := store.Get("agent1", "k")
	if got != "one" {
		t.Errorf("agent1 sees %q", got)
	}
	got, _ = store.Get("agent2", "k")
	if got != "two" {
		t.Errorf("agent2 sees %q", got)
	}
}

func TestStore_DeleteAndMissing(t *testing.T) {
	store := openStore(t)

	store.Set("default", "k", "v")
	if err := store.Delete("default", "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("default", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	// Deleting again is not an error.
	if err := store.Delete("default", "k"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestStore_Keys(t *testing.T) {
	store := openStore(t)

	store.Set("default", "b", "2")
	store.Set("default", "a", "1")
	store.Set("other", "c", "3")

	keys, err := store.Keys("default")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys = %v, want [a b]", keys)
	}
}

func TestStore_IntegrityCheck(t *testing.T) {
	store := openStore(t)
	if err := store.IntegrityCheck(); err != nil {
		t.Errorf("IntegrityCheck on fresh db: %v", err)
	}
}
