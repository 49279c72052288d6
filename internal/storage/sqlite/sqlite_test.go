package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmynk/splitchat/internal/storage"
)

func TestSQLiteStore(t *testing.T) {
	// Create temp directory for test database
	tempDir, err := os.MkdirTemp("", "splitchat-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	t.Run("Get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Put then Get", func(t *testing.T) {
		if err := store.Put(ctx, "me/split_bill_history", []byte(`[{"id":"b1"}]`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := store.Get(ctx, "me/split_bill_history")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != `[{"id":"b1"}]` {
			t.Errorf("Expected stored JSON, got %q", got)
		}
	})

	t.Run("Put overwrites", func(t *testing.T) {
		if err := store.Put(ctx, "k", []byte("one")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Put(ctx, "k", []byte("two")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, _ := store.Get(ctx, "k")
		if string(got) != "two" {
			t.Errorf("Expected 'two', got %q", got)
		}
	})

	t.Run("Empty value", func(t *testing.T) {
		if err := store.Put(ctx, "empty", nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := store.Get(ctx, "empty")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected empty value, got %q", got)
		}
	})

	t.Run("Keys by prefix is exact", func(t *testing.T) {
		for _, k := range []string{"alice/a", "alice/b", "Alice/c", "al_ce/d", "bob/a"} {
			if err := store.Put(ctx, k, []byte("x")); err != nil {
				t.Fatalf("Put %s failed: %v", k, err)
			}
		}

		keys, err := store.Keys(ctx, "alice/")
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if len(keys) != 2 || keys[0] != "alice/a" || keys[1] != "alice/b" {
			t.Errorf("Expected [alice/a alice/b], got %v", keys)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, "k"); err != nil {
			t.Errorf("Deleting a missing key should not fail: %v", err)
		}
		if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	store.Close()

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Expected 'v' after reopen, got %q (err %v)", got, err)
	}
}
