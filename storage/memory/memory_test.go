package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edutools/mcp-canvas/storage"
)

func TestSetGet(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "key", []byte("value"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Get() = %q, want %q", got, "value")
	}
}

func TestGetMissing(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "key", []byte("value"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := store.Get(ctx, "key"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := store.Get(ctx, "key"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "key", []byte("value"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "key"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete() on missing key error = %v", err)
	}
}

func TestGetAndDeleteSingleUse(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "token", []byte("pending"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.GetAndDelete(ctx, "token")
	if err != nil {
		t.Fatalf("GetAndDelete() error = %v", err)
	}
	if string(got) != "pending" {
		t.Errorf("GetAndDelete() = %q, want %q", got, "pending")
	}

	if _, err := store.GetAndDelete(ctx, "token"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second GetAndDelete() error = %v, want ErrNotFound", err)
	}
}

func TestGetAndDeleteExpired(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "token", []byte("pending"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := store.GetAndDelete(ctx, "token"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAndDelete() on expired entry error = %v, want ErrNotFound", err)
	}
}

func TestOverwrite(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "key", []byte("one"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "key", []byte("two"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "two" {
		t.Errorf("Get() = %q, want %q", got, "two")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestStopIdempotent(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}
