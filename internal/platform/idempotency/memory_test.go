package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.Reserve(ctx, "k", "fp", epoch, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("first reserve = %v, %v", res.State, err)
	}
	if res, _ = store.Reserve(ctx, "k", "fp", epoch, time.Hour); res.State != ReservationStatePending {
		t.Fatalf("second reserve = %v", res.State)
	}
	if _, err := store.Reserve(ctx, "k", "other", epoch, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	header := http.Header{"Content-Type": {"application/json"}, "Set-Cookie": {"a=b"}}
	if err := store.SaveResponse(ctx, "k", "fp", Response{Status: 201, Headers: header, Body: []byte("{}")}, epoch.Add(time.Second), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, "k", "fp", epoch.Add(2*time.Second), time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("after save = %v, %v", res.State, err)
	}
	if res.Record.ResponseStatus != 201 || string(res.Record.ResponseBody) != "{}" {
		t.Fatalf("stored response %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Set-Cookie"]; ok {
		t.Fatal("Set-Cookie must not be stored")
	}
	if !res.Record.CreatedAt.Equal(epoch) {
		t.Fatalf("created at changed to %s", res.Record.CreatedAt)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Reserve(ctx, "short", "fp-1", epoch, time.Minute)
	_, _ = store.Reserve(ctx, "long", "fp-2", epoch, time.Hour)

	later := epoch.Add(10 * time.Minute)
	if res, err := store.Reserve(ctx, "short", "fp-3", later, time.Minute); err != nil || res.State != ReservationStateNew {
		t.Fatalf("expired key should be reusable with any body: %v, %v", res.State, err)
	}
	_ = store.Release(ctx, "short", "fp-3")
	_, _ = store.Reserve(ctx, "short", "fp-1", epoch, time.Minute)

	removed, err := store.CleanupExpired(ctx, later, 0)
	if err != nil || removed != 1 {
		t.Fatalf("cleanup removed %d, %v", removed, err)
	}
	if res, _ := store.Reserve(ctx, "long", "fp-2", later, time.Hour); res.State != ReservationStatePending {
		t.Fatalf("live key was cleaned up")
	}
}
