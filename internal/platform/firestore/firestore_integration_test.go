//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/pv-frame/api/internal/platform/config"
	pfirestore "github.com/pv-frame/api/internal/platform/firestore"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "test-project", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestCollectionIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	coll := pfirestore.NewCollection[sampleEntity](provider, "samples-"+time.Now().Format("150405.000"))

	if err := coll.Create(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := coll.Create(ctx, "sample-1", sampleEntity{Name: "beta"})
	var fsErr *pfirestore.Error
	if !errors.As(err, &fsErr) || !fsErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := coll.Doc(ctx, "sample-1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := coll.Decode(snap)
		if err != nil {
			return err
		}
		doc.Data.Count++
		return tx.Set(ref, doc.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	doc, err := coll.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Name != "alpha" || doc.Data.Count != 2 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}

	docs, err := coll.Query(ctx, func(q firestore.Query) firestore.Query { return q.Where("count", ">=", 2) })
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	if err := coll.Delete(ctx, "sample-1", true); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := coll.Get(ctx, "sample-1"); !errors.As(err, &fsErr) || !fsErr.IsNotFound() {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
