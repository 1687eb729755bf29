//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/h7-ecom/api/internal/platform/config"
	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
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
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "platform-test", EmulatorHost: host})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestBaseRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "samples")
	id := "sample-" + time.Now().Format("150405.000000")
	if err := repo.Create(ctx, id, sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	doc, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data.Name != "alpha" || doc.Data.Count != 1 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}

	err = repo.Create(ctx, id, sampleEntity{Name: "again"})
	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
}

func TestRunTransactionDefersWritesAndRollsBack(t *testing.T) {
	provider := newEmulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "samples")
	first := "tx-a-" + time.Now().Format("150405.000000")
	second := "tx-b-" + time.Now().Format("150405.000000")

	err := provider.RunTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Set(ctx, first, sampleEntity{Name: "first"}); err != nil {
			return err
		}
		// read after a queued write must still be allowed
		if _, err := repo.Get(ctx, second); err == nil {
			t.Errorf("expected %s to be missing", second)
		}
		return repo.Set(ctx, second, sampleEntity{Name: "second"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, err := repo.Get(ctx, second); err != nil {
		t.Fatalf("expected committed write: %v", err)
	}

	boom := errors.New("boom")
	third := "tx-c-" + time.Now().Format("150405.000000")
	err = provider.RunTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Set(ctx, third, sampleEntity{Name: "third"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error to pass through, got %v", err)
	}
	var repoErr *pfirestore.Error
	if _, err := repo.Get(ctx, third); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected rolled back document to be missing, got %v", err)
	}
}
