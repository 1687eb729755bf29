package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, store *Store, id string, created time.Time) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:        id,
		UserID:    "user-1",
		Status:    domain.OrderStatusPending,
		Items:     []domain.OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}},
		Total:     decimal.NewFromInt(5),
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, store.Orders().Insert(context.Background(), order))
	return order
}

func TestRunInTxRollsBackEveryWrite(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Inventory().Upsert(ctx, domain.Product{ID: "p1", Stock: 4}))
	order := seedOrder(t, store, "ord_1", testNow)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := store.Orders().LockByID(txCtx, order.ID)
		require.NoError(t, err)
		locked.Status = domain.OrderStatusConfirmed
		require.NoError(t, store.Orders().Update(txCtx, locked))
		_, _, err = store.Invoices().InsertOrGet(txCtx, domain.Invoice{ID: "inv_1", Number: "INV-1", OrderID: order.ID})
		require.NoError(t, err)
		_, err = store.Inventory().Decrement(txCtx, domain.StockDecrement{ProductID: "p1", Quantity: 3}, testNow)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	reloaded, err := store.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, reloaded.Status)
	assert.Equal(t, 0, store.InvoiceCount(order.ID))

	product, err := store.Inventory().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, product.Stock)
}

func TestInvoiceInsertOrGetKeepsFirstInvoice(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first, created, err := store.Invoices().InsertOrGet(ctx, domain.Invoice{ID: "inv_1", Number: "INV-1", OrderID: "ord_1"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := store.Invoices().InsertOrGet(ctx, domain.Invoice{ID: "inv_2", Number: "INV-2", OrderID: "ord_1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.InvoiceCount("ord_1"))

	_, _, err = store.Invoices().InsertOrGet(ctx, domain.Invoice{ID: "inv_3", Number: "INV-1", OrderID: "ord_2"})
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestDecrementClampsAtZero(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Inventory().Upsert(ctx, domain.Product{ID: "p1", Stock: 2}))

	change, err := store.Inventory().Decrement(ctx, domain.StockDecrement{ProductID: "p1", Quantity: 5}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, change.Previous)
	assert.Equal(t, 0, change.Current)
	assert.False(t, change.InStock)
	assert.True(t, change.Clamped())

	product, err := store.Inventory().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)
	assert.False(t, product.InStock)
}

func TestRollbackKeepsDecrementsCommittedMeanwhile(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Inventory().Upsert(ctx, domain.Product{ID: "p1", Stock: 10}))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := store.Inventory().Decrement(txCtx, domain.StockDecrement{ProductID: "p1", Quantity: 3}, testNow)
		require.NoError(t, err)
		_, err = store.Inventory().Decrement(ctx, domain.StockDecrement{ProductID: "p1", Quantity: 2}, testNow)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := store.Inventory().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock)
	assert.True(t, product.InStock)
}

func TestConcurrentDecrementsDoNotLoseUpdates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Inventory().Upsert(ctx, domain.Product{ID: "p1", Stock: 100}))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Inventory().Decrement(ctx, domain.StockDecrement{ProductID: "p1", Quantity: 2}, testNow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	product, err := store.Inventory().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 20, product.Stock)
}

func TestLockByIDSerialisesUnitsOfWork(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedOrder(t, store, "ord_1", testNow)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = store.RunInTx(ctx, func(txCtx context.Context) error {
			_, err := store.Orders().LockByID(txCtx, "ord_1")
			close(entered)
			<-release
			return err
		})
	}()
	<-entered

	go func() {
		_ = store.RunInTx(ctx, func(txCtx context.Context) error {
			_, err := store.Orders().LockByID(txCtx, "ord_1")
			return err
		})
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second unit of work acquired the order lock while it was held")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second unit of work never acquired the lock")
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for i, id := range []string{"ord_a", "ord_b", "ord_c"} {
		seedOrder(t, store, id, testNow.Add(time.Duration(i)*time.Minute))
	}

	first, err := store.Orders().List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "ord_c", first.Items[0].ID)
	assert.Equal(t, "ord_b", first.Items[1].ID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := store.Orders().List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "ord_a", second.Items[0].ID)
	assert.Empty(t, second.NextPageToken)
}

func TestDeleteRefusesInvoicedOrder(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedOrder(t, store, "ord_1", testNow)
	_, _, err := store.Invoices().InsertOrGet(ctx, domain.Invoice{ID: "inv_1", Number: "INV-1", OrderID: "ord_1"})
	require.NoError(t, err)

	err = store.Orders().Delete(ctx, "ord_1")
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}
