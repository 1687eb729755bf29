package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
	"github.com/h7-ecom/api/internal/repositories/memory"
)

var orderTestNow = time.Date(2025, time.April, 3, 10, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu     sync.Mutex
	orders []Order
}

func (r *recordingDispatcher) Dispatch(_ context.Context, order Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
}

func (r *recordingDispatcher) Wait(context.Context) error { return nil }

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

// failingUpdateOrders wraps a repository and fails every Update.
type failingUpdateOrders struct {
	repositories.OrderRepository
	err error
}

func (f failingUpdateOrders) Update(context.Context, domain.Order) error {
	return f.err
}

type orderFixture struct {
	svc        OrderService
	store      *memory.Store
	dispatcher *recordingDispatcher
	events     *recordingPublisher
}

func newOrderFixture(t *testing.T, wrap func(repositories.OrderRepository) repositories.OrderRepository) orderFixture {
	t.Helper()
	store := memory.NewStore()
	clock := func() time.Time { return orderTestNow }

	counters, err := NewCounterService(CounterServiceDeps{Repository: store.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	invoices, err := NewInvoiceService(InvoiceServiceDeps{Invoices: store.Invoices(), Counters: counters, Clock: clock})
	if err != nil {
		t.Fatalf("new invoice service: %v", err)
	}
	inventory, err := NewInventoryService(InventoryServiceDeps{Inventory: store.Inventory(), Clock: clock})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	orders := store.Orders()
	if wrap != nil {
		orders = wrap(orders)
	}

	dispatcher := &recordingDispatcher{}
	events := &recordingPublisher{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     orders,
		UnitOfWork: store,
		Invoices:   invoices,
		Inventory:  inventory,
		Notifier:   dispatcher,
		Events:     events,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return orderFixture{svc: svc, store: store, dispatcher: dispatcher, events: events}
}

func (f orderFixture) seedProduct(t *testing.T, id string, stock int) {
	t.Helper()
	if err := f.store.Inventory().Upsert(context.Background(), domain.Product{ID: id, Name: id, Stock: stock, InStock: stock > 0}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (f orderFixture) createOrder(t *testing.T, items ...CreateOrderItem) Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateOrderCommand{
		UserID:        "user-1",
		Items:         items,
		Shipping:      ShippingDetails{Name: "Ada", Address: "1 Main St", City: "Springfield", Zip: "12345", Country: "US"},
		PaymentMethod: "cash",
		Phone:         "+15550100",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (f orderFixture) transition(ctx context.Context, orderID string, status OrderStatus) (Order, error) {
	return f.svc.Transition(ctx, OrderTransitionCommand{OrderID: orderID, TargetStatus: &status, ActorID: "admin-1"})
}

func line(productID string, qty int, price string) CreateOrderItem {
	return CreateOrderItem{ProductID: productID, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func TestOrderServiceCreateComputesTotalFromSnapshot(t *testing.T) {
	f := newOrderFixture(t, nil)

	order := f.createOrder(t, line("p1", 3, "10.0"), line("p2", 1, "5.0"))

	if !order.Total.Equal(decimal.RequireFromString("35.0")) {
		t.Fatalf("expected total 35.0, got %s", order.Total)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected PENDING, got %s", order.Status)
	}
	if len(order.Items) != 2 || order.Items[0].Quantity != 3 || !order.Items[0].UnitPrice.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected item snapshot %+v", order.Items)
	}
	if order.Currency != defaultCurrency {
		t.Fatalf("expected default currency, got %s", order.Currency)
	}

	stored, err := f.svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !stored.Total.Equal(order.Total) {
		t.Fatalf("stored total %s differs from %s", stored.Total, order.Total)
	}
	if f.dispatcher.count() != 1 {
		t.Fatalf("expected one dispatched notification, got %d", f.dispatcher.count())
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != orderEventCreated {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
}

func TestOrderServiceCreateValidatesInput(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	cases := map[string]CreateOrderCommand{
		"missing user":       {Items: []CreateOrderItem{line("p1", 1, "1")}},
		"no items":           {UserID: "user-1"},
		"zero quantity":      {UserID: "user-1", Items: []CreateOrderItem{line("p1", 0, "1")}},
		"negative price":     {UserID: "user-1", Items: []CreateOrderItem{line("p1", 1, "-1")}},
		"missing product":    {UserID: "user-1", Items: []CreateOrderItem{{Quantity: 1, Price: decimal.NewFromInt(1)}}},
		"quantity too large": {UserID: "user-1", Items: []CreateOrderItem{line("p1", math.MaxInt32+1, "1")}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}

	page, err := f.svc.List(ctx, OrderListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected nothing persisted, got %d orders", len(page.Items))
	}
	if f.dispatcher.count() != 0 {
		t.Fatalf("expected no notifications, got %d", f.dispatcher.count())
	}
}

func TestOrderServiceCreateSanitisesFreeText(t *testing.T) {
	f := newOrderFixture(t, nil)

	order, err := f.svc.Create(context.Background(), CreateOrderCommand{
		UserID:   "user-1",
		Items:    []CreateOrderItem{line("p1", 1, "1")},
		Shipping: ShippingDetails{Name: "<b>Smith & Co</b>"},
		Notes:    "  leave at door<script>alert(1)</script> ",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Shipping.Name != "Smith & Co" {
		t.Fatalf("unexpected shipping name %q", order.Shipping.Name)
	}
	if order.Notes != "leave at door" {
		t.Fatalf("unexpected notes %q", order.Notes)
	}
}

func TestOrderServiceCreateStripsEscapedMarkup(t *testing.T) {
	f := newOrderFixture(t, nil)

	cases := map[string]string{
		"escaped script":        "&lt;script&gt;alert(1)&lt;/script&gt;call first",
		"double escaped script": "&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;call first",
		"escaped tag":           "&lt;b&gt;call first&lt;/b&gt;",
	}
	for name, notes := range cases {
		t.Run(name, func(t *testing.T) {
			order, err := f.svc.Create(context.Background(), CreateOrderCommand{
				UserID: "user-1",
				Items:  []CreateOrderItem{line("p1", 1, "1")},
				Notes:  notes,
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if order.Notes != "call first" {
				t.Fatalf("unexpected notes %q", order.Notes)
			}
		})
	}
}

func TestOrderServiceConfirmTwiceIssuesOneInvoice(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	order := f.createOrder(t, line("p1", 2, "12.50"))

	first, err := f.transition(ctx, order.ID, domain.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := f.transition(ctx, order.ID, domain.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	if got := f.store.InvoiceCount(order.ID); got != 1 {
		t.Fatalf("expected exactly one invoice, got %d", got)
	}
	if first.Invoice == nil || second.Invoice == nil || first.Invoice.ID != second.Invoice.ID {
		t.Fatalf("expected the same invoice on both calls, got %+v and %+v", first.Invoice, second.Invoice)
	}
	if first.Invoice.Number != "INV-202504-000001" {
		t.Fatalf("unexpected invoice number %s", first.Invoice.Number)
	}
	if !first.Invoice.Total.Equal(decimal.RequireFromString("25")) || first.Invoice.Status != domain.InvoiceStatusUnpaid {
		t.Fatalf("unexpected invoice %+v", first.Invoice)
	}
	if first.ConfirmedAt == nil {
		t.Fatalf("expected confirmedAt to be stamped")
	}

	fetched, err := f.svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Invoice == nil || fetched.Invoice.ID != first.Invoice.ID {
		t.Fatalf("expected invoice attached on read, got %+v", fetched.Invoice)
	}
}

func TestOrderServiceCompleteClampsStockAtZero(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	f.seedProduct(t, "p1", 2)
	order := f.createOrder(t, line("p1", 5, "3"))

	if _, err := f.transition(ctx, order.ID, domain.OrderStatusCompleted); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected PENDING -> COMPLETED to be rejected, got %v", err)
	}
	if _, err := f.transition(ctx, order.ID, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	completed, err := f.transition(ctx, order.ID, domain.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.InventoryAppliedAt == nil || completed.CompletedAt == nil {
		t.Fatalf("expected fulfilment timestamps, got %+v", completed)
	}

	product, err := f.store.Inventory().Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 || product.InStock {
		t.Fatalf("expected stock 0 and out of stock, got %d/%v", product.Stock, product.InStock)
	}
}

func TestOrderServiceCompleteWithLargeQuantitiesClampsStock(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	f.seedProduct(t, "p1", 2)
	order := f.createOrder(t, line("p1", math.MaxInt32, "0"), line("p1", math.MaxInt32, "0"))

	if _, err := f.transition(ctx, order.ID, domain.OrderStatusProcessing); err != nil {
		t.Fatalf("process: %v", err)
	}
	completed, err := f.transition(ctx, order.ID, domain.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.InventoryAppliedAt == nil {
		t.Fatalf("expected inventory to be applied")
	}

	product, err := f.store.Inventory().Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 || product.InStock {
		t.Fatalf("expected stock clamped to zero, got %+v", product)
	}
}

func TestOrderServiceConcurrentCompleteDecrementsOnce(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	f.seedProduct(t, "p1", 100)
	order := f.createOrder(t, line("p1", 3, "1"))
	if _, err := f.transition(ctx, order.ID, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.transition(ctx, order.ID, domain.OrderStatusCompleted)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrOrderInvalidState):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || rejected != callers-1 {
		t.Fatalf("expected one success, got %d successes and %d rejections", succeeded, rejected)
	}
	product, err := f.store.Inventory().Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 97 {
		t.Fatalf("expected a single decrement to 97, got %d", product.Stock)
	}
}

func TestOrderServiceRejectsTransitionFromTerminalState(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	f.seedProduct(t, "p1", 10)
	order := f.createOrder(t, line("p1", 1, "1"))
	for _, status := range []OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusCompleted} {
		if _, err := f.transition(ctx, order.ID, status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	if _, err := f.transition(ctx, order.ID, domain.OrderStatusPending); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if _, err := f.transition(ctx, order.ID, domain.OrderStatusCompleted); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected repeated COMPLETED to be rejected, got %v", err)
	}

	stored, err := f.svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected status to stay COMPLETED, got %s", stored.Status)
	}
	product, _ := f.store.Inventory().Get(ctx, "p1")
	if product.Stock != 9 {
		t.Fatalf("expected stock 9, got %d", product.Stock)
	}
}

func TestOrderServicePatchWithoutStatus(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	order := f.createOrder(t, line("p1", 1, "1"))
	cancelled := domain.OrderStatusCancelled
	if _, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: order.ID, TargetStatus: &cancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	notes := "customer called"
	city := "Shelbyville"
	updated, err := f.svc.Transition(ctx, OrderTransitionCommand{
		OrderID:  order.ID,
		Notes:    &notes,
		Shipping: ShippingPatch{City: &city},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if updated.Notes != notes || updated.Shipping.City != city || updated.Shipping.Name != "Ada" {
		t.Fatalf("unexpected patched order %+v", updated)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected status unchanged, got %s", updated.Status)
	}
	if len(f.events.events) != 2 {
		t.Fatalf("expected created and one status event, got %d", len(f.events.events))
	}
}

func TestOrderServiceTransitionValidatesInput(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()
	order := f.createOrder(t, line("p1", 1, "1"))

	unknown := OrderStatus("LOST")
	if _, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: order.ID, TargetStatus: &unknown}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, OrderTransitionCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for empty patch, got %v", err)
	}
	if _, err := f.transition(ctx, "ord_missing", domain.OrderStatusConfirmed); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceTransitionRollsBackSideEffects(t *testing.T) {
	boom := errors.New("disk full")
	f := newOrderFixture(t, func(repo repositories.OrderRepository) repositories.OrderRepository {
		return failingUpdateOrders{OrderRepository: repo, err: boom}
	})
	ctx := context.Background()
	f.seedProduct(t, "p1", 4)
	order := f.createOrder(t, line("p1", 3, "1"))

	if _, err := f.transition(ctx, order.ID, domain.OrderStatusConfirmed); !errors.Is(err, boom) {
		t.Fatalf("expected update failure, got %v", err)
	}
	if got := f.store.InvoiceCount(order.ID); got != 0 {
		t.Fatalf("expected invoice to be rolled back, got %d", got)
	}

	stored, err := f.store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected status PENDING after rollback, got %s", stored.Status)
	}
	if len(f.events.events) != 1 {
		t.Fatalf("expected no status event after rollback, got %d events", len(f.events.events))
	}
}

func TestOrderServiceDelete(t *testing.T) {
	f := newOrderFixture(t, nil)
	ctx := context.Background()

	draft := f.createOrder(t, line("p1", 1, "1"))
	if err := f.svc.Delete(ctx, draft.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, draft.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected deleted order to be gone, got %v", err)
	}
	if err := f.svc.Delete(ctx, draft.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	invoiced := f.createOrder(t, line("p1", 1, "1"))
	if _, err := f.transition(ctx, invoiced.ID, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := f.svc.Delete(ctx, invoiced.ID); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceEventPublishFailureIsLogged(t *testing.T) {
	f := newOrderFixture(t, nil)
	f.events.err = errors.New("pubsub down")

	order := f.createOrder(t, line("p1", 1, "1"))
	if order.ID == "" {
		t.Fatalf("expected order to be created despite publish failure")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
		domain.OrderStatusShipped:    {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	}
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			want := false
			if !from.Terminal() {
				want = from == to
				for _, candidate := range allowed[from] {
					if candidate == to {
						want = true
					}
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}
