package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/config"
	"github.com/h7-ecom/api/internal/platform/idempotency"
	"github.com/h7-ecom/api/internal/services"
)

func testConfig(relayURL string) config.Config {
	return config.Config{
		Store: config.StoreConfig{Driver: config.StoreDriverMemory},
		Notify: config.NotifyConfig{
			RelayURL:    relayURL,
			AdminPhone:  "+15550100",
			APIKey:      "relay-key",
			Timeout:     time.Second,
			MaxInFlight: 4,
			Language:    "en",
			TimeZone:    "UTC",
		},
		Orders: config.OrderConfig{Currency: "USD", InvoiceDueDays: 30},
	}
}

type capturedRelay struct {
	mu    sync.Mutex
	forms []url.Values
	keys  []string
}

func (c *capturedRelay) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	c.mu.Lock()
	c.forms = append(c.forms, r.PostForm)
	c.keys = append(c.keys, r.Header.Get("apikey"))
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func TestContainerWiresMemoryBackend(t *testing.T) {
	relay := &capturedRelay{}
	server := httptest.NewServer(http.HandlerFunc(relay.handler))
	defer server.Close()

	ctx := context.Background()
	cfg := testConfig(server.URL)
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	publisher := &recordingPublisher{}
	container, err := NewContainer(ctx, cfg, backend, WithEventPublisher(publisher))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	if _, ok := container.Idempotency.(*idempotency.MemoryStore); !ok {
		t.Fatalf("expected memory idempotency store, got %T", container.Idempotency)
	}
	report, err := container.Health.Collect(ctx)
	if err != nil || report.Status != domain.HealthStatusOK {
		t.Fatalf("expected healthy store, got %+v err=%v", report, err)
	}

	order, err := container.Services.Orders.Create(ctx, services.CreateOrderCommand{
		UserID: "user-1",
		Items: []services.CreateOrderItem{
			{ProductID: "prod-a", Quantity: 3, Price: decimal.NewFromInt(10)},
			{ProductID: "prod-b", Quantity: 1, Price: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !order.Total.Equal(decimal.NewFromInt(35)) || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %+v", order)
	}

	confirmed := domain.OrderStatusConfirmed
	if _, err := container.Services.Orders.Transition(ctx, services.OrderTransitionCommand{OrderID: order.ID, TargetStatus: &confirmed}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := container.Services.Invoices.FindByOrderID(ctx, order.ID); err != nil {
		t.Fatalf("expected invoice after confirmation: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := container.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.forms) != 1 {
		t.Fatalf("expected one relay call, got %d", len(relay.forms))
	}
	if relay.forms[0].Get("to") != "+15550100" || relay.keys[0] != "relay-key" {
		t.Fatalf("unexpected relay request to=%q key=%q", relay.forms[0].Get("to"), relay.keys[0])
	}

	if got := testutil.CollectAndCount(container.Metrics.Registry(), "orders_created_total"); got != 1 {
		t.Fatalf("expected created counter to be exported, got %d series", got)
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.events) != 2 {
		t.Fatalf("expected created and status events, got %d", len(publisher.events))
	}
}

func TestContainerWithoutRelaySkipsNotifier(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("")
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	container, err := NewContainer(ctx, cfg, backend, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer container.Close(ctx)

	if container.Services.Notifier != nil {
		t.Fatalf("expected no notifier without relay url")
	}
	if got := logs.FilterMessageSnippet("notification relay url not configured").Len(); got != 1 {
		t.Fatalf("expected one startup warning about the missing relay, got %d", got)
	}
	if container.Services.Orders == nil || container.Services.Inventory == nil {
		t.Fatalf("expected core services to be wired")
	}
}

func TestOpenBackendRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig("")
	cfg.Store.Driver = "mysql"
	if _, err := OpenBackend(context.Background(), cfg); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(""), Backend{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}
