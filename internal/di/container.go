package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/notifications"
	"github.com/h7-ecom/api/internal/platform/config"
	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
	"github.com/h7-ecom/api/internal/platform/idempotency"
	"github.com/h7-ecom/api/internal/platform/jobs"
	"github.com/h7-ecom/api/internal/platform/metrics"
	"github.com/h7-ecom/api/internal/platform/observability"
	"github.com/h7-ecom/api/internal/repositories"
	firestoreRepo "github.com/h7-ecom/api/internal/repositories/firestore"
	"github.com/h7-ecom/api/internal/repositories/memory"
	"github.com/h7-ecom/api/internal/repositories/postgres"
	"github.com/h7-ecom/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Invoices  services.InvoiceService
	Inventory services.InventoryService
	Counters  services.CounterService
	Notifier  services.NotificationDispatcher
}

// Backend is an opened store together with the raw handles other components share.
type Backend struct {
	Registry  repositories.Registry
	Postgres  *postgres.DB
	Firestore *pfirestore.Provider
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *metrics.Recorder
	Idempotency  idempotency.Store
	Health       repositories.HealthRepository
	Settings     *notifications.SettingsSource

	backend Backend
	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	secrets    config.SecretResolver
	httpClient *http.Client
	events     services.OrderEventPublisher
	idem       idempotency.Store
	clock      func() time.Time
}

// WithLogger sets the base logger handed to services.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSecretResolver sets the resolver used for secret references in notification settings.
func WithSecretResolver(resolver config.SecretResolver) Option {
	return func(o *options) { o.secrets = resolver }
}

// WithHTTPClient overrides the client used by the notification relay.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithEventPublisher replaces the Pub/Sub publisher, mostly for tests.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.events = publisher }
}

// WithIdempotencyStore replaces the store selected from configuration.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) { o.idem = store }
}

// WithClock overrides the clock shared by services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// OpenBackend connects to the configured store. Postgres is migrated first when
// Store.MigrateOnStart is set.
func OpenBackend(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := postgres.Open(ctx, postgres.Options{URL: cfg.Store.DatabaseURL, MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return Backend{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Store.MigrateOnStart {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return Backend{}, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return Backend{Registry: postgres.NewRegistry(db), Postgres: db}, nil
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return Backend{}, fmt.Errorf("build firestore registry: %w", err)
		}
		return Backend{Registry: reg, Firestore: provider}, nil
	case config.StoreDriverMemory:
		return Backend{Registry: memory.NewStore()}, nil
	default:
		return Backend{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// NewContainer constructs the runtime dependencies on top of an opened backend.
func NewContainer(ctx context.Context, cfg config.Config, backend Backend, opts ...Option) (*Container, error) {
	if backend.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Container{
		Config:       cfg,
		Repositories: backend.Registry,
		Metrics:      metrics.NewRecorder(),
		backend:      backend,
	}

	events := o.events
	if events == nil && cfg.PubSub.OrderTopic != "" {
		publisher, closer, err := newOrderEventPublisher(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, closer)
		events = publisher
	}

	c.Settings = notifications.NewSettingsSource(backend.Registry.Settings(), domain.NotificationSettings{
		AdminPhone: cfg.Notify.AdminPhone,
		APIKey:     cfg.Notify.APIKey,
	}, o.secrets)

	svc, err := buildServices(cfg, backend.Registry, c.Settings, events, c.Metrics, o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc

	store := o.idem
	if store == nil {
		var closer func(context.Context) error
		store, closer, err = newIdempotencyStore(ctx, cfg.Idempotency, backend)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}
	c.Idempotency = store

	health, err := repositories.NewProbeHealthRepository(healthProbes(cfg, backend))
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Health = health

	return c, nil
}

// Close drains in-flight notifications, flushes publishers and releases store clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Notifier != nil {
		if err := c.Services.Notifier.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, reg repositories.Registry, settings *notifications.SettingsSource, events services.OrderEventPublisher, recorder *metrics.Recorder, o options) (Services, error) {
	var svc Services

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      o.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	invoiceSvc, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Invoices: reg.Invoices(),
		Counters: counterSvc,
		DueIn:    cfg.Orders.InvoiceDue(),
		Clock:    o.clock,
		Logger:   observability.EventLogger(o.logger.Named("invoices")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}
	svc.Invoices = invoiceSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     o.clock,
		Metrics:   recorder,
		Logger:    observability.EventLogger(o.logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	if cfg.Notify.RelayURL != "" {
		location, err := time.LoadLocation(cfg.Notify.TimeZone)
		if err != nil {
			return Services{}, fmt.Errorf("load notification time zone: %w", err)
		}
		client := o.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.Notify.Timeout}
		}
		relay, err := notifications.NewRelay(notifications.RelayConfig{
			URL:        cfg.Notify.RelayURL,
			SenderID:   cfg.Notify.SenderID,
			Username:   cfg.Notify.Username,
			HTTPClient: client,
			Renderer:   notifications.NewSummaryRenderer(cfg.Notify.Language, location),
			Clock:      o.clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification relay: %w", err)
		}
		notifier, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
			Settings:    settings,
			Sender:      relay,
			Metrics:     recorder,
			Timeout:     cfg.Notify.Timeout,
			MaxInFlight: cfg.Notify.MaxInFlight,
			Logger:      observability.EventLogger(o.logger.Named("notifications")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
		}
		svc.Notifier = notifier
	} else {
		o.logger.Warn("notification relay url not configured; order summaries are disabled")
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		UnitOfWork:      reg,
		Invoices:        invoiceSvc,
		Inventory:       inventorySvc,
		Notifier:        svc.Notifier,
		Events:          events,
		Metrics:         recorder,
		DefaultCurrency: cfg.Orders.Currency,
		Clock:           o.clock,
		Logger:          observability.EventLogger(o.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}

func newOrderEventPublisher(ctx context.Context, cfg config.PubSubConfig) (services.OrderEventPublisher, func(context.Context) error, error) {
	if cfg.ProjectID == "" {
		return nil, nil, errors.New("pubsub project id is required when an order topic is set")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.OrderTopic))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func(context.Context) error {
		publisher.Stop()
		return client.Close()
	}
	return publisher, closer, nil
}

func newIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, backend Backend) (idempotency.Store, func(context.Context) error, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return idempotency.NewRedisStore(client, ""), func(context.Context) error { return client.Close() }, nil
	}
	switch {
	case backend.Postgres != nil:
		return idempotency.NewPostgresStore(backend.Postgres.Pool()), nil, nil
	case backend.Firestore != nil:
		client, err := backend.Firestore.Client(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("idempotency firestore client: %w", err)
		}
		return idempotency.NewFirestoreStore(client, ""), nil, nil
	default:
		return idempotency.NewMemoryStore(), nil, nil
	}
}

func healthProbes(cfg config.Config, backend Backend) []repositories.Probe {
	name := cfg.Store.Driver
	if name == "" {
		name = "store"
	}
	return []repositories.Probe{{Name: name, Check: backend.Registry.Ping}}
}
