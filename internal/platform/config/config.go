package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultLogLevel            = "info"
	defaultStoreDriver         = StoreDriverPostgres
	defaultDatabaseMaxConns    = 10
	defaultOrderTopic          = "order-events"
	defaultNotifyTimeout       = 10 * time.Second
	defaultNotifyMaxInFlight   = 32
	defaultNotifyLanguage      = "en"
	defaultOrderCurrency       = "USD"
	defaultInvoiceDueDays      = 30
	defaultCreateRateWindow    = time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Store drivers understood by the dependency container.
const (
	StoreDriverPostgres  = "postgres"
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Notify      NotifyConfig
	Orders      OrderConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver         string
	DatabaseURL    string
	MaxConns       int
	MigrateOnStart bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures order event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID  string
	OrderTopic string
}

// NotifyConfig configures the order notification relay. AdminPhone and APIKey are fallbacks for
// the settings stored in the database; APIKey may stay a secret reference until dispatch.
type NotifyConfig struct {
	RelayURL    string
	AdminPhone  string
	APIKey      string
	SenderID    string
	Username    string
	Timeout     time.Duration
	MaxInFlight int
	Language    string
	TimeZone    string
}

// OrderConfig holds order and invoice defaults. A zero CreateRateLimit disables create throttling.
type OrderConfig struct {
	Currency         string
	InvoiceDueDays   int
	CreateRateLimit  int
	CreateRateWindow time.Duration
}

// InvoiceDue returns the invoice payment window.
func (c OrderConfig) InvoiceDue() time.Duration {
	return time.Duration(c.InvoiceDueDays) * 24 * time.Hour
}

// IdempotencyConfig controls idempotency middleware behaviour. A RedisAddr switches the
// reservation store from the primary database to Redis.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	Environment  string
	FallbackFile string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

func defaultOptions() loaderOptions {
	return loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the
// process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// EnvironmentValues returns the effective environment after applying the precedence used by Load
// (dotenv < process env < explicit map). Callers use it to build the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, the environment and secret
// references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	env := lookupFunc(func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	})

	cfg := Config{
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Log: LogConfig{
			Level: strings.ToLower(env.str("LOG_LEVEL", defaultLogLevel)),
		},
		Store: StoreConfig{
			Driver:         strings.ToLower(env.str("API_STORE_DRIVER", defaultStoreDriver)),
			DatabaseURL:    env.str("API_DATABASE_URL", ""),
			MaxConns:       env.integer("API_DATABASE_MAX_CONNS", defaultDatabaseMaxConns),
			MigrateOnStart: env.boolean("API_DATABASE_MIGRATE", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:  env.str("API_PUBSUB_PROJECT_ID", ""),
			OrderTopic: env.str("API_PUBSUB_ORDER_TOPIC", ""),
		},
		Notify: NotifyConfig{
			RelayURL:    env.str("API_NOTIFY_RELAY_URL", ""),
			AdminPhone:  env.str("API_NOTIFY_ADMIN_PHONE", ""),
			APIKey:      env.str("API_NOTIFY_API_KEY", ""),
			SenderID:    env.str("API_NOTIFY_SENDER_ID", ""),
			Username:    env.str("API_NOTIFY_USERNAME", ""),
			Timeout:     env.duration("API_NOTIFY_TIMEOUT", defaultNotifyTimeout),
			MaxInFlight: env.integer("API_NOTIFY_MAX_INFLIGHT", defaultNotifyMaxInFlight),
			Language:    env.str("API_NOTIFY_LANGUAGE", defaultNotifyLanguage),
			TimeZone:    env.str("API_NOTIFY_TIMEZONE", "UTC"),
		},
		Orders: OrderConfig{
			Currency:         strings.ToUpper(env.str("API_ORDER_CURRENCY", defaultOrderCurrency)),
			InvoiceDueDays:   env.integer("API_INVOICE_DUE_DAYS", defaultInvoiceDueDays),
			CreateRateLimit:  env.integer("API_ORDER_CREATE_RATE_LIMIT", 0),
			CreateRateWindow: env.duration("API_ORDER_CREATE_RATE_WINDOW", defaultCreateRateWindow),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
			RedisAddr:        env.str("API_REDIS_ADDR", ""),
			RedisPassword:    env.str("API_REDIS_PASSWORD", ""),
			RedisDB:          env.integer("API_REDIS_DB", 0),
		},
		Secrets: SecretsConfig{
			ProjectID:    env.str("API_SECRETS_PROJECT_ID", ""),
			Environment:  strings.ToLower(env.str("API_SECRETS_ENVIRONMENT", "local")),
			FallbackFile: env.str("API_SECRETS_FALLBACK_FILE", ""),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	// The relay API key is resolved at dispatch time so rotations apply without a restart.
	for _, field := range []*string{&cfg.Store.DatabaseURL, &cfg.Idempotency.RedisPassword} {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		if cfg.Store.DatabaseURL == "" {
			invalid = append(invalid, "Store.DatabaseURL")
		}
		if cfg.Store.MaxConns <= 0 {
			invalid = append(invalid, "Store.MaxConns")
		}
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreDriverMemory:
	default:
		invalid = append(invalid, "Store.Driver")
	}
	if cfg.Notify.RelayURL != "" {
		if _, err := url.ParseRequestURI(cfg.Notify.RelayURL); err != nil {
			invalid = append(invalid, "Notify.RelayURL")
		}
	}
	if cfg.Notify.Timeout <= 0 {
		invalid = append(invalid, "Notify.Timeout")
	}
	if cfg.Notify.MaxInFlight <= 0 {
		invalid = append(invalid, "Notify.MaxInFlight")
	}
	if _, err := time.LoadLocation(cfg.Notify.TimeZone); err != nil {
		invalid = append(invalid, "Notify.TimeZone")
	}
	if len(cfg.Orders.Currency) != 3 {
		invalid = append(invalid, "Orders.Currency")
	}
	if cfg.Orders.InvoiceDueDays <= 0 {
		invalid = append(invalid, "Orders.InvoiceDueDays")
	}
	if cfg.Orders.CreateRateLimit < 0 {
		invalid = append(invalid, "Orders.CreateRateLimit")
	}
	if cfg.Orders.CreateRateLimit > 0 && cfg.Orders.CreateRateWindow <= 0 {
		invalid = append(invalid, "Orders.CreateRateWindow")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
