package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_URL": "postgres://orders@localhost:5432/orders",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Store.Driver != StoreDriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.Store.Driver)
	}
	if cfg.Store.MaxConns != defaultDatabaseMaxConns {
		t.Errorf("unexpected max conns: %d", cfg.Store.MaxConns)
	}
	if cfg.Notify.Timeout != 10*time.Second {
		t.Errorf("expected 10s notify timeout, got %s", cfg.Notify.Timeout)
	}
	if cfg.Notify.MaxInFlight != defaultNotifyMaxInFlight {
		t.Errorf("unexpected notify max in flight: %d", cfg.Notify.MaxInFlight)
	}
	if cfg.Orders.Currency != "USD" {
		t.Errorf("expected USD, got %s", cfg.Orders.Currency)
	}
	if cfg.Orders.InvoiceDue() != 30*24*time.Hour {
		t.Errorf("unexpected invoice due window: %s", cfg.Orders.InvoiceDue())
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.RedisAddr != "" {
		t.Errorf("expected redis disabled by default, got %s", cfg.Idempotency.RedisAddr)
	}
	if cfg.PubSub.OrderTopic != "" {
		t.Errorf("expected event publishing disabled by default, got %s", cfg.PubSub.OrderTopic)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":          "9090",
		"API_SERVER_READ_TIMEOUT":  "20s",
		"API_STORE_DRIVER":         "FIRESTORE",
		"API_FIRESTORE_PROJECT_ID": "shop-prod",
		"FIRESTORE_EMULATOR_HOST":  "localhost:8085",
		"API_PUBSUB_ORDER_TOPIC":   "orders",
		"API_NOTIFY_RELAY_URL":     "https://relay.example.com/messaging",
		"API_NOTIFY_ADMIN_PHONE":   "+15550100",
		"API_NOTIFY_API_KEY":       "secret://notify/api-key",
		"API_NOTIFY_TIMEOUT":       "5s",
		"API_NOTIFY_MAX_INFLIGHT":  "4",
		"API_ORDER_CURRENCY":       "eur",
		"API_INVOICE_DUE_DAYS":     "14",
		"API_IDEMPOTENCY_TTL":      "48h",
		"API_REDIS_ADDR":           "localhost:6379",
		"API_REDIS_PASSWORD":       "sm://redis/password",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://redis/password" {
			return "hunter2\n", nil
		}
		return "", errors.New("unexpected ref " + ref)
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Driver != StoreDriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Store.Driver)
	}
	if cfg.PubSub.ProjectID != "shop-prod" || cfg.Secrets.ProjectID != "shop-prod" {
		t.Errorf("expected project ids to default to firestore project, got %s/%s", cfg.PubSub.ProjectID, cfg.Secrets.ProjectID)
	}
	if cfg.Notify.APIKey != "secret://notify/api-key" {
		t.Errorf("expected relay api key to stay a reference, got %s", cfg.Notify.APIKey)
	}
	if cfg.Notify.Timeout != 5*time.Second || cfg.Notify.MaxInFlight != 4 {
		t.Errorf("unexpected notify config: %+v", cfg.Notify)
	}
	if cfg.Orders.Currency != "EUR" || cfg.Orders.InvoiceDueDays != 14 {
		t.Errorf("unexpected order config: %+v", cfg.Orders)
	}
	if cfg.Idempotency.RedisPassword != "hunter2" {
		t.Errorf("expected resolved redis password, got %q", cfg.Idempotency.RedisPassword)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_STORE_DRIVER=memory\nAPI_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("expected driver from .env, got %s", cfg.Store.Driver)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit map to win over .env, got %s", cfg.Server.Port)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"API_STORE_DRIVER":     "postgres",
		"API_NOTIFY_RELAY_URL": "relay",
		"API_ORDER_CURRENCY":   "DOLLARS",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"Store.DatabaseURL", "Notify.RelayURL", "Orders.Currency"} {
		if !slices.Contains(validationErr.Fields(), field) {
			t.Errorf("expected %s in %v", field, validationErr.Fields())
		}
	}

	_, err = Load(context.Background(), WithEnvMap(map[string]string{"API_STORE_DRIVER": "mysql"}), WithoutSystemEnv(), WithEnvFile(""))
	if !errors.As(err, &validationErr) || !slices.Contains(validationErr.Fields(), "Store.Driver") {
		t.Fatalf("expected Store.Driver validation error, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_URL": "secret://db/url",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://db/url" || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("unexpected secret error: %v", secretErr)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=from-file\nB=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("B", "from-system")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{"C": "from-map"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["A"] != "from-file" || values["B"] != "from-system" || values["C"] != "from-map" {
		t.Fatalf("unexpected merged values: A=%s B=%s C=%s", values["A"], values["B"], values["C"])
	}
}

func TestNormalizeSecretReference(t *testing.T) {
	if !IsSecretReference(" sm://notify/key ") {
		t.Fatalf("expected sm:// to be a secret reference")
	}
	if got := NormalizeSecretReference("sm://notify/key"); got != "secret://notify/key" {
		t.Fatalf("unexpected normalized ref %s", got)
	}
	if IsSecretReference("plain-value") {
		t.Fatalf("plain values are not references")
	}
}
