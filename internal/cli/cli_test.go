package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h7-ecom/api/internal/di"
	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/config"
	"github.com/h7-ecom/api/internal/repositories/memory"
)

func testDeps(store *memory.Store) runtimeDeps {
	return runtimeDeps{
		configOptions: []config.Option{
			config.WithoutSystemEnv(),
			config.WithEnvMap(map[string]string{
				"API_STORE_DRIVER": "memory",
			}),
		},
		openBackend: func(context.Context, config.Config) (di.Backend, error) {
			return di.Backend{Registry: store}, nil
		},
	}
}

func runCLI(t *testing.T, deps runtimeDeps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedOrder(t *testing.T, store *memory.Store) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:       "ord-cli",
		UserID:   "user-1",
		Status:   domain.OrderStatusPending,
		Currency: "USD",
		Total:    decimal.NewFromInt(20),
		Items: []domain.OrderItem{
			{ProductID: "prod-a", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
		},
	}
	require.NoError(t, store.Orders().Insert(context.Background(), order))
	return order
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, testDeps(memory.NewStore()), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ordersctl dev")
}

func TestSeedUpsertsProducts(t *testing.T) {
	store := memory.NewStore()
	path := filepath.Join(t.TempDir(), "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - id: prod-a
    name: Widget
    price: "10.50"
    stock: 5
  - id: prod-b
    name: Gadget
    price: "3"
    stock: 0
`), 0o600))

	out, err := runCLI(t, testDeps(store), "seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 products")

	product, err := store.Inventory().Get(context.Background(), "prod-a")
	require.NoError(t, err)
	assert.Equal(t, 5, product.Stock)
	assert.True(t, product.InStock)
	assert.True(t, product.Price.Equal(decimal.RequireFromString("10.50")))

	product, err = store.Inventory().Get(context.Background(), "prod-b")
	require.NoError(t, err)
	assert.False(t, product.InStock)
}

func TestParseSeedFileRejectsBadEntries(t *testing.T) {
	_, err := parseSeedFile([]byte("products:\n  - name: nameless\n"))
	assert.ErrorContains(t, err, "id is required")

	_, err = parseSeedFile([]byte("products:\n  - id: p\n    price: abc\n"))
	assert.ErrorContains(t, err, "invalid price")

	_, err = parseSeedFile([]byte("products: ["))
	assert.Error(t, err)
}

func TestTransitionConfirmsOrder(t *testing.T) {
	store := memory.NewStore()
	order := seedOrder(t, store)

	out, err := runCLI(t, testDeps(store), "transition", order.ID, "confirmed", "--notes", "called customer")
	require.NoError(t, err)
	assert.Contains(t, out, "CONFIRMED")
	assert.Contains(t, out, "20.00 USD")
	assert.Contains(t, out, "invoice")

	stored, err := store.Orders().FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, "called customer", stored.Notes)
	assert.NotNil(t, stored.ConfirmedAt)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	_, err := runCLI(t, testDeps(memory.NewStore()), "transition", "ord-1", "shipped")
	assert.Error(t, err)
}

func TestSettingsSetAndShow(t *testing.T) {
	store := memory.NewStore()
	deps := testDeps(store)

	_, err := runCLI(t, deps, "settings", "set")
	assert.ErrorContains(t, err, "--phone")

	out, err := runCLI(t, deps, "settings", "set", "--phone", "+15550100", "--api-key", "abcdef123456")
	require.NoError(t, err)
	assert.Contains(t, out, "settings saved")

	out, err = runCLI(t, deps, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "+15550100")
	assert.Contains(t, out, "********3456")
	assert.NotContains(t, out, "abcdef")
}

func TestMigrateWithoutPostgres(t *testing.T) {
	out, err := runCLI(t, testDeps(memory.NewStore()), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "no schema to migrate")
}

func TestIdempotencyCleanup(t *testing.T) {
	out, err := runCLI(t, testDeps(memory.NewStore()), "idempotency", "cleanup", "--batch", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired keys")
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(unset)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("abc"))
	assert.Equal(t, "secret://relay-key", maskSecret("secret://relay-key"))
	assert.Equal(t, "**cdef", maskSecret("abcdef"))
}
