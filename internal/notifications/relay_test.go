package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/h7-ecom/api/internal/domain"
)

func sampleOrder() domain.Order {
	return domain.Order{
		ID:       "ord_01",
		Currency: "USD",
		Items: []domain.OrderItem{
			{ProductID: "p1", ProductName: "Mug", Quantity: 3, UnitPrice: decimal.RequireFromString("10")},
			{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("5")},
		},
		Total:         decimal.RequireFromString("35"),
		Shipping:      domain.ShippingDetails{Name: "Ada", Address: "1 Main St", City: "Springfield", Zip: "12345", Country: "US"},
		PaymentMethod: "cash",
		Phone:         "+15550100",
		CreatedAt:     time.Date(2025, time.April, 3, 10, 30, 0, 0, time.UTC),
	}
}

func TestRelaySendOrderSummaryPostsForm(t *testing.T) {
	var (
		gotForm   url.Values
		gotAPIKey string
		gotType   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotAPIKey = r.Header.Get("apikey")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 1/1"}}`))
	}))
	defer server.Close()

	relay, err := NewRelay(RelayConfig{URL: server.URL, SenderID: "SHOP", HTTPClient: server.Client()})
	require.NoError(t, err)

	err = relay.SendOrderSummary(context.Background(), domain.NotificationSettings{AdminPhone: "+15559999", APIKey: "secret"}, sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, "secret", gotAPIKey)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
	assert.Equal(t, "+15559999", gotForm.Get("to"))
	assert.Equal(t, "SHOP", gotForm.Get("from"))
	assert.Contains(t, gotForm.Get("message"), "New order ord_01")
	assert.Contains(t, gotForm.Get("message"), "Mug x3")
}

func TestRelayNonSuccessIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	relay, err := NewRelay(RelayConfig{URL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	err = relay.Send(context.Background(), "bad", "+1", "hello")
	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, http.StatusUnauthorized, relayErr.StatusCode)
	assert.Equal(t, "invalid api key", relayErr.Body)
}

func TestRelayHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	relay, err := NewRelay(RelayConfig{URL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = relay.Send(ctx, "key", "+1", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRelayValidatesURL(t *testing.T) {
	_, err := NewRelay(RelayConfig{})
	assert.ErrorIs(t, err, ErrRelayNotConfigured)

	_, err = NewRelay(RelayConfig{URL: "not a url"})
	assert.Error(t, err)
}

func TestSummaryRendererIncludesOrderDetails(t *testing.T) {
	renderer := NewSummaryRenderer("en", time.UTC)
	order := sampleOrder()

	text := renderer.Render(order, order.CreatedAt)

	assert.Contains(t, text, "Customer: Ada")
	assert.Contains(t, text, "Phone: +15550100")
	assert.Contains(t, text, "Address: 1 Main St, 12345 Springfield, US")
	assert.Contains(t, text, "- p2 x1")
	assert.Contains(t, text, "35.00")
	assert.Contains(t, text, "Payment: cash")
	assert.Contains(t, text, "Placed: 2025-04-03 10:30 UTC")
	assert.NotContains(t, text, "Notes:")
}

func TestSummaryRendererUnknownCurrency(t *testing.T) {
	order := sampleOrder()
	order.Currency = "POINTS"

	text := NewSummaryRenderer("", nil).Render(order, order.CreatedAt)

	assert.Contains(t, text, "Total: 35.00 POINTS")
}
