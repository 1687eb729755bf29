package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/h7-ecom/api/internal/domain"
)

func TestRecorderCountsServiceEvents(t *testing.T) {
	r := NewRecorder()

	r.OrderCreated()
	r.OrderTransitioned(domain.OrderStatusPending, domain.OrderStatusConfirmed)
	r.OrderTransitioned(domain.OrderStatusPending, domain.OrderStatusConfirmed)
	r.StockClamped("sku-1")
	r.Notification("sent")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.created))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("PENDING", "CONFIRMED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stockClamped.WithLabelValues("sku-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("sent")))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := NewRecorder()
	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Method(http.MethodGet, "/metrics", r.Handler())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ord_2", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.requests.WithLabelValues("GET", "/orders/{orderID}", "404")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orders_http_requests_total{method="GET",route="/orders/{orderID}",status="404"} 2`)
}
