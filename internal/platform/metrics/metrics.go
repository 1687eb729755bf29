package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/observability"
)

const namespace = "orders"

// Recorder owns the service collectors and a dedicated registry. It satisfies services.Metrics.
type Recorder struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	created       prometheus.Counter
	transitions   *prometheus.CounterVec
	stockClamped  *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewRecorder registers the API collectors plus the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Orders placed.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed order status changes.",
		}, []string{"from", "to"}),
		stockClamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "stock_clamped_total",
			Help:      "Decrements that requested more units than were in stock.",
		}, []string{"product_id"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "outcomes_total",
			Help:      "Admin notification attempts by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests, r.latency, r.created, r.transitions, r.stockClamped, r.notifications,
	)
	return r
}

// Registry exposes the underlying registry for tests and additional collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) OrderCreated() { r.created.Inc() }

func (r *Recorder) OrderTransitioned(from, to domain.OrderStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) StockClamped(productID string) {
	r.stockClamped.WithLabelValues(productID).Inc()
}

func (r *Recorder) Notification(outcome string) {
	r.notifications.WithLabelValues(outcome).Inc()
}

// Middleware counts requests by chi route pattern so path parameters do not explode cardinality.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := observability.RoutePattern(req)
		method := observability.SanitizeMethod(req.Method)
		r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		r.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}
