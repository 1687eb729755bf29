package services

import "context"

// Metrics receives counters for fulfilment outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	OrderCreated()
	OrderTransitioned(from, to OrderStatus)
	StockClamped(productID string)
	Notification(outcome string)
}

const (
	NotificationOutcomeSent    = "sent"
	NotificationOutcomeSkipped = "skipped"
	NotificationOutcomeFailed  = "failed"
	NotificationOutcomeDropped = "dropped"
)

type noopMetrics struct{}

func (noopMetrics) OrderCreated()                      {}
func (noopMetrics) OrderTransitioned(_, _ OrderStatus) {}
func (noopMetrics) StockClamped(string)                {}
func (noopMetrics) Notification(string)                {}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

func noopLogger(context.Context, string, map[string]any) {}
