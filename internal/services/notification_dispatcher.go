package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultNotificationTimeout     = 10 * time.Second
	defaultNotificationMaxInFlight = 32
)

// ErrNotificationNotConfigured indicates the admin phone or relay API key is missing.
var ErrNotificationNotConfigured = errors.New("notification: relay not configured")

// OrderSummarySender delivers a rendered order summary to the messaging relay.
type OrderSummarySender interface {
	SendOrderSummary(ctx context.Context, settings NotificationSettings, order Order) error
}

// NotificationDispatcherDeps bundles collaborators required to construct the dispatcher.
type NotificationDispatcherDeps struct {
	Settings    NotificationSettingsSource
	Sender      OrderSummarySender
	Metrics     Metrics
	Timeout     time.Duration
	MaxInFlight int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	settings NotificationSettingsSource
	sender   OrderSummarySender
	metrics  Metrics
	timeout  time.Duration
	slots    chan struct{}
	wg       sync.WaitGroup
	logger   func(context.Context, string, map[string]any)
}

// NewNotificationDispatcher constructs a fire-and-forget dispatcher. Each send runs in its own
// goroutine bounded by Timeout; when MaxInFlight sends are running further orders are dropped.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Settings == nil {
		return nil, errors.New("notification dispatcher: settings source is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("notification dispatcher: sender is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	maxInFlight := deps.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultNotificationMaxInFlight
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &notificationDispatcher{
		settings: deps.Settings,
		sender:   deps.Sender,
		metrics:  metricsOrNoop(deps.Metrics),
		timeout:  timeout,
		slots:    make(chan struct{}, maxInFlight),
		logger:   logger,
	}, nil
}

func (d *notificationDispatcher) Dispatch(ctx context.Context, order Order) {
	select {
	case d.slots <- struct{}{}:
	default:
		d.metrics.Notification(NotificationOutcomeDropped)
		d.logger(ctx, "notification.dropped", map[string]any{
			"orderId": order.ID,
			"reason":  "too many notifications in flight",
		})
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()
		defer cancel()
		d.send(sendCtx, order)
	}()
}

// Wait blocks until every in-flight send finished or ctx is done.
func (d *notificationDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *notificationDispatcher) send(ctx context.Context, order Order) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Notification(NotificationOutcomeFailed)
			d.logger(ctx, "notification.failed", map[string]any{
				"orderId": order.ID,
				"error":   fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	settings, err := d.settings.Current(ctx)
	if err == nil && (strings.TrimSpace(settings.AdminPhone) == "" || strings.TrimSpace(settings.APIKey) == "") {
		err = ErrNotificationNotConfigured
	}
	if errors.Is(err, ErrNotificationNotConfigured) {
		d.metrics.Notification(NotificationOutcomeSkipped)
		d.logger(ctx, "notification.skipped", map[string]any{
			"orderId": order.ID,
			"reason":  "admin phone or api key missing",
		})
		return
	}
	if err != nil {
		d.metrics.Notification(NotificationOutcomeFailed)
		d.logger(ctx, "notification.failed", map[string]any{
			"orderId": order.ID,
			"stage":   "settings",
			"error":   err.Error(),
		})
		return
	}

	if err := d.sender.SendOrderSummary(ctx, settings, order); err != nil {
		d.metrics.Notification(NotificationOutcomeFailed)
		d.logger(ctx, "notification.failed", map[string]any{
			"orderId":  order.ID,
			"stage":    "relay",
			"error":    err.Error(),
			"duration": time.Since(started).String(),
		})
		return
	}

	d.metrics.Notification(NotificationOutcomeSent)
	d.logger(ctx, "notification.sent", map[string]any{
		"orderId":  order.ID,
		"duration": time.Since(started).String(),
	})
}
