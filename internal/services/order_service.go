package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	orderIDPrefix       = "ord_"
	defaultCurrency     = "USD"
	maxOrderItems       = 200
	maxFreeTextLength   = 2000
	maxShippingFieldLen = 256
	maxLineQuantity     = math.MaxInt32
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates duplicates or an operation refused by the order's current state.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRepositoryUnavailable indicates the backing store could not be reached.
	ErrOrderRepositoryUnavailable = errors.New("order: repository unavailable")
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// CanTransition reports whether an order in status from may move to status to. A non-terminal
// status may be re-applied to itself.
func CanTransition(from, to OrderStatus) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return slices.Contains(orderStateTransitions[from], to)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	UnitOfWork      repositories.UnitOfWork
	Invoices        InvoiceService
	Inventory       InventoryService
	Notifier        NotificationDispatcher
	Events          OrderEventPublisher
	Metrics         Metrics
	DefaultCurrency string
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	invoices   InvoiceService
	inventory  InventoryService
	notifier   NotificationDispatcher
	events     OrderEventPublisher
	metrics    Metrics
	currency   string
	policy     *bluemonday.Policy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("order service: invoice service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}

	return &orderService{
		orders:     deps.Orders,
		unitOfWork: unit,
		invoices:   deps.Invoices,
		inventory:  deps.Inventory,
		notifier:   deps.Notifier,
		events:     deps.Events,
		metrics:    metricsOrNoop(deps.Metrics),
		currency:   currency,
		policy:     bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create persists a PENDING order and hands it to the notifier once committed.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if len(cmd.Items) > maxOrderItems {
		return Order{}, fmt.Errorf("%w: order must not contain more than %d items", ErrOrderInvalidInput, maxOrderItems)
	}

	items, total, err := s.snapshotItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	order := Order{
		ID:            s.nextOrderID(),
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		Currency:      currency,
		Items:         items,
		Total:         total,
		Shipping:      s.cleanShipping(cmd.Shipping),
		PaymentMethod: s.cleanText(cmd.PaymentMethod, maxShippingFieldLen),
		Phone:         s.cleanText(cmd.Phone, maxShippingFieldLen),
		Notes:         s.cleanText(cmd.Notes, maxFreeTextLength),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.OrderCreated()
	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"userId":  order.UserID,
		"items":   len(order.Items),
		"total":   order.Total.StringFixed(2),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		OccurredAt: now,
	})
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, order)
	}

	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	invoice, err := s.invoices.FindByOrderID(ctx, orderID)
	switch {
	case err == nil:
		order.Invoice = &invoice
	case errors.Is(err, ErrInvoiceNotFound):
	default:
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	if filter.Status != nil && !filter.Status.Valid() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *filter.Status)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Transition applies a patch and an optional status change as one unit of work. Side effects are
// keyed to the target status: CONFIRMED issues the invoice, COMPLETED decrements stock once.
func (s *orderService) Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == nil && cmd.Notes == nil && cmd.Shipping.IsEmpty() {
		return Order{}, fmt.Errorf("%w: status or patch fields are required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus != nil && !cmd.TargetStatus.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *cmd.TargetStatus)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	var (
		updated  Order
		previous OrderStatus
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		now := s.now()

		if cmd.TargetStatus != nil {
			target := *cmd.TargetStatus
			if !CanTransition(order.Status, target) {
				return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
			}
			if target != order.Status {
				order.Status = target
				stampStatus(&order, target, now)
			}
		}

		s.applyPatch(&order, cmd)
		order.UpdatedAt = now

		if cmd.TargetStatus != nil {
			if err := s.runSideEffect(txCtx, &order, now); err != nil {
				return err
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if updated.Status != previous {
		s.metrics.OrderTransitioned(previous, updated.Status)
		s.logger(ctx, "order.status.changed", map[string]any{
			"orderId": updated.ID,
			"from":    previous.String(),
			"to":      updated.Status.String(),
			"actor":   actor,
		})
		event := OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			UserID:         updated.UserID,
			Status:         updated.Status,
			PreviousStatus: previous,
			ActorID:        actor,
			OccurredAt:     updated.UpdatedAt,
		}
		if updated.Invoice != nil {
			event.InvoiceNumber = updated.Invoice.Number
		}
		s.publishEvent(ctx, event)
	}

	return updated, nil
}

// Delete removes an order that was never invoiced nor fulfilled.
func (s *orderService) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.InventoryAppliedAt != nil {
			return fmt.Errorf("%w: order %s already decremented stock", ErrOrderConflict, orderID)
		}
		_, err = s.invoices.FindByOrderID(txCtx, orderID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: order %s has an invoice", ErrOrderConflict, orderID)
		case !errors.Is(err, ErrInvoiceNotFound):
			return err
		}
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx, "order.deleted", map[string]any{"orderId": orderID})
	return nil
}

func (s *orderService) runSideEffect(ctx context.Context, order *Order, now time.Time) error {
	switch order.Status {
	case domain.OrderStatusConfirmed:
		invoice, err := s.invoices.EnsureInvoice(ctx, *order)
		if err != nil {
			return err
		}
		order.Invoice = &invoice
	case domain.OrderStatusCompleted:
		if order.InventoryAppliedAt != nil {
			s.logger(ctx, "order.inventory.already_applied", map[string]any{"orderId": order.ID})
			return nil
		}
		changes, err := s.inventory.ApplyDecrements(ctx, order.Items)
		if err != nil {
			return err
		}
		order.InventoryAppliedAt = &now
		s.logger(ctx, "order.inventory.applied", map[string]any{
			"orderId":  order.ID,
			"products": len(changes),
		})
	}
	return nil
}

func (s *orderService) applyPatch(order *Order, cmd OrderTransitionCommand) {
	if cmd.Notes != nil {
		order.Notes = s.cleanText(*cmd.Notes, maxFreeTextLength)
	}
	patch := cmd.Shipping
	if patch.Name != nil {
		order.Shipping.Name = s.cleanText(*patch.Name, maxShippingFieldLen)
	}
	if patch.Address != nil {
		order.Shipping.Address = s.cleanText(*patch.Address, maxShippingFieldLen)
	}
	if patch.City != nil {
		order.Shipping.City = s.cleanText(*patch.City, maxShippingFieldLen)
	}
	if patch.Zip != nil {
		order.Shipping.Zip = s.cleanText(*patch.Zip, maxShippingFieldLen)
	}
	if patch.Country != nil {
		order.Shipping.Country = s.cleanText(*patch.Country, maxShippingFieldLen)
	}
}

func (s *orderService) snapshotItems(input []CreateOrderItem) ([]OrderItem, decimal.Decimal, error) {
	items := make([]OrderItem, 0, len(input))
	total := decimal.Zero
	for i, line := range input {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.Quantity > maxLineQuantity {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].quantity must not exceed %d", ErrOrderInvalidInput, i, maxLineQuantity)
		}
		if line.Price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].price must not be negative", ErrOrderInvalidInput, i)
		}
		item := OrderItem{
			ProductID:   productID,
			ProductName: s.cleanText(line.ProductName, maxShippingFieldLen),
			Quantity:    line.Quantity,
			UnitPrice:   line.Price,
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}
	return items, total, nil
}

func (s *orderService) cleanShipping(in ShippingDetails) ShippingDetails {
	return ShippingDetails{
		Name:    s.cleanText(in.Name, maxShippingFieldLen),
		Address: s.cleanText(in.Address, maxShippingFieldLen),
		City:    s.cleanText(in.City, maxShippingFieldLen),
		Zip:     s.cleanText(in.Zip, maxShippingFieldLen),
		Country: s.cleanText(in.Country, maxShippingFieldLen),
	}
}

// cleanText strips markup and truncates to limit runes. Entities are fully decoded first so
// escaped tags reach the sanitiser as tags.
func (s *orderService) cleanText(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(decodeEntities(value))))
	if runes := []rune(cleaned); len(runes) > limit {
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}

// decodeEntities unescapes until nothing changes. Every pass that changes value shortens it.
func decodeEntities(value string) string {
	for {
		decoded := html.UnescapeString(value)
		if decoded == value {
			return value
		}
		value = decoded
	}
}

func stampStatus(order *Order, status OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		if order.ConfirmedAt == nil {
			order.ConfirmedAt = &now
		}
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderRepositoryUnavailable, err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status.String(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
