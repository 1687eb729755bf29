package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/httpx"
	"github.com/h7-ecom/api/internal/platform/pagination"
	"github.com/h7-ecom/api/internal/platform/requestctx"
	"github.com/h7-ecom/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

type createOrderRequest struct {
	UserID         string                   `json:"userId"`
	Items          []createOrderItemRequest `json:"items"`
	Shipping       shippingPayload          `json:"shipping"`
	PaymentMethod  string                   `json:"paymentMethod"`
	PhoneNumber    string                   `json:"phoneNumber"`
	AdditionalInfo string                   `json:"additionalInfo"`
	Currency       string                   `json:"currency"`
}

type createOrderItemRequest struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type patchOrderRequest struct {
	Status          *string `json:"status"`
	Notes           *string `json:"notes"`
	ShippingName    *string `json:"shippingName"`
	ShippingAddress *string `json:"shippingAddress"`
	ShippingCity    *string `json:"shippingCity"`
	ShippingZip     *string `json:"shippingZip"`
	ShippingCountry *string `json:"shippingCountry"`
}

type shippingPayload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type orderItemPayload struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	Product     productSnapshot `json:"product"`
}

type productSnapshot struct {
	ID    string          `json:"id"`
	Name  string          `json:"name,omitempty"`
	Price decimal.Decimal `json:"price"`
}

type userPayload struct {
	ID string `json:"id"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	UserID        string             `json:"userId"`
	User          userPayload        `json:"user"`
	Status        string             `json:"status"`
	Currency      string             `json:"currency"`
	Total         decimal.Decimal    `json:"total"`
	Items         []orderItemPayload `json:"items"`
	Shipping      shippingPayload    `json:"shipping"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	PhoneNumber   string             `json:"phoneNumber,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	Invoice       *invoicePayload    `json:"invoice,omitempty"`
	CreatedAt     string             `json:"createdAt"`
	UpdatedAt     string             `json:"updatedAt"`
	ConfirmedAt   string             `json:"confirmedAt,omitempty"`
	CompletedAt   string             `json:"completedAt,omitempty"`
	CancelledAt   string             `json:"cancelledAt,omitempty"`
	FulfilledAt   string             `json:"inventoryAppliedAt,omitempty"`
}

type invoicePayload struct {
	ID        string          `json:"id"`
	Number    string          `json:"invoiceNumber"`
	OrderID   string          `json:"orderId"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	DueDate   string          `json:"dueDate,omitempty"`
	CreatedAt string          `json:"createdAt"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// OrderHandlers exposes the order lifecycle over HTTP.
type OrderHandlers struct {
	orders   services.OrderService
	invoices services.InvoiceService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, invoices services.InvoiceService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		invoices: invoices,
	}
}

// Routes registers the order endpoints against the provided router. createMiddlewares wrap the
// create endpoint only.
func (h *OrderHandlers) Routes(r chi.Router, createMiddlewares ...func(http.Handler) http.Handler) {
	if r == nil {
		return
	}
	r.With(createMiddlewares...).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.patchOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Get("/{orderID}/invoice", h.getInvoice)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:        req.UserID,
		Shipping:      domain.ShippingDetails(req.Shipping),
		PaymentMethod: req.PaymentMethod,
		Phone:         req.PhoneNumber,
		Notes:         req.AdditionalInfo,
		Currency:      req.Currency,
	}
	cmd.Items = make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultOrderPageSize, MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("userId")),
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		filter.Status = &status
	}

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) patchOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req patchOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cmd := services.OrderTransitionCommand{
		OrderID: orderID,
		Notes:   req.Notes,
		Shipping: domain.ShippingPatch{
			Name:    req.ShippingName,
			Address: req.ShippingAddress,
			City:    req.ShippingCity,
			Zip:     req.ShippingZip,
			Country: req.ShippingCountry,
		},
		ActorID: requestctx.Actor(ctx),
	}
	if req.Status != nil {
		status, err := domain.ParseOrderStatus(*req.Status)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		cmd.TargetStatus = &status
	}

	order, err := h.orders.Transition(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.Delete(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	invoice, err := h.invoices.FindByOrderID(ctx, orderID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvoiceNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
		case errors.Is(err, services.ErrInvoiceInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invoice_error", "failed to load invoice", http.StatusInternalServerError))
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildInvoicePayload(invoice))
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		UserID:        order.UserID,
		User:          userPayload{ID: order.UserID},
		Status:        string(order.Status),
		Currency:      order.Currency,
		Total:         order.Total,
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Shipping:      shippingPayload(order.Shipping),
		PaymentMethod: order.PaymentMethod,
		PhoneNumber:   order.Phone,
		Notes:         order.Notes,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		ConfirmedAt:   formatTimePtr(order.ConfirmedAt),
		CompletedAt:   formatTimePtr(order.CompletedAt),
		CancelledAt:   formatTimePtr(order.CancelledAt),
		FulfilledAt:   formatTimePtr(order.InventoryAppliedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.UnitPrice,
			LineTotal:   item.LineTotal(),
			Product: productSnapshot{
				ID:    item.ProductID,
				Name:  item.ProductName,
				Price: item.UnitPrice,
			},
		})
	}
	if order.Invoice != nil {
		invoice := buildInvoicePayload(*order.Invoice)
		payload.Invoice = &invoice
	}
	return payload
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	return invoicePayload{
		ID:        invoice.ID,
		Number:    invoice.Number,
		OrderID:   invoice.OrderID,
		Total:     invoice.Total,
		Currency:  invoice.Currency,
		Status:    string(invoice.Status),
		DueDate:   formatTimePtr(invoice.DueDate),
		CreatedAt: formatTime(invoice.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_json", err.Error(), http.StatusBadRequest))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderRepositoryUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
