package fulfillment

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-oms/meridian-oms/internal/catalog"
	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/platform/httpx"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// Handler serves the order, delivery and invoice write API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type orderLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	ClientID      int64              `json:"client_id"`
	ClientName    string             `json:"client_name"`
	ClientPhone   string             `json:"client_phone"`
	ClientAddress string             `json:"client_address"`
	CounterSale   bool               `json:"counter_sale"`
	Lines         []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
	Freight       float64            `json:"freight" validate:"gte=0"`
	TaxPercent    float64            `json:"tax_percent" validate:"gte=0,lte=100"`
	Discount      float64            `json:"discount" validate:"gte=0"`
	Advance       float64            `json:"advance" validate:"gte=0"`
	OrderDate     *time.Time         `json:"order_date"`
	ExpectedDate  *time.Time         `json:"expected_delivery_date"`
	Notes         string             `json:"notes"`
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	in := CreateOrderInput{
		ClientID:             req.ClientID,
		ClientName:           req.ClientName,
		ClientPhone:          req.ClientPhone,
		ClientAddress:        req.ClientAddress,
		CounterSale:          req.CounterSale,
		Freight:              req.Freight,
		TaxPercent:           req.TaxPercent,
		Discount:             req.Discount,
		Advance:              req.Advance,
		ExpectedDeliveryDate: req.ExpectedDate,
		Notes:                req.Notes,
	}
	if req.OrderDate != nil {
		in.OrderDate = *req.OrderDate
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	order, err := h.service.CreateOrder(r.Context(), in)
	if err != nil {
		h.respondError(w, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

type deliveryLineRequest struct {
	LineID   uuid.UUID `json:"line_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gt=0"`
}

type createDeliveryRequest struct {
	Lines        []deliveryLineRequest `json:"lines" validate:"dive"`
	DeliveryDate *time.Time            `json:"delivery_date"`
	Notes        string                `json:"notes"`
}

// CreateDelivery handles POST /orders/{id}/deliveries. An empty lines array
// delivers everything remaining.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	var req createDeliveryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	in := CreateDeliveryInput{OrderID: orderID, Notes: req.Notes}
	if req.DeliveryDate != nil {
		in.DeliveryDate = *req.DeliveryDate
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, DeliveryLine{LineID: line.LineID, Quantity: line.Quantity})
	}

	delivery, err := h.service.CreateDelivery(r.Context(), in)
	if err != nil {
		h.respondError(w, "create delivery", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, delivery)
}

type updateDeliveryStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateDeliveryStatus handles PATCH /deliveries/{id}/status.
func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid delivery id", httpx.ErrValidation))
		return
	}
	var req updateDeliveryStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	delivery, err := h.service.UpdateDeliveryStatus(r.Context(), id, DeliveryStatus(req.Status), actorID(r))
	if err != nil {
		h.respondError(w, "update delivery status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, delivery)
}

type generateInvoiceRequest struct {
	DeliveryID int64   `json:"delivery_id"`
	Advance    float64 `json:"advance" validate:"gte=0"`
}

// GenerateInvoice handles POST /orders/{id}/invoices.
func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	var req generateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	invoice, err := h.service.GenerateInvoice(r.Context(), GenerateInvoiceInput{
		OrderID:    orderID,
		DeliveryID: req.DeliveryID,
		Advance:    req.Advance,
		ActorID:    actorID(r),
	})
	if err != nil {
		h.respondError(w, "generate invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

// CancelOrder handles POST /orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	order, err := h.service.CancelOrder(r.Context(), orderID, actorID(r))
	if err != nil {
		h.respondError(w, "cancel order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// DeleteOrder handles DELETE /orders/{id}.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	if err := h.service.DeleteOrder(r.Context(), orderID, actorID(r)); err != nil {
		h.respondError(w, "delete order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /orders/{id}/deliveries.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	deliveries, err := h.service.ListDeliveries(r.Context(), orderID)
	if err != nil {
		h.respondError(w, "list deliveries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// GetDelivery handles GET /deliveries/{id}.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid delivery id", httpx.ErrValidation))
		return
	}
	delivery, err := h.service.GetDelivery(r.Context(), id)
	if err != nil {
		h.respondError(w, "get delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, delivery)
}

// GetInvoice handles GET /invoices/{id}.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid invoice id", httpx.ErrValidation))
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

// MountRoutes registers the fulfillment write routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.CreateOrder)
	r.Post("/orders/{id}/deliveries", h.CreateDelivery)
	r.Get("/orders/{id}/deliveries", h.ListDeliveries)
	r.Post("/orders/{id}/invoices", h.GenerateInvoice)
	r.Post("/orders/{id}/cancel", h.CancelOrder)
	r.Delete("/orders/{id}", h.DeleteOrder)
	r.Get("/deliveries/{id}", h.GetDelivery)
	r.Patch("/deliveries/{id}/status", h.UpdateDeliveryStatus)
	r.Get("/invoices/{id}", h.GetInvoice)
}

// respondError translates domain errors into the RFC7807 vocabulary.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var short *inventory.InsufficientStockError
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, ErrDeliveryNotFound),
		errors.Is(err, ErrInvoiceNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, clients.ErrClientNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.As(err, &short),
		errors.Is(err, orders.ErrOrderLocked),
		errors.Is(err, orders.ErrOrderCancelled),
		errors.Is(err, orders.ErrExceedsRemaining),
		errors.Is(err, orders.ErrExceedsDelivered),
		errors.Is(err, orders.ErrNothingToDeliver),
		errors.Is(err, ErrDeliveryStarted),
		errors.Is(err, ErrAdvanceExceedsTotal):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrRejected, err))
	case errors.Is(err, orders.ErrLineNotFound),
		errors.Is(err, ErrEmptyOrder),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrClientRequired),
		errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, shared.ErrLockHeld):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrLockBusy, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// actorID extracts the acting user from the X-Actor-ID header. Identity and
// access control live at the gateway; the header is trusted here.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
