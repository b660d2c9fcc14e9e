package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/fulfillment"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/platform/httpx"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// Handler serves the payment API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type orderPaymentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
	Notes     string  `json:"notes"`
}

// RecordOrderPayment handles POST /orders/{id}/payments.
func (h *Handler) RecordOrderPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	var req orderPaymentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	payment, err := h.service.RecordOrderPayment(r.Context(), OrderPaymentInput{
		OrderID:   orderID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, "record order payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type allocationRequest struct {
	OrderID int64   `json:"order_id" validate:"required,gt=0"`
	Amount  float64 `json:"amount" validate:"required,gt=0"`
}

type clientPaymentRequest struct {
	Amount      float64             `json:"amount" validate:"required,gt=0"`
	Allocations []allocationRequest `json:"allocations" validate:"dive"`
	Method      string              `json:"method"`
	Reference   string              `json:"reference"`
	Notes       string              `json:"notes"`
}

// RecordClientPayment handles POST /clients/{id}/payments.
func (h *Handler) RecordClientPayment(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid client id", httpx.ErrValidation))
		return
	}
	var req clientPaymentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	in := ClientPaymentInput{
		ClientID:  clientID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		Notes:     req.Notes,
		ActorID:   actorID(r),
	}
	for _, a := range req.Allocations {
		in.Allocations = append(in.Allocations, AllocationRequest{OrderID: a.OrderID, Amount: a.Amount})
	}

	payment, err := h.service.RecordClientPayment(r.Context(), in)
	if err != nil {
		h.respondError(w, "record client payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type advancePaymentRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Method string  `json:"method"`
	Notes  string  `json:"notes"`
}

// RecordAdvancePayment handles POST /clients/{id}/advances.
func (h *Handler) RecordAdvancePayment(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid client id", httpx.ErrValidation))
		return
	}
	var req advancePaymentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	payment, err := h.service.RecordAdvancePayment(r.Context(), clientID, req.Amount, req.Method, req.Notes, actorID(r))
	if err != nil {
		h.respondError(w, "record advance payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type useAdvanceRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// UseAdvance handles POST /orders/{id}/use-advance.
func (h *Handler) UseAdvance(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	var req useAdvanceRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	payment, err := h.service.UseAdvanceForOrder(r.Context(), orderID, req.Amount, actorID(r))
	if err != nil {
		h.respondError(w, "use advance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type invoicePaymentRequest struct {
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}

// RecordInvoicePayment handles POST /invoices/{id}/payments.
func (h *Handler) RecordInvoicePayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid invoice id", httpx.ErrValidation))
		return
	}
	var req invoicePaymentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	payment, err := h.service.RecordInvoicePayment(r.Context(), InvoicePaymentInput{
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.respondError(w, "record invoice payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

// Get handles GET /payments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid payment id", httpx.ErrValidation))
		return
	}
	payment, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

// ListByOrder handles GET /orders/{id}/payments.
func (h *Handler) ListByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	list, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, "list order payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": list})
}

// ListByClient handles GET /clients/{id}/payments.
func (h *Handler) ListByClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid client id", httpx.ErrValidation))
		return
	}
	list, err := h.service.ListByClient(r.Context(), clientID)
	if err != nil {
		h.respondError(w, "list client payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": list})
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/{id}/payments", h.RecordOrderPayment)
	r.Get("/orders/{id}/payments", h.ListByOrder)
	r.Post("/orders/{id}/use-advance", h.UseAdvance)
	r.Post("/clients/{id}/payments", h.RecordClientPayment)
	r.Get("/clients/{id}/payments", h.ListByClient)
	r.Post("/clients/{id}/advances", h.RecordAdvancePayment)
	r.Post("/invoices/{id}/payments", h.RecordInvoicePayment)
	r.Get("/payments/{id}", h.Get)
}

func (h *Handler) decode(r *http.Request, dest any) error {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if err := h.validate.Struct(dest); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, clients.ErrClientNotFound),
		errors.Is(err, fulfillment.ErrInvoiceNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrExceedsBalanceDue),
		errors.Is(err, orders.ErrOrderCancelled),
		errors.Is(err, clients.ErrInsufficientAdvance),
		errors.Is(err, clients.ErrInsufficientRefundable):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrRejected, err))
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrOverAllocated):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, shared.ErrLockHeld):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrLockBusy, err))
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
