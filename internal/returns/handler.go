package returns

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/inventory"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/payments"
	"github.com/meridian-oms/meridian-oms/internal/platform/httpx"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// Handler serves the return API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type returnLineRequest struct {
	LineID   uuid.UUID `json:"line_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gt=0"`
}

type createReturnRequest struct {
	Lines  []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
	Reason string              `json:"reason"`
}

// Create handles POST /orders/{id}/returns.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	var req createReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	in := CreateReturnInput{OrderID: orderID, Reason: req.Reason, ActorID: actorID(r)}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, ReturnLine{LineID: line.LineID, Quantity: line.Quantity})
	}

	ret, err := h.service.CreateReturn(r.Context(), in)
	if err != nil {
		h.respondError(w, "create return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

type refundRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// Refund handles POST /returns/{id}/refunds.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid return id", httpx.ErrValidation))
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	ret, err := h.service.RecordRefund(r.Context(), RefundInput{
		ReturnID: id,
		Amount:   req.Amount,
		ActorID:  actorID(r),
	})
	if err != nil {
		h.respondError(w, "record refund", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

// Get handles GET /returns/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid return id", httpx.ErrValidation))
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

// ListByOrder handles GET /orders/{id}/returns.
func (h *Handler) ListByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid order id", httpx.ErrValidation))
		return
	}
	list, err := h.service.ListByOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, "list returns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": list})
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/{id}/returns", h.Create)
	r.Get("/orders/{id}/returns", h.ListByOrder)
	r.Get("/returns/{id}", h.Get)
	r.Post("/returns/{id}/refunds", h.Refund)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrReturnNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrNothingDelivered),
		errors.Is(err, ErrExceedsRefundable),
		errors.Is(err, ErrNoRefundDue),
		errors.Is(err, orders.ErrOrderCancelled),
		errors.Is(err, orders.ErrExceedsDelivered),
		errors.Is(err, clients.ErrInsufficientRefundable),
		errors.Is(err, payments.ErrInvalidAmount):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrRejected, err))
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, orders.ErrLineNotFound),
		errors.Is(err, inventory.ErrInvalidQuantity):
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
