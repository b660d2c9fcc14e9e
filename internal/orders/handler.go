package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-oms/meridian-oms/internal/platform/cache"
	"github.com/meridian-oms/meridian-oms/internal/platform/httpx"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// CacheKey builds the read-cache key for one order. Mutating services
// invalidate it after every write.
func CacheKey(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

// Handler serves the order read API. Writes go through the fulfillment,
// payment and return handlers.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
	cache  *cache.ReadThrough
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, repo *Repository, cache *cache.ReadThrough) *Handler {
	return &Handler{logger: logger, repo: repo, cache: cache}
}

// Get handles GET /orders/{id} through the read-through cache.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}

	var order Order
	err = h.cache.FetchJSON(r.Context(), CacheKey(id), &order, func(ctx context.Context) (any, error) {
		return h.repo.Get(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: order %d", httpx.ErrNotFound, id))
			return
		}
		h.logger.Error("get order failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// List handles GET /orders with optional client_id and status filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePage(r)
	clientID, _ := strconv.ParseInt(r.URL.Query().Get("client_id"), 10, 64)
	status := Status(r.URL.Query().Get("status"))

	list, err := h.repo.List(r.Context(), clientID, status, page.Limit, page.Offset)
	if err != nil {
		h.logger.Error("list orders failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": list})
}

// MountRoutes registers order read routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Get)
}
