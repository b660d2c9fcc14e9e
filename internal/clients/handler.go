package clients

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-oms/meridian-oms/internal/platform/httpx"
	"github.com/meridian-oms/meridian-oms/internal/shared"
)

// Handler serves the client directory API.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo, validate: validator.New()}
}

type upsertClientRequest struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address"`
}

// Upsert handles POST /clients. Phone is the natural key; posting an
// existing phone returns the existing client.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertClientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}

	c, err := h.repo.GetOrCreate(r.Context(), req.Name, req.Phone, req.Address)
	if err != nil {
		h.logger.Error("upsert client failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Get handles GET /clients/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	c, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			httpx.RespondError(w, fmt.Errorf("%w: client %d", httpx.ErrNotFound, id))
			return
		}
		h.logger.Error("get client failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// List handles GET /clients.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePage(r)
	list, err := h.repo.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		h.logger.Error("list clients failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"clients": list})
}

// MountRoutes registers client routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/clients", h.Upsert)
	r.Get("/clients", h.List)
	r.Get("/clients/{id}", h.Get)
}
