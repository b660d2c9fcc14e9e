package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-oms/meridian-oms/internal/catalog"
	"github.com/meridian-oms/meridian-oms/internal/clients"
	"github.com/meridian-oms/meridian-oms/internal/fulfillment"
	"github.com/meridian-oms/meridian-oms/internal/observability"
	"github.com/meridian-oms/meridian-oms/internal/orders"
	"github.com/meridian-oms/meridian-oms/internal/payments"
	"github.com/meridian-oms/meridian-oms/internal/returns"
	"github.com/meridian-oms/meridian-oms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	CatalogHandler     *catalog.Handler
	ClientHandler      *clients.Handler
	OrderHandler       *orders.Handler
	FulfillmentHandler *fulfillment.Handler
	PaymentHandler     *payments.Handler
	ReturnHandler      *returns.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.ClientHandler != nil {
			params.ClientHandler.MountRoutes(r)
		}
		if params.OrderHandler != nil {
			params.OrderHandler.MountRoutes(r)
		}
		if params.FulfillmentHandler != nil {
			params.FulfillmentHandler.MountRoutes(r)
		}
		if params.PaymentHandler != nil {
			params.PaymentHandler.MountRoutes(r)
		}
		if params.ReturnHandler != nil {
			params.ReturnHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
