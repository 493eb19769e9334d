package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/parceldesk/parceldesk/internal/catalog"
	"github.com/parceldesk/parceldesk/internal/importer"
	"github.com/parceldesk/parceldesk/internal/observability"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/returns"
	"github.com/parceldesk/parceldesk/internal/shipments"
	"github.com/parceldesk/parceldesk/internal/stock"
	carriersync "github.com/parceldesk/parceldesk/internal/sync"
	"github.com/parceldesk/parceldesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	TokenResolver    TokenResolver
	SyncHandler      *carriersync.Handler
	ShipmentsHandler *shipments.Handler
	ReturnsHandler   *returns.Handler
	StockHandler     *stock.Handler
	CatalogHandler   *catalog.Handler
	PricingHandler   *pricing.Handler
	ImportHandler    *importer.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with ParcelDesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// The scheduler endpoint authorises with the shared cron secret, not a
	// tenant token, so it lives outside the tenant auth group.
	params.SyncHandler.MountCronRoutes(r)

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(TenantAuth(params.Logger, params.TokenResolver))

		r.Route("/sync", params.SyncHandler.MountRoutes)
		r.Route("/shipments", params.ShipmentsHandler.MountRoutes)
		r.Route("/returns", params.ReturnsHandler.MountRoutes)
		r.Route("/stock", params.StockHandler.MountRoutes)
		r.Route("/skus", func(r chi.Router) {
			params.CatalogHandler.MountRoutes(r)
			params.StockHandler.MountSKURoutes(r)
		})
		r.Route("/restocks", params.CatalogHandler.MountRestockRoutes)
		r.Route("/pricing", params.PricingHandler.MountRoutes)
		r.Route("/import", params.ImportHandler.MountRoutes)
	})

	return r
}
