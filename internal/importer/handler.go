package importer

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// maxUploadBytes bounds CSV uploads.
const maxUploadBytes = 10 << 20

// Handler exposes the CSV import endpoints.
type Handler struct {
	logger   *slog.Logger
	importer *Importer
}

// NewHandler constructs an import handler.
func NewHandler(logger *slog.Logger, importer *Importer) *Handler {
	return &Handler{logger: logger, importer: importer}
}

// MountRoutes registers import routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/pricing", h.handle("pricing"))
	r.Post("/skus", h.handle("skus"))
	r.Post("/locations", h.handle("locations"))
	r.Post("/restock", h.handle("restock"))
}

func (h *Handler) handle(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := shared.TenantFromContext(r.Context())
		body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
		defer body.Close()

		var result Result
		var err error
		switch kind {
		case "pricing":
			result, err = h.importer.ImportPricing(r.Context(), tenantID, body)
		case "skus":
			result, err = h.importer.ImportSKUs(r.Context(), tenantID, body)
		case "locations":
			result, err = h.importer.ImportLocations(r.Context(), tenantID, body)
		case "restock":
			// Each upload gets its own id so re-uploading the same file
			// books again while retries within one upload stay deduplicated.
			result, err = h.importer.ImportRestock(r.Context(), tenantID, uuid.NewString(), body)
		}
		if err != nil {
			h.logger.Error("csv import failed", slog.String("kind", kind), slog.Any("error", err))
			httpx.Problem(w, http.StatusUnprocessableEntity, "Import Failed", err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, result)
	}
}
