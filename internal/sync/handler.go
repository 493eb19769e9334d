package sync

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// Handler exposes sync operations over HTTP.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	cronSecret string
}

// NewHandler constructs a sync handler. cronSecret guards the scheduler
// endpoint, which runs without a tenant session.
func NewHandler(logger *slog.Logger, service *Service, cronSecret string) *Handler {
	return &Handler{logger: logger, service: service, cronSecret: cronSecret}
}

// MountRoutes registers the tenant-scoped sync routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/run", h.handleRun)
	r.Post("/returns", h.handleReturnsRun)
	r.Get("/runs", h.handleListRuns)
}

// MountCronRoutes registers the scheduler endpoint. It is mounted outside
// the tenant auth group and authorised by the shared cron secret instead.
func (h *Handler) MountCronRoutes(r chi.Router) {
	r.Get("/cron", h.handleCron)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	stats, err := h.service.SyncTenant(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("manual sync failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Sync Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleReturnsRun(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	stats, err := h.service.SyncReturns(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("manual returns sync failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Sync Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type runResponse struct {
	ID         int64      `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Stats      Stats      `json:"stats"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	runs, err := h.service.ListRuns(r.Context(), tenantID, shared.Pagination{Page: page, PerPage: size})
	if err != nil {
		h.logger.Error("list sync runs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse{
			ID:         run.ID,
			Kind:       run.Kind,
			Status:     run.Status,
			Stats:      run.Stats,
			Error:      run.Error,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": out})
}

// handleCron is hit by the external scheduler. It syncs every active tenant
// and always answers 200 with per-tenant results; a tenant failure is data,
// not an HTTP error.
func (h *Handler) handleCron(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeCron(r) {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	results, err := h.service.SyncAll(r.Context(), KindCarrier)
	if err != nil {
		h.logger.Error("scheduled sync failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Sync Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) authorizeCron(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || h.cronSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}
