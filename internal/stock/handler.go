package stock

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// AuditPort records manual ledger interventions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler exposes the stock ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	reporter *Reporter
	recalc   *Recalculator
	audit    AuditPort
	validate *validator.Validate
}

// NewHandler constructs a stock handler.
func NewHandler(logger *slog.Logger, service *Service, reporter *Reporter, recalc *Recalculator, audit AuditPort) *Handler {
	return &Handler{logger: logger, service: service, reporter: reporter, recalc: recalc, audit: audit, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleOverview)
	r.Post("/adjust", h.handleAdjust)
	r.Post("/recalculate", h.handleRecalculate)
}

// MountSKURoutes registers the per-sku stock routes.
func (h *Handler) MountSKURoutes(r chi.Router) {
	r.Get("/{id}/stock", h.handleSnapshot)
	r.Get("/{id}/movements", h.handleMovements)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	rows, err := h.reporter.Overview(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("stock overview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stock": rows})
}

type adjustRequest struct {
	SKUID      int64  `json:"skuId" validate:"required"`
	LocationID int64  `json:"locationId" validate:"required"`
	Qty        int64  `json:"qty" validate:"min=0"`
	Note       string `json:"note"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	refID := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
	result, err := h.service.SetQuantity(r.Context(), tenantID, req.SKUID, req.LocationID, req.Qty, "manual_adjustment", refID, req.Note)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}
	h.recordAdjustAudit(r.Context(), tenantID, req, result)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"previousQty": result.PreviousQty,
		"newQty":      result.NewQty,
		"skipped":     result.Skipped,
	})
}

type recalcRequest struct {
	SinceDays int `json:"sinceDays"`
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalcRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
	}
	if req.SinceDays <= 0 {
		req.SinceDays = 90
	}
	tenantID := shared.TenantFromContext(r.Context())
	since := time.Now().UTC().AddDate(0, 0, -req.SinceDays)
	stats, err := h.recalc.Run(r.Context(), tenantID, since)
	if err != nil {
		h.logger.Error("stock recalculation failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	skuID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	locationID, _ := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if locationID == 0 {
		snaps, err := h.service.ListSnapshots(r.Context(), tenantID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var out []Snapshot
		for _, snap := range snaps {
			if snap.SKUID == skuID {
				out = append(out, snap)
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"snapshots": out})
		return
	}
	snap, err := h.service.GetSnapshot(r.Context(), tenantID, skuID, locationID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	skuID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	movements, err := h.service.ListMovements(r.Context(), tenantID, skuID, shared.Pagination{Page: page, PerPage: size})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) recordAdjustAudit(ctx context.Context, tenantID string, req adjustRequest, result MovementResult) {
	if h.audit == nil {
		return
	}
	var actor string
	if sess := shared.SessionFromContext(ctx); sess != nil {
		actor = sess.UserID
	}
	if err := h.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actor,
		Action:   "stock.set_quantity",
		Entity:   "sku",
		EntityID: strconv.FormatInt(req.SKUID, 10),
		Meta: map[string]any{
			"location_id":  req.LocationID,
			"previous_qty": result.PreviousQty,
			"new_qty":      result.NewQty,
			"note":         req.Note,
		},
	}); err != nil {
		h.logger.Warn("stock audit write failed", slog.Any("error", err))
	}
}

func (h *Handler) respondLedgerError(w http.ResponseWriter, err error) {
	var negErr *NegativeStockError
	switch {
	case errors.As(err, &negErr):
		httpx.Problem(w, http.StatusConflict, "Negative Stock", negErr.Error())
	case errors.Is(err, shared.ErrTenantRequired):
		httpx.RespondError(w, httpx.ErrUnauthorized)
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
