package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// Handler exposes catalog management over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sku routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleListSKUs)
	r.Get("/{id}", h.handleGetSKU)
}

// MountRestockRoutes registers the inbound restock routes.
func (h *Handler) MountRestockRoutes(r chi.Router) {
	r.Post("/", h.handleAnnounceRestock)
	r.Post("/{id}/receive", h.handleReceiveRestock)
}

func (h *Handler) handleListSKUs(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	skus, err := h.service.ListSKUs(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list skus", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"skus": skus})
}

func (h *Handler) handleGetSKU(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	sku, err := h.service.GetSKU(r.Context(), tenantID, id)
	if errors.Is(err, ErrSKUNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sku)
}

type announceRestockRequest struct {
	SKUID      int64  `json:"skuId" validate:"required"`
	LocationID int64  `json:"locationId"`
	Qty        int64  `json:"qty" validate:"required,min=1"`
	Reference  string `json:"reference"`
}

func (h *Handler) handleAnnounceRestock(w http.ResponseWriter, r *http.Request) {
	var req announceRestockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	id, err := h.service.AnnounceRestock(r.Context(), InboundRestock{
		TenantID:   tenantID,
		SKUID:      req.SKUID,
		LocationID: req.LocationID,
		Qty:        req.Qty,
		Reference:  req.Reference,
	})
	if errors.Is(err, ErrSKUNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("announce restock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) handleReceiveRestock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	result, err := h.service.ReceiveRestock(r.Context(), tenantID, id)
	if errors.Is(err, ErrRestockNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("receive restock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"previousQty": result.PreviousQty,
		"newQty":      result.NewQty,
		"skipped":     result.Skipped,
	})
}
