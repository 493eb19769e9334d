package returns

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// Handler exposes returns over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{externalID}", h.handleGet)
	r.Post("/{externalID}/restock", h.handleRestock)
}

type returnResponse struct {
	ExternalID     string     `json:"externalId"`
	ReturnID       string     `json:"returnId,omitempty"`
	OrderRef       string     `json:"orderRef,omitempty"`
	Linked         bool       `json:"linked"`
	TrackingNumber string     `json:"trackingNumber,omitempty"`
	TrackingURL    string     `json:"trackingUrl,omitempty"`
	Status         string     `json:"status"`
	StatusMessage  string     `json:"statusMessage,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	ReasonComment  string     `json:"reasonComment,omitempty"`
	RestockedAt    *time.Time `json:"restockedAt,omitempty"`
	AnnouncedAt    time.Time  `json:"announcedAt"`
}

func toReturnResponse(ret Return) returnResponse {
	return returnResponse{
		ExternalID:     ret.ExternalID,
		ReturnID:       ret.ReturnID,
		OrderRef:       ret.OrderRef,
		Linked:         ret.OriginalShipmentID != nil,
		TrackingNumber: ret.TrackingNumber,
		TrackingURL:    ret.TrackingURL,
		Status:         ret.Status,
		StatusMessage:  ret.StatusMessage,
		Reason:         ret.Reason,
		ReasonComment:  ret.ReasonComment,
		RestockedAt:    ret.RestockedAt,
		AnnouncedAt:    ret.AnnouncedAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	rets, err := h.service.List(r.Context(), tenantID, shared.Pagination{Page: page, PerPage: size})
	if err != nil {
		h.logger.Error("list returns", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]returnResponse, 0, len(rets))
	for _, ret := range rets {
		out = append(out, toReturnResponse(ret))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	ret, err := h.service.Get(r.Context(), tenantID, chi.URLParam(r, "externalID"))
	if errors.Is(err, ErrReturnNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReturnResponse(ret))
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	result, err := h.service.Restock(r.Context(), tenantID, chi.URLParam(r, "externalID"))
	switch {
	case errors.Is(err, ErrReturnNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	case errors.Is(err, ErrAlreadyRestocked):
		httpx.Problem(w, http.StatusConflict, "Already Restocked", err.Error())
		return
	case errors.Is(err, ErrNoOriginalShipment):
		httpx.Problem(w, http.StatusUnprocessableEntity, "No Linked Shipment", err.Error())
		return
	case err != nil:
		h.logger.Error("restock return", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"booked":  result.Consumed,
		"skipped": result.Skipped,
		"errors":  result.Errors,
	})
}
