package shipments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// Handler exposes shipments over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a shipments handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers shipment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{externalID}", h.handleGet)
	r.Post("/{externalID}/refresh", h.handleRefresh)
	r.Post("/{externalID}/cancel", h.handleCancel)
	r.Get("/{externalID}/label", h.handleLabel)
}

type shipmentResponse struct {
	ExternalID      string    `json:"externalId"`
	OrderRef        string    `json:"orderRef,omitempty"`
	Carrier         string    `json:"carrier"`
	Service         string    `json:"service,omitempty"`
	WeightGrams     int64     `json:"weightGrams"`
	Tracking        string    `json:"tracking,omitempty"`
	TrackingURL     string    `json:"trackingUrl,omitempty"`
	StatusID        int       `json:"statusId"`
	StatusMessage   string    `json:"statusMessage,omitempty"`
	ShippedAt       time.Time `json:"shippedAt"`
	CountryCode     string    `json:"countryCode,omitempty"`
	IsReturn        bool      `json:"isReturn"`
	HasError        bool      `json:"hasError"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	PricingStatus   string    `json:"pricingStatus,omitempty"`
	ComputedCostEUR *string   `json:"computedCostEur,omitempty"`
}

func toShipmentResponse(s Shipment) shipmentResponse {
	resp := shipmentResponse{
		ExternalID:    s.ExternalID,
		OrderRef:      s.OrderRef,
		Carrier:       s.Carrier,
		Service:       s.Service,
		WeightGrams:   s.WeightGrams,
		Tracking:      s.Tracking,
		TrackingURL:   s.TrackingURL,
		StatusID:      s.StatusID,
		StatusMessage: s.StatusMessage,
		ShippedAt:     s.ShippedAt,
		CountryCode:   s.CountryCode,
		IsReturn:      s.IsReturn,
		HasError:      s.HasError,
		ErrorMessage:  s.ErrorMessage,
		PricingStatus: s.PricingStatus,
	}
	if s.ComputedCostEUR.Valid {
		cost := s.ComputedCostEUR.Decimal.StringFixed(2)
		resp.ComputedCostEUR = &cost
	}
	return resp
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	q := r.URL.Query()
	filter := ListFilter{
		Carrier:       q.Get("carrier"),
		PricingStatus: q.Get("pricing_status"),
	}
	if v := q.Get("has_error"); v != "" {
		b := v == "true"
		filter.HasError = &b
	}
	if v := q.Get("is_return"); v != "" {
		b := v == "true"
		filter.IsReturn = &b
	}
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	shipments, err := h.service.List(r.Context(), tenantID, filter, shared.Pagination{Page: page, PerPage: size})
	if err != nil {
		h.logger.Error("list shipments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]shipmentResponse, 0, len(shipments))
	for _, s := range shipments {
		out = append(out, toShipmentResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shipments": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	shipment, items, err := h.service.Get(r.Context(), tenantID, chi.URLParam(r, "externalID"))
	if err != nil {
		h.respondShipmentError(w, err)
		return
	}
	type itemResponse struct {
		SKUCode     string `json:"skuCode"`
		Qty         int64  `json:"qty"`
		Description string `json:"description,omitempty"`
		Value       string `json:"value"`
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, itemResponse{SKUCode: item.SKUCode, Qty: item.Qty, Description: item.Description, Value: item.Value.StringFixed(2)})
	}
	resp := map[string]any{"shipment": toShipmentResponse(shipment), "items": out}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	shipment, err := h.service.Refresh(r.Context(), tenantID, chi.URLParam(r, "externalID"))
	if err != nil {
		h.respondShipmentError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toShipmentResponse(shipment))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	shipment, err := h.service.Cancel(r.Context(), tenantID, chi.URLParam(r, "externalID"))
	if err != nil {
		h.respondShipmentError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toShipmentResponse(shipment))
}

func (h *Handler) handleLabel(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	label, err := h.service.Label(r.Context(), tenantID, chi.URLParam(r, "externalID"))
	if err != nil {
		h.respondShipmentError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(label)
}

func (h *Handler) respondShipmentError(w http.ResponseWriter, err error) {
	var apiErr *carrier.APIError
	switch {
	case errors.Is(err, ErrShipmentNotFound), errors.Is(err, carrier.ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrAlreadyCancelled):
		httpx.Problem(w, http.StatusConflict, "Already Cancelled", err.Error())
	case errors.Is(err, ErrNoLabel):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.As(err, &apiErr):
		httpx.Problem(w, http.StatusBadGateway, "Carrier Error", apiErr.Error())
	default:
		h.logger.Error("shipment request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
