package pricing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/parceldesk/parceldesk/internal/platform/httpx"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// Handler exposes pricing rule management over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a pricing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/recalculate", h.handleRecalculate)
}

type ruleRequest struct {
	Carrier        string `json:"carrier" validate:"required"`
	WeightMinGrams int64  `json:"weightMinGrams" validate:"min=0"`
	WeightMaxGrams int64  `json:"weightMaxGrams" validate:"required,gtfield=WeightMinGrams"`
	PriceEUR       string `json:"priceEur" validate:"required"`
}

type ruleResponse struct {
	ID             int64     `json:"id"`
	Carrier        string    `json:"carrier"`
	WeightMinGrams int64     `json:"weightMinGrams"`
	WeightMaxGrams int64     `json:"weightMaxGrams"`
	PriceEUR       string    `json:"priceEur"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toRuleResponse(r Rule) ruleResponse {
	return ruleResponse{
		ID:             r.ID,
		Carrier:        DisplayCarrier(r.Carrier),
		WeightMinGrams: r.WeightMinGrams,
		WeightMaxGrams: r.WeightMaxGrams,
		PriceEUR:       r.PriceEUR.StringFixed(2),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	rules, err := h.service.ListRules(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list pricing rules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (h *Handler) decodeRule(r *http.Request) (Rule, error) {
	var req ruleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return Rule{}, httpx.ErrValidation
	}
	if err := h.validate.Struct(req); err != nil {
		return Rule{}, httpx.ErrValidation
	}
	price, err := decimal.NewFromString(req.PriceEUR)
	if err != nil {
		return Rule{}, httpx.ErrValidation
	}
	return Rule{
		TenantID:       shared.TenantFromContext(r.Context()),
		Carrier:        req.Carrier,
		WeightMinGrams: req.WeightMinGrams,
		WeightMaxGrams: req.WeightMaxGrams,
		PriceEUR:       price,
	}, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	rule, err := h.decodeRule(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.CreateRule(r.Context(), rule)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRuleResponse(created))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	rule, err := h.decodeRule(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule.ID = id
	updated, err := h.service.UpdateRule(r.Context(), rule)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRuleResponse(updated))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	tenantID := shared.TenantFromContext(r.Context())
	if err := h.service.DeleteRule(r.Context(), tenantID, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	tenantID := shared.TenantFromContext(r.Context())
	stats, err := h.service.RecalculateAll(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("pricing recalculation failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidBand), errors.Is(err, shared.ErrTenantRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error("pricing request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
