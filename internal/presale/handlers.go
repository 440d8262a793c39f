package presale

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/pricing"
)

// Handler exposes the pre-sale item endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the item endpoints on r. writes wraps every mutating route.
func (h *Handler) Routes(r chi.Router, writes ...func(http.Handler) http.Handler) {
	r.Get("/items", h.List)
	r.Get("/items/summary/active", h.ActiveSummary)
	r.Get("/items/car/{carId}", h.GetByCar)
	r.Get("/items/{id}", h.Get)
	r.Get("/items/{id}/units/{deliveryId}", h.Units)
	r.Get("/items/{id}/profit", h.Profit)

	r.Group(func(w chi.Router) {
		w.Use(writes...)
		w.Post("/items", h.Create)
		w.Put("/items/{id}/markup", h.UpdateMarkup)
		w.Put("/items/{id}/final-price", h.UpdateFinalPrice)
		w.Put("/items/{id}/status", h.UpdateStatus)
		w.Post("/items/{id}/assign", h.Assign)
		w.Post("/items/{id}/unassign", h.Unassign)
		w.Delete("/items/{id}", h.Cancel)
	})
}

// List handles GET /items.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(strings.TrimSpace(q.Get("status"))),
		CarID:  strings.TrimSpace(q.Get("carId")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OKWithMeta(w, http.StatusOK, items, common.Pagination{Page: page, PerPage: perPage, TotalItems: total})
}

// Create handles POST /items.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, created, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	common.OK(w, status, item)
}

// Get handles GET /items/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

// GetByCar handles GET /items/car/{carId}.
func (h *Handler) GetByCar(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetByCar(r.Context(), chi.URLParam(r, "carId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

// ActiveSummary handles GET /items/summary/active.
func (h *Handler) ActiveSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.ActiveSummary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, sum)
}

// Units handles GET /items/{id}/units/{deliveryId}.
func (h *Handler) Units(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.UnitsForDelivery(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "deliveryId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, map[string]any{"unitIds": units, "quantity": len(units)})
}

// Profit handles GET /items/{id}/profit.
func (h *Handler) Profit(w http.ResponseWriter, r *http.Request) {
	profit, err := h.service.Profit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, profit)
}

type markupRequest struct {
	MarkupPercentage *float64 `json:"markupPercentage" validate:"required,gte=-100"`
}

// UpdateMarkup handles PUT /items/{id}/markup.
func (h *Handler) UpdateMarkup(w http.ResponseWriter, r *http.Request) {
	var req markupRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.UpdateMarkup(r.Context(), chi.URLParam(r, "id"), *req.MarkupPercentage)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

type finalPriceRequest struct {
	FinalPrice *pricing.Money `json:"finalPrice" validate:"required,gte=0"`
}

// UpdateFinalPrice handles PUT /items/{id}/final-price.
func (h *Handler) UpdateFinalPrice(w http.ResponseWriter, r *http.Request) {
	var req finalPriceRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.UpdateFinalPrice(r.Context(), chi.URLParam(r, "id"), *req.FinalPrice)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

type statusRequest struct {
	Status Status `json:"status" validate:"required,oneof=purchased reserved delivered cancelled"`
}

// UpdateStatus handles PUT /items/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

// Assign handles POST /items/{id}/assign.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var in AssignInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.AssignUnits(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, result)
}

type unassignRequest struct {
	UnitIDs []string `json:"unitIds" validate:"required,min=1,dive,required"`
}

// Unassign handles POST /items/{id}/unassign.
func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	var req unassignRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.UnassignUnits(r.Context(), chi.URLParam(r, "id"), req.UnitIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

// Cancel handles DELETE /items/{id}. Items are never removed, only cancelled.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, item)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	common.WriteError(w, zerolog.Ctx(r.Context()), err)
}
