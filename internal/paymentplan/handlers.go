package paymentplan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Exporter renders plans into a downloadable document.
type Exporter interface {
	WritePlans(w io.Writer, plans []Plan) error
}

// Middlewares groups the middleware applied to mutating and administrative routes.
type Middlewares struct {
	Writes []func(http.Handler) http.Handler
	Admin  []func(http.Handler) http.Handler
}

// Handler exposes the payment plan endpoints.
type Handler struct {
	service  *Service
	exporter Exporter
}

// NewHandler constructs a Handler. exporter may be nil, which disables the export route.
func NewHandler(service *Service, exporter Exporter) *Handler {
	return &Handler{service: service, exporter: exporter}
}

// Routes registers the payment plan endpoints on r.
func (h *Handler) Routes(r chi.Router, mw Middlewares) {
	r.Get("/payments/overdue/list", h.Overdue)
	r.Get("/payments/statistics/global", h.Statistics)
	r.Get("/payments/customer/{customerId}/summary", h.CustomerSummary)
	r.Get("/payments/delivery/{deliveryId}", h.GetByDelivery)
	if h.exporter != nil {
		r.Get("/payments/export.xlsx", h.Export)
	}
	r.Get("/payments/{id}", h.Get)
	r.Get("/payments/{id}/schedule", h.Schedule)
	r.Get("/payments/{id}/next", h.NextDue)
	r.Get("/payments/{id}/analytics", h.Analytics)
	r.Post("/payments/preview", h.Preview)

	r.Group(func(w chi.Router) {
		w.Use(mw.Writes...)
		w.Post("/payments", h.Create)
		w.Post("/payments/{id}/record", h.Record)
		w.Put("/payments/{id}/check-overdue", h.CheckOverdue)
		w.Post("/payments/{id}/early-bonus", h.EarlyBonus)
		w.Put("/payments/{id}/status", h.UpdateStatus)
		w.Put("/payments/{id}/cancel", h.Cancel)

		w.Group(func(a chi.Router) {
			a.Use(mw.Admin...)
			a.Put("/payments/check-all-overdue", h.CheckAllOverdue)
			a.Delete("/payments/{id}", h.Delete)
		})
	})
}

// Create handles POST /payments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	plan, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusCreated, plan)
}

// Preview handles POST /payments/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var in PreviewInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	preview, err := h.service.Preview(in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, preview)
}

// Get handles GET /payments/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, plan)
}

// GetByDelivery handles GET /payments/delivery/{deliveryId}.
func (h *Handler) GetByDelivery(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.GetByDelivery(r.Context(), chi.URLParam(r, "deliveryId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, plan)
}

// Schedule handles GET /payments/{id}/schedule.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.service.Schedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, schedule)
}

// NextDue handles GET /payments/{id}/next. data is null once the plan is settled.
func (h *Handler) NextDue(w http.ResponseWriter, r *http.Request) {
	next, err := h.service.NextDue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, next)
}

// Analytics handles GET /payments/{id}/analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Analytics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, a)
}

// Record handles POST /payments/{id}/record.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var in RecordInput
	if err := common.DecodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.service.RecordPayment(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, result)
}

// CheckOverdue handles PUT /payments/{id}/check-overdue.
func (h *Handler) CheckOverdue(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.CheckOverdue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, plan)
}

// CheckAllOverdue handles PUT /payments/check-all-overdue for the caller's store.
func (h *Handler) CheckAllOverdue(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CheckAllOverdue(r.Context(), h.service.storeID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, result)
}

// EarlyBonus handles POST /payments/{id}/early-bonus.
func (h *Handler) EarlyBonus(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ApplyEarlyBonus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, result)
}

type statusRequest struct {
	Status Status `json:"status" validate:"required,oneof=pending in-progress completed paused cancelled"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// UpdateStatus handles PUT /payments/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	plan, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, plan)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// Cancel handles PUT /payments/{id}/cancel. The body is optional.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.Body != nil && r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, r, common.NewAppError(common.CodeBadRequest, "invalid payload", http.StatusBadRequest, common.ErrValidation))
			return
		}
		if err := common.Validate(req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	plan, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, plan)
}

// Delete handles DELETE /payments/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Overdue handles GET /payments/overdue/list.
func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.OverduePlans(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, plans)
}

// CustomerSummary handles GET /payments/customer/{customerId}/summary.
func (h *Handler) CustomerSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.CustomerSummary(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, sum)
}

// Statistics handles GET /payments/statistics/global.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Statistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.OK(w, http.StatusOK, st)
}

// Export handles GET /payments/export.xlsx. An optional status query narrows the plans.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		st := Status(raw)
		if !st.Valid() {
			h.writeError(w, r, errValidation(fmt.Sprintf("unknown status %q", raw)))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	plans, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exporter.WritePlans(&buf, plans); err != nil {
		h.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("payment-plans-%s.xlsx", h.service.now().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("write payment plan export failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	common.WriteError(w, zerolog.Ctx(r.Context()), err)
}
