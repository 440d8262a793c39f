package delivery

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
)

// Handler exposes read-only delivery endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Presale handles GET /deliveries/{id}/presale.
func (h *Handler) Presale(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Presale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, zerolog.Ctx(r.Context()), err)
		return
	}
	common.OK(w, http.StatusOK, view)
}
