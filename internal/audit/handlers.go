package audit

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/tenant"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store          Store
	DefaultStoreID string
}

// List returns a page of the caller's store audit logs for administrators.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50, 200)
	storeID := h.DefaultStoreID
	if v, ok := tenant.FromContext(r.Context()); ok {
		storeID = v
	}

	entries, err := h.Store.List(r.Context(), storeID, perPage, (page-1)*perPage)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("list audit logs")
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.OK(w, http.StatusOK, entries)
}
