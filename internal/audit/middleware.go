package audit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/tenant"
)

// Middleware records every non-safe request once the handler finished,
// whatever the outcome. The {id} URL param becomes the resource id.
func (r Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Enabled || isSafeMethod(req.Method) {
			next.ServeHTTP(w, req)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		if err := r.Record(req.Context(), entryFromRequest(req, ww.Status())); err != nil && r.OnError != nil {
			r.OnError(err)
		}
	})
}

func entryFromRequest(req *http.Request, status int) Entry {
	ctx := req.Context()
	if status == 0 {
		status = http.StatusOK
	}
	route := obs.RoutePatternFromContext(ctx)
	if route == "" {
		route = req.URL.Path
	}
	storeID, _ := tenant.FromContext(ctx)
	userID, _ := common.UserID(ctx)

	e := Entry{
		StoreID:     storeID,
		ActorUserID: strings.TrimSpace(userID),
		ResourceID:  chi.URLParam(req, "id"),
		Method:      req.Method,
		Path:        req.URL.Path,
		Route:       route,
		Status:      status,
		IP:          common.ClientIP(req),
		UserAgent:   req.UserAgent(),
		RequestID:   middleware.GetReqID(ctx),
	}
	if e.RequestID == "" {
		e.RequestID = req.Header.Get(middleware.RequestIDHeader)
	}
	if req.URL.RawQuery != "" {
		e.Metadata, _ = json.Marshal(map[string]string{"query": req.URL.RawQuery})
	}
	return e
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
