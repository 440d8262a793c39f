// Package tenant scopes requests, cache keys and locks to a store.
package tenant

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
)

// DefaultHeader carries the store identifier on incoming requests.
const DefaultHeader = "X-Store-ID"

// Store ids end up inside Redis keys, so separators and spaces are refused.
var validStoreID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

type storeKey struct{}

// Resolver picks the store for a request: the header value, else Default.
type Resolver struct {
	Header  string
	Default string
}

func NewResolver(header, fallback string) *Resolver {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultHeader
	}
	return &Resolver{Header: header, Default: strings.TrimSpace(fallback)}
}

// Middleware stores the resolved id on the context and tags the request
// logger with store_id. A malformed header is rejected with 400.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		storeID := strings.TrimSpace(req.Header.Get(r.Header))
		if storeID == "" {
			storeID = r.Default
		}
		if storeID == "" {
			next.ServeHTTP(w, req)
			return
		}
		if !validStoreID.MatchString(storeID) {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid store id", map[string]string{"header": r.Header})
			return
		}
		zerolog.Ctx(req.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("store_id", storeID)
		})
		next.ServeHTTP(w, req.WithContext(WithTenant(req.Context(), storeID)))
	})
}

// WithTenant returns ctx scoped to storeID.
func WithTenant(ctx context.Context, storeID string) context.Context {
	return context.WithValue(ctx, storeKey{}, strings.TrimSpace(storeID))
}

// FromContext returns the store id, if one was set and is non-empty.
func FromContext(ctx context.Context) (string, bool) {
	storeID, _ := ctx.Value(storeKey{}).(string)
	return storeID, storeID != ""
}
