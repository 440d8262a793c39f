// Package security holds response hardening and request size limits.
package security

import (
	"net/http"
	"strconv"
	"time"
)

// The API only emits JSON and XLSX, so framing and inline content are refused outright.
var baseHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
}

// Headers sets the hardening headers on every response. HSTS is sent only
// on HTTPS requests (direct TLS or X-Forwarded-Proto) and only when HSTS > 0.
type Headers struct {
	HSTS           time.Duration
	HSTSSubdomains bool
}

func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := h.hstsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		for _, kv := range baseHeaders {
			header.Set(kv[0], kv[1])
		}
		if hsts != "" && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
			header.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) hstsValue() string {
	secs := int64(h.HSTS / time.Second)
	if secs <= 0 {
		return ""
	}
	v := "max-age=" + strconv.FormatInt(secs, 10)
	if h.HSTSSubdomains {
		v += "; includeSubDomains"
	}
	return v
}
