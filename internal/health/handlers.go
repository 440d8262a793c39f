// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const defaultTimeout = 500 * time.Millisecond

// Check is one readiness dependency.
type Check struct {
	Name    string
	Timeout time.Duration
	Ping    func(ctx context.Context) error
}

// Postgres pings the pool.
func Postgres(pool *pgxpool.Pool, timeout time.Duration) Check {
	return Check{Name: "db", Timeout: timeout, Ping: pool.Ping}
}

// Redis pings the client.
func Redis(client redis.UniversalClient, timeout time.Duration) Check {
	return Check{Name: "redis", Timeout: timeout, Ping: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Handler runs the checks concurrently on every readiness probe. Once
// Drain is called readiness fails without probing anything.
type Handler struct {
	checks   []Check
	draining atomic.Bool
}

// New builds a ready Handler.
func New(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

// Drain marks the process as shutting down.
func (h *Handler) Drain() {
	h.draining.Store(true)
}

// Live always answers ok while the process serves HTTP.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Ready reports "ok" or the error text per check; any failure yields 503.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	var (
		mu     sync.Mutex
		status = make(map[string]string, len(h.checks))
		failed bool
	)
	var g errgroup.Group
	for _, c := range h.checks {
		g.Go(func() error {
			timeout := c.Timeout
			if timeout <= 0 {
				timeout = defaultTimeout
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			result := "ok"
			if err := c.Ping(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			status[c.Name] = result
			failed = failed || result != "ok"
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if failed {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
