// Package audit keeps a per-store trail of state-changing API calls.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Actor kinds stored in Entry.ActorKind.
const (
	ActorUser      = "user"
	ActorAnonymous = "anonymous"
)

// Entry is one persisted audit record.
type Entry struct {
	ID           int64           `json:"id"`
	StoreID      string          `json:"storeId"`
	ActorKind    string          `json:"actorKind"`
	ActorUserID  string          `json:"actorUserId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        string          `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store persists and lists entries.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
	List(ctx context.Context, storeID string, limit, offset int) ([]Entry, error)
}

// Recorder writes audit entries. A disabled recorder drops everything.
type Recorder struct {
	Store   Store
	Enabled bool
	OnError func(error)
}

// Record fills derived fields (action, resource type, actor kind) and stores e.
func (r Recorder) Record(ctx context.Context, e Entry) error {
	if !r.Enabled {
		return nil
	}
	if r.Store == nil {
		return errors.New("audit: store not configured")
	}
	if e.ActorUserID == "" {
		e.ActorKind = ActorAnonymous
	} else {
		e.ActorKind = ActorUser
	}
	if e.Action == "" {
		e.Action = e.Method + " " + nonEmpty(e.Route, "/")
	}
	if e.ResourceType == "" {
		e.ResourceType = resourceType(e.Route)
	}
	return r.Store.Insert(ctx, e)
}

// resourceType turns "/api/v1/presale/payments/{id}/cancel" into
// "payments.{id}.cancel".
func resourceType(route string) string {
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	route = strings.TrimPrefix(route, "api/v1/")
	if rest, ok := strings.CutPrefix(route, "presale/"); ok && rest != "" {
		route = rest
	}
	return strings.ReplaceAll(route, "/", ".")
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
