package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPGStore persists audit entries in the audit_logs table.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

var errPoolMissing = errors.New("audit: database pool not configured")

func (s *pgStore) Insert(ctx context.Context, e Entry) error {
	if s == nil || s.pool == nil {
		return errPoolMissing
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_logs
	(store_id, actor_kind, actor_user_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14)`,
		e.StoreID, e.ActorKind, e.ActorUserID, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path, e.Route,
		e.Status, e.IP, e.UserAgent, e.RequestID, nullJSON(e.Metadata))
	return err
}

func (s *pgStore) List(ctx context.Context, storeID string, limit, offset int) ([]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, errPoolMissing
	}
	rows, err := s.pool.Query(ctx, `SELECT id, store_id, actor_kind, COALESCE(actor_user_id, ''), action, resource_type,
	COALESCE(resource_id, ''), method, path, COALESCE(route, ''), status, COALESCE(ip, ''), COALESCE(user_agent, ''),
	COALESCE(request_id, ''), metadata, created_at
FROM audit_logs WHERE store_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, storeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.StoreID, &e.ActorKind, &e.ActorUserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Method, &e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent,
			&e.RequestID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullJSON(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
