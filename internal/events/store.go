package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPGStore persists events into the domain_events table.
func NewPGStore(pool *pgxpool.Pool) EventStore {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) InsertEvent(ctx context.Context, event Event) (Event, error) {
	if s == nil || s.pool == nil {
		return Event{}, errors.New("events: database pool not configured")
	}
	var storeID *string
	if event.StoreID != "" {
		storeID = &event.StoreID
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO domain_events (id, topic, store_id, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING occurred_at`,
		event.ID, event.Topic, storeID, event.AggregateID, []byte(event.Payload), event.OccurredAt,
	).Scan(&event.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	return event, nil
}
