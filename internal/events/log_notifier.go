package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/obs"
)

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, event Event) error {
	logger := n.Logger
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	logger.Info().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID).
		Str("store_id", event.StoreID).
		Msg("domain_event")
	obs.ObserveEventPublish("log", nil)
	return nil
}
