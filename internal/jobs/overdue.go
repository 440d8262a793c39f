// Package jobs defines the background tasks processed by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/paymentplan"
)

// TypeOverdueSweep refreshes the overdue flags of every active payment plan.
const TypeOverdueSweep = "payment_plans:overdue_sweep"

// OverdueSweepPayload scopes a sweep to one store; empty means every store.
type OverdueSweepPayload struct {
	StoreID string `json:"storeId,omitempty"`
}

// NewOverdueSweepTask builds a sweep task. Duplicate sweeps within uniqueFor are dropped.
func NewOverdueSweepTask(storeID string, uniqueFor time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(OverdueSweepPayload{StoreID: storeID})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(2), asynq.Timeout(10 * time.Minute)}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(TypeOverdueSweep, payload, opts...), nil
}

// Sweeper runs the overdue check across plans.
type Sweeper interface {
	CheckAllOverdue(ctx context.Context, storeID string) (paymentplan.SweepResult, error)
}

// OverdueSweepHandler processes TypeOverdueSweep tasks.
type OverdueSweepHandler struct {
	Sweeper Sweeper
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h OverdueSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload OverdueSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode overdue sweep payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	logger := h.Logger.With().Str("task", t.Type()).Str("store_id", payload.StoreID).Logger()
	ctx = logger.WithContext(ctx)

	started := time.Now()
	result, err := h.Sweeper.CheckAllOverdue(ctx, payload.StoreID)
	if err != nil {
		logger.Error().Err(err).Msg("overdue sweep failed")
		return err
	}
	if result.Skipped {
		logger.Info().Msg("overdue sweep already running elsewhere, skipped")
		return nil
	}
	logger.Info().
		Int("checked", result.Checked).
		Int("changed", result.Changed).
		Int("newly_overdue", result.NewlyOverdue).
		Dur("duration", time.Since(started)).
		Msg("overdue sweep finished")
	return nil
}

// NewServeMux routes worker tasks to their handlers.
func NewServeMux(sweep OverdueSweepHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeOverdueSweep, sweep)
	return mux
}

// Scheduler is the subset of asynq.Scheduler used to register periodic tasks.
type Scheduler interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// RegisterOverdueSweep schedules the sweep on spec (cron syntax or "@every 1h").
func RegisterOverdueSweep(s Scheduler, spec string, storeID string) (string, error) {
	task, err := NewOverdueSweepTask(storeID, 0)
	if err != nil {
		return "", err
	}
	id, err := s.Register(spec, task)
	if err != nil {
		return "", fmt.Errorf("register overdue sweep %q: %w", spec, err)
	}
	return id, nil
}
