package presale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/events"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/pricing"
	"github.com/noah-isme/presale-api/internal/tenant"
)

// DefaultMarkup is applied when an item is created without markup or final price.
const DefaultMarkup = 15.0

// DeliveryLinker keeps the delivery's pre-sale flag in sync with assignments.
type DeliveryLinker interface {
	SetHasPresaleItems(ctx context.Context, storeID, deliveryID string, has bool) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// ServiceConfig configures the Service dependencies.
type ServiceConfig struct {
	Store          Store
	Cache          *Cache
	Deliveries     DeliveryLinker
	Events         Emitter
	DefaultStoreID string
	DefaultMarkup  *float64
	MaxAttempts    int
	Now            func() time.Time
	NewID          func() string
}

// Service orchestrates pre-sale item operations on top of a Store.
type Service struct {
	store          Store
	cache          *Cache
	deliveries     DeliveryLinker
	events         Emitter
	defaultStoreID string
	defaultMarkup  float64
	maxAttempts    int
	now            func() time.Time
	newID          func() string
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("presale: store is required")
	}
	markup := DefaultMarkup
	if cfg.DefaultMarkup != nil {
		markup = *cfg.DefaultMarkup
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	storeID := strings.TrimSpace(cfg.DefaultStoreID)
	if storeID == "" {
		storeID = "default"
	}
	return &Service{
		store:          cfg.Store,
		cache:          cfg.Cache,
		deliveries:     cfg.Deliveries,
		events:         cfg.Events,
		defaultStoreID: storeID,
		defaultMarkup:  markup,
		maxAttempts:    attempts,
		now:            func() time.Time { return now().UTC() },
		newID:          newID,
	}, nil
}

// CreateInput registers purchased units of a car for pre-sale.
type CreateInput struct {
	PurchaseID       string         `json:"purchaseId" validate:"omitempty,max=64"`
	CarID            string         `json:"carId" validate:"required,max=64"`
	Quantity         int            `json:"quantity" validate:"gt=0"`
	UnitPrice        pricing.Money  `json:"unitPrice" validate:"gte=0"`
	MarkupPercentage *float64       `json:"markupPercentage" validate:"omitempty,gte=-100"`
	FinalPrice       *pricing.Money `json:"finalPrice" validate:"omitempty,gt=0"`
	CarModel         string         `json:"carModel" validate:"omitempty,max=200"`
	Brand            string         `json:"brand" validate:"omitempty,max=100"`
	PieceType        string         `json:"pieceType" validate:"omitempty,oneof=basic premium rlc"`
	Condition        string         `json:"condition" validate:"omitempty,oneof=mint good fair poor"`
	Notes            string         `json:"notes" validate:"omitempty,max=2000"`
}

// AssignInput reserves units of an item for a delivery.
type AssignInput struct {
	DeliveryID string `json:"deliveryId" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	PurchaseID string `json:"purchaseId" validate:"omitempty,max=64"`
}

// AssignResult carries the updated item plus the generated unit identifiers.
type AssignResult struct {
	Item    Item     `json:"item"`
	UnitIDs []string `json:"unitIds"`
}

// Summary aggregates every active (not cancelled or delivered) item of a store.
type Summary struct {
	TotalActiveItems        int           `json:"totalActiveItems"`
	TotalQuantityAvailable  int           `json:"totalQuantityAvailable"`
	TotalQuantityAssigned   int           `json:"totalQuantityAssigned"`
	TotalPotentialRevenue   pricing.Money `json:"totalPotentialRevenue"`
	TotalCostAmount         pricing.Money `json:"totalCostAmount"`
	TotalPotentialProfit    pricing.Money `json:"totalPotentialProfit"`
	AverageMarkupPercentage float64       `json:"averageMarkupPercentage"`
}

// Create registers a purchase. When an active item for the car already exists
// the purchase is merged into it and created is false.
func (s *Service) Create(ctx context.Context, in CreateInput) (item Item, created bool, err error) {
	defer func() { obs.ObserveItemOperation("create", err) }()
	if err := common.Validate(in); err != nil {
		return Item{}, false, err
	}
	storeID := s.storeID(ctx)

	existing, err := s.store.FindActiveByCar(ctx, storeID, in.CarID)
	switch {
	case err == nil:
		merged, err := s.merge(ctx, existing.ID, in)
		return merged, false, err
	case !errors.Is(err, ErrItemNotFound):
		return Item{}, false, err
	}

	now := s.now()
	fresh := Item{
		ID:          s.newID(),
		StoreID:     storeID,
		CarID:       in.CarID,
		CarModel:    in.CarModel,
		Brand:       in.Brand,
		PieceType:   in.PieceType,
		Condition:   in.Condition,
		Notes:       in.Notes,
		UnitPrice:   in.UnitPrice,
		Quantity:    in.Quantity,
		Status:      StatusPurchased,
		Assignments: []Assignment{},
		StartDate:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.PurchaseID != "" {
		fresh.PurchaseIDs = []string{in.PurchaseID}
	}
	if err := s.applyPrice(&fresh, in); err != nil {
		return Item{}, false, err
	}

	saved, err := s.store.Insert(ctx, fresh)
	if errors.Is(err, ErrDuplicateItem) {
		// lost a race with a concurrent create for the same car
		existing, err := s.store.FindActiveByCar(ctx, storeID, in.CarID)
		if err != nil {
			return Item{}, false, err
		}
		merged, err := s.merge(ctx, existing.ID, in)
		return merged, false, err
	}
	if err != nil {
		return Item{}, false, err
	}
	s.emit(ctx, events.TopicItemCreated, saved.ID, map[string]any{
		"carId":    saved.CarID,
		"quantity": saved.Quantity,
	})
	return saved, true, nil
}

func (s *Service) merge(ctx context.Context, id string, in CreateInput) (Item, error) {
	saved, err := s.mutate(ctx, id, func(it *Item) error {
		if err := it.AddPurchase(in.PurchaseID, in.Quantity); err != nil {
			return err
		}
		if in.FinalPrice == nil && in.MarkupPercentage == nil {
			return nil
		}
		return s.applyPrice(it, in)
	})
	if err != nil {
		return Item{}, err
	}
	s.emit(ctx, events.TopicItemUpdated, saved.ID, map[string]any{
		"purchaseId": in.PurchaseID,
		"added":      in.Quantity,
		"quantity":   saved.Quantity,
	})
	return saved, nil
}

// applyPrice sets the sale price; an explicit final price wins over a markup.
func (s *Service) applyPrice(it *Item, in CreateInput) error {
	if in.FinalPrice != nil {
		return it.SetFinalPrice(*in.FinalPrice)
	}
	markup := s.defaultMarkup
	if in.MarkupPercentage != nil {
		markup = *in.MarkupPercentage
	}
	return it.SetMarkup(markup)
}

// Get returns a single item, served from the cache when possible.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	storeID := s.storeID(ctx)
	if cached, ok, err := s.cache.Get(ctx, storeID, id); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("item_id", id).Msg("presale cache read failed")
	} else if ok {
		return cached, nil
	}
	item, err := s.store.Get(ctx, storeID, id)
	if err != nil {
		return Item{}, s.mapStoreErr(err)
	}
	if err := s.cache.Set(ctx, item); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("item_id", id).Msg("presale cache write failed")
	}
	return item, nil
}

// GetByCar returns the active item for a car.
func (s *Service) GetByCar(ctx context.Context, carID string) (Item, error) {
	item, err := s.store.FindActiveByCar(ctx, s.storeID(ctx), carID)
	if err != nil {
		return Item{}, s.mapStoreErr(err)
	}
	return item, nil
}

// List returns items matching filter along with the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, errValidation(fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.store.List(ctx, s.storeID(ctx), filter)
}

// AssignUnits reserves units of the item for a delivery.
func (s *Service) AssignUnits(ctx context.Context, id string, in AssignInput) (result AssignResult, err error) {
	defer func() { obs.ObserveItemOperation("assign", err) }()
	if err := common.Validate(in); err != nil {
		return AssignResult{}, err
	}
	var unitIDs []string
	saved, err := s.mutate(ctx, id, func(it *Item) error {
		ids, err := it.Assign(in.DeliveryID, in.PurchaseID, in.Quantity, s.now(), s.newID)
		unitIDs = ids
		return err
	})
	if err != nil {
		return AssignResult{}, err
	}
	obs.ObserveUnitsMoved("assigned", len(unitIDs))
	s.syncDelivery(ctx, saved.StoreID, in.DeliveryID, true)
	s.emit(ctx, events.TopicUnitsAssigned, saved.ID, map[string]any{
		"deliveryId": in.DeliveryID,
		"quantity":   len(unitIDs),
		"unitIds":    unitIDs,
	})
	return AssignResult{Item: saved, UnitIDs: unitIDs}, nil
}

// UnassignUnits releases previously assigned units.
func (s *Service) UnassignUnits(ctx context.Context, id string, unitIDs []string) (item Item, err error) {
	defer func() { obs.ObserveItemOperation("unassign", err) }()
	var released map[string]int
	saved, err := s.mutate(ctx, id, func(it *Item) error {
		r, err := it.Unassign(unitIDs)
		released = r
		return err
	})
	if err != nil {
		return Item{}, err
	}
	obs.ObserveUnitsMoved("released", len(unitIDs))
	s.releaseDeliveries(ctx, saved.StoreID, released)
	s.emit(ctx, events.TopicUnitsUnassigned, saved.ID, map[string]any{
		"unitIds":  unitIDs,
		"released": released,
	})
	return saved, nil
}

// UpdateMarkup reprices the item from a markup percentage.
func (s *Service) UpdateMarkup(ctx context.Context, id string, markup float64) (item Item, err error) {
	defer func() { obs.ObserveItemOperation("update_markup", err) }()
	if markup < -100 {
		return Item{}, errValidation("markupPercentage must be at least -100")
	}
	saved, err := s.mutate(ctx, id, func(it *Item) error { return it.SetMarkup(markup) })
	if err != nil {
		return Item{}, err
	}
	s.emit(ctx, events.TopicItemUpdated, saved.ID, map[string]any{"markupPercentage": saved.MarkupPercentage})
	return saved, nil
}

// UpdateFinalPrice overrides the sale price and derives the markup.
func (s *Service) UpdateFinalPrice(ctx context.Context, id string, final pricing.Money) (item Item, err error) {
	defer func() { obs.ObserveItemOperation("update_final_price", err) }()
	saved, err := s.mutate(ctx, id, func(it *Item) error { return it.SetFinalPrice(final) })
	if err != nil {
		return Item{}, err
	}
	s.emit(ctx, events.TopicItemUpdated, saved.ID, map[string]any{
		"finalPricePerUnit": saved.FinalPricePerUnit,
		"markupPercentage":  saved.MarkupPercentage,
	})
	return saved, nil
}

// UpdateStatus moves the item through its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (item Item, err error) {
	defer func() { obs.ObserveItemOperation("update_status", err) }()
	var released map[string]int
	saved, err := s.mutate(ctx, id, func(it *Item) error {
		r, err := it.SetStatus(status, s.now())
		released = r
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.releaseDeliveries(ctx, saved.StoreID, released)
	topic := events.TopicItemUpdated
	if saved.Status == StatusCancelled {
		topic = events.TopicItemCancelled
	}
	s.emit(ctx, topic, saved.ID, map[string]any{"status": saved.Status})
	return saved, nil
}

// Cancel marks the item cancelled and releases every unit.
func (s *Service) Cancel(ctx context.Context, id string) (Item, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled)
}

// UnitsForDelivery lists unit ids of the item held by deliveryID.
func (s *Service) UnitsForDelivery(ctx context.Context, id, deliveryID string) ([]string, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.UnitsForDelivery(deliveryID), nil
}

// Profit returns the profitability view of an item.
func (s *Service) Profit(ctx context.Context, id string) (Profit, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return Profit{}, err
	}
	return item.ProfitAnalytics(), nil
}

// ActiveSummary aggregates quantities and amounts over active items.
func (s *Service) ActiveSummary(ctx context.Context) (Summary, error) {
	items, _, err := s.store.List(ctx, s.storeID(ctx), ListFilter{OnlyActive: true})
	if err != nil {
		return Summary{}, err
	}
	var (
		sum         Summary
		markupTotal float64
	)
	for _, it := range items {
		sum.TotalActiveItems++
		sum.TotalQuantityAvailable += it.AvailableQuantity
		sum.TotalQuantityAssigned += it.AssignedQuantity
		sum.TotalPotentialRevenue += it.TotalSaleAmount
		sum.TotalCostAmount += it.TotalCostAmount
		sum.TotalPotentialProfit += it.TotalProfit
		markupTotal += it.MarkupPercentage
	}
	if sum.TotalActiveItems > 0 {
		sum.AverageMarkupPercentage = markupTotal / float64(sum.TotalActiveItems)
	}
	return sum, nil
}

// mutate runs a read-modify-write cycle with optimistic concurrency control.
// fn may be invoked more than once and must only touch the item it is given.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Item) error) (Item, error) {
	storeID := s.storeID(ctx)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.store.Get(ctx, storeID, id)
		if err != nil {
			return Item{}, s.mapStoreErr(err)
		}
		next := current.Clone()
		if err := fn(&next); err != nil {
			return Item{}, err
		}
		next.UpdatedAt = s.now()
		saved, err := s.store.Update(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			obs.ObserveCASConflict("presale_item")
			zerolog.Ctx(ctx).Debug().Str("item_id", id).Int("attempt", attempt).Msg("presale item version conflict")
			continue
		}
		if err != nil {
			return Item{}, err
		}
		if err := s.cache.Invalidate(ctx, storeID, id); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("item_id", id).Msg("presale cache invalidate failed")
		}
		return saved, nil
	}
	return Item{}, errConcurrent()
}

func (s *Service) releaseDeliveries(ctx context.Context, storeID string, released map[string]int) {
	for deliveryID, n := range released {
		if n == 0 {
			continue
		}
		remaining, err := s.store.CountUnitsForDelivery(ctx, storeID, deliveryID)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("delivery_id", deliveryID).Msg("count delivery units failed")
			continue
		}
		if remaining == 0 {
			s.syncDelivery(ctx, storeID, deliveryID, false)
		}
	}
}

func (s *Service) syncDelivery(ctx context.Context, storeID, deliveryID string, has bool) {
	if s.deliveries == nil {
		return
	}
	if err := s.deliveries.SetHasPresaleItems(ctx, storeID, deliveryID, has); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("delivery_id", deliveryID).
			Bool("has_presale_items", has).
			Msg("delivery presale flag sync failed")
	}
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Emit(ctx, topic, aggregateID, payload); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("emit domain event failed")
	}
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, ErrItemNotFound) {
		return errNotFound()
	}
	return err
}

func (s *Service) storeID(ctx context.Context) string {
	if id, ok := tenant.FromContext(ctx); ok {
		return id
	}
	return s.defaultStoreID
}
