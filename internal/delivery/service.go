package delivery

import (
	"context"
	"errors"

	"github.com/noah-isme/presale-api/internal/pricing"
	"github.com/noah-isme/presale-api/internal/tenant"
)

// Service is the delivery collaborator used by the pre-sale services.
type Service struct {
	store          Store
	defaultStoreID string
}

// NewService constructs a Service.
func NewService(store Store, defaultStoreID string) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "default"
	}
	return &Service{store: store, defaultStoreID: defaultStoreID}
}

// Get returns a delivery.
func (s *Service) Get(ctx context.Context, storeID, id string) (Delivery, error) {
	d, err := s.store.Get(ctx, storeID, id)
	if errors.Is(err, ErrDeliveryNotFound) {
		return Delivery{}, errNotFound()
	}
	return d, err
}

// SetHasPresaleItems flags whether the delivery holds pre-sale units.
func (s *Service) SetHasPresaleItems(ctx context.Context, storeID, id string, has bool) error {
	return s.store.SetHasPresaleItems(ctx, storeID, id, has)
}

// LinkPaymentPlan records the plan that bills the delivery.
func (s *Service) LinkPaymentPlan(ctx context.Context, storeID, id, planID string) error {
	return s.store.LinkPaymentPlan(ctx, storeID, id, planID)
}

// SetPresaleStatus mirrors the payment plan status onto the delivery.
func (s *Service) SetPresaleStatus(ctx context.Context, storeID, id, status string) error {
	return s.store.SetPresaleStatus(ctx, storeID, id, status)
}

// AssignedTotalAmount sums the sale value of every unit assigned to the delivery.
func (s *Service) AssignedTotalAmount(ctx context.Context, storeID, id string) (pricing.Money, error) {
	lines, err := s.store.Lines(ctx, storeID, id)
	if err != nil {
		return 0, err
	}
	return total(lines), nil
}

// Presale returns the pre-sale breakdown of a delivery in the caller's store.
func (s *Service) Presale(ctx context.Context, id string) (PresaleView, error) {
	storeID := s.defaultStoreID
	if v, ok := tenant.FromContext(ctx); ok {
		storeID = v
	}
	d, err := s.Get(ctx, storeID, id)
	if err != nil {
		return PresaleView{}, err
	}
	lines, err := s.store.Lines(ctx, storeID, id)
	if err != nil {
		return PresaleView{}, err
	}
	return PresaleView{Delivery: d, Lines: lines, AssignedTotalAmount: total(lines)}, nil
}

func total(lines []Line) pricing.Money {
	var sum pricing.Money
	for _, l := range lines {
		sum += l.Subtotal
	}
	return sum
}
