package paymentplan

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/delivery"
	"github.com/noah-isme/presale-api/internal/pricing"
)

// memStore is an in-memory Store with the same version semantics as pgStore.
type memStore struct {
	mu       sync.Mutex
	plans    map[string]Plan
	conflict int
}

func newMemStore() *memStore {
	return &memStore{plans: make(map[string]Plan)}
}

func (m *memStore) Insert(_ context.Context, plan Plan) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.plans {
		if existing.StoreID == plan.StoreID && existing.DeliveryID == plan.DeliveryID {
			return Plan{}, ErrPlanExists
		}
	}
	plan.Version = 1
	m.plans[plan.ID] = plan.Clone()
	return plan.Clone(), nil
}

func (m *memStore) Get(_ context.Context, storeID, id string) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[id]
	if !ok || plan.StoreID != storeID {
		return Plan{}, ErrPlanNotFound
	}
	return plan.Clone(), nil
}

func (m *memStore) GetByDelivery(_ context.Context, storeID, deliveryID string) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, plan := range m.plans {
		if plan.StoreID == storeID && plan.DeliveryID == deliveryID {
			return plan.Clone(), nil
		}
	}
	return Plan{}, ErrPlanNotFound
}

func (m *memStore) List(_ context.Context, storeID string, filter ListFilter) ([]Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Plan{}
	for _, plan := range m.plans {
		if storeID != "" && plan.StoreID != storeID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, plan.Status) {
			continue
		}
		if filter.CustomerID != "" && plan.CustomerID != filter.CustomerID && plan.CustomerName != filter.CustomerID {
			continue
		}
		if filter.OverdueOnly && !plan.HasOverduePayments {
			continue
		}
		out = append(out, plan.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.OverdueOnly && out[i].DaysOverdue != out[j].DaysOverdue {
			return out[i].DaysOverdue > out[j].DaysOverdue
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) Update(_ context.Context, plan Plan, expectedVersion int64) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.plans[plan.ID]
	if !ok || current.Version != expectedVersion {
		return Plan{}, ErrVersionConflict
	}
	if m.conflict > 0 {
		m.conflict--
		current.Version++
		m.plans[plan.ID] = current
		return Plan{}, ErrVersionConflict
	}
	plan.Version = expectedVersion + 1
	m.plans[plan.ID] = plan.Clone()
	return plan.Clone(), nil
}

func (m *memStore) Delete(_ context.Context, storeID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[id]
	if !ok || plan.StoreID != storeID {
		return ErrPlanNotFound
	}
	delete(m.plans, id)
	return nil
}

// fakeDeliveries records the calls the plan service makes on deliveries.
type fakeDeliveries struct {
	mu       sync.Mutex
	known    map[string]pricing.Money
	links    map[string]string
	statuses map[string]string
}

func newFakeDeliveries(totals map[string]pricing.Money) *fakeDeliveries {
	return &fakeDeliveries{known: totals, links: map[string]string{}, statuses: map[string]string{}}
}

func (f *fakeDeliveries) Get(_ context.Context, storeID, id string) (delivery.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.known[id]; !ok {
		return delivery.Delivery{}, common.NewAppError(common.CodeNotFound, "delivery not found", http.StatusNotFound, delivery.ErrDeliveryNotFound)
	}
	return delivery.Delivery{ID: id, StoreID: storeID}, nil
}

func (f *fakeDeliveries) AssignedTotalAmount(_ context.Context, _, id string) (pricing.Money, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[id], nil
}

func (f *fakeDeliveries) LinkPaymentPlan(_ context.Context, _, id, planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[id] = planID
	return nil
}

func (f *fakeDeliveries) SetPresaleStatus(_ context.Context, _, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeDeliveries) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func (f *fakeDeliveries) link(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[id]
}

// fakeLocker runs fn unless held is set.
type fakeLocker struct {
	held bool
	keys []string
}

func (l *fakeLocker) TryWithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) (bool, error) {
	l.keys = append(l.keys, key)
	if l.held {
		return false, nil
	}
	return true, fn(ctx)
}
