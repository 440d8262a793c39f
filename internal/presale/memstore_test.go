package presale

import (
	"context"
	"sort"
	"sync"
)

// memStore is an in-memory Store with the same version semantics as pgStore.
type memStore struct {
	mu       sync.Mutex
	items    map[string]Item
	conflict int // number of upcoming Update calls forced to conflict
	updates  int
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]Item)}
}

func (m *memStore) Insert(_ context.Context, item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.StoreID == item.StoreID && existing.CarID == item.CarID && existing.Status != StatusCancelled {
			return Item{}, ErrDuplicateItem
		}
	}
	item.Version = 1
	m.items[item.ID] = item.Clone()
	return item.Clone(), nil
}

func (m *memStore) Get(_ context.Context, storeID, id string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.StoreID != storeID {
		return Item{}, ErrItemNotFound
	}
	return item.Clone(), nil
}

func (m *memStore) FindActiveByCar(_ context.Context, storeID, carID string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.StoreID == storeID && item.CarID == carID && item.Status != StatusCancelled {
			return item.Clone(), nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (m *memStore) List(_ context.Context, storeID string, filter ListFilter) ([]Item, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Item{}
	for _, item := range m.items {
		if item.StoreID != storeID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.CarID != "" && item.CarID != filter.CarID {
			continue
		}
		if filter.OnlyActive && (item.Status == StatusCancelled || item.Status == StatusDelivered) {
			continue
		}
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if filter.Limit > 0 {
		start := min(filter.Offset, total)
		end := min(start+filter.Limit, total)
		out = out[start:end]
	}
	return out, total, nil
}

func (m *memStore) Update(_ context.Context, item Item, expectedVersion int64) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.conflict > 0 {
		m.conflict--
		return Item{}, ErrVersionConflict
	}
	current, ok := m.items[item.ID]
	if !ok || current.Version != expectedVersion {
		return Item{}, ErrVersionConflict
	}
	item.Version = expectedVersion + 1
	m.items[item.ID] = item.Clone()
	return item.Clone(), nil
}

func (m *memStore) CountUnitsForDelivery(_ context.Context, storeID, deliveryID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, item := range m.items {
		if item.StoreID != storeID {
			continue
		}
		total += len(item.UnitsForDelivery(deliveryID))
	}
	return total, nil
}

type flagCall struct {
	deliveryID string
	has        bool
}

type fakeDeliveries struct {
	mu    sync.Mutex
	calls []flagCall
}

func (f *fakeDeliveries) SetHasPresaleItems(_ context.Context, _, deliveryID string, has bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, flagCall{deliveryID: deliveryID, has: has})
	return nil
}

func (f *fakeDeliveries) last(deliveryID string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].deliveryID == deliveryID {
			return f.calls[i].has, true
		}
	}
	return false, false
}
