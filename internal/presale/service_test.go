package presale

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/events"
	"github.com/noah-isme/presale-api/internal/pricing"
	"github.com/noah-isme/presale-api/internal/tenant"
)

type captureEmitter struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

type serviceFixture struct {
	svc        *Service
	store      *memStore
	deliveries *fakeDeliveries
	events     *captureEmitter
	ctx        context.Context
}

func newFixture(t *testing.T, cache *Cache) serviceFixture {
	t.Helper()
	store := newMemStore()
	deliveries := &fakeDeliveries{}
	emitter := &captureEmitter{}
	var ids atomic.Int64
	svc, err := NewService(ServiceConfig{
		Store:      store,
		Cache:      cache,
		Deliveries: deliveries,
		Events:     emitter,
		Now:        func() time.Time { return time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC) },
		NewID: func() string {
			return fmt.Sprintf("id-%03d", ids.Add(1))
		},
	})
	require.NoError(t, err)
	return serviceFixture{
		svc:        svc,
		store:      store,
		deliveries: deliveries,
		events:     emitter,
		ctx:        tenant.WithTenant(context.Background(), "store-1"),
	}
}

func markup(v float64) *float64 { return &v }

func money(v pricing.Money) *pricing.Money { return &v }

func TestServiceScenario(t *testing.T) {
	f := newFixture(t, nil)

	item, created, err := f.svc.Create(f.ctx, CreateInput{
		PurchaseID: "purchase-1", CarID: "HW-2025-001", Quantity: 8, UnitPrice: 500, MarkupPercentage: markup(50),
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, pricing.Money(750), item.FinalPricePerUnit)
	require.Equal(t, pricing.Money(6000), item.TotalSaleAmount)
	require.Equal(t, pricing.Money(4000), item.TotalCostAmount)
	require.Equal(t, pricing.Money(2000), item.TotalProfit)
	require.Equal(t, "store-1", item.StoreID)

	res, err := f.svc.AssignUnits(f.ctx, item.ID, AssignInput{DeliveryID: "delivery-a", Quantity: 5})
	require.NoError(t, err)
	require.Len(t, res.UnitIDs, 5)
	require.Equal(t, 5, res.Item.AssignedQuantity)
	require.Equal(t, 3, res.Item.AvailableQuantity)

	res, err = f.svc.AssignUnits(f.ctx, item.ID, AssignInput{DeliveryID: "delivery-b", Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, 8, res.Item.AssignedQuantity)
	require.Equal(t, 0, res.Item.AvailableQuantity)

	_, err = f.svc.AssignUnits(f.ctx, item.ID, AssignInput{DeliveryID: "delivery-c", Quantity: 1})
	require.ErrorIs(t, err, ErrInsufficientAvailability)

	stored, err := f.store.Get(f.ctx, "store-1", item.ID)
	require.NoError(t, err)
	require.Equal(t, 8, stored.AssignedQuantity, "rejected assignment leaves the item unchanged")

	has, ok := f.deliveries.last("delivery-a")
	require.True(t, ok)
	require.True(t, has)
	require.Contains(t, f.events.topics, events.TopicUnitsAssigned)
}

func TestCreateAppliesDefaultMarkup(t *testing.T) {
	f := newFixture(t, nil)
	item, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 2, UnitPrice: 1000})
	require.NoError(t, err)
	require.Equal(t, DefaultMarkup, item.MarkupPercentage)
	require.Equal(t, pricing.Money(1150), item.FinalPricePerUnit)
}

func TestCreateFinalPriceTakesPrecedence(t *testing.T) {
	f := newFixture(t, nil)
	item, _, err := f.svc.Create(f.ctx, CreateInput{
		CarID: "car-1", Quantity: 2, UnitPrice: 500, MarkupPercentage: markup(10), FinalPrice: money(900),
	})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(900), item.FinalPricePerUnit)
	require.Equal(t, 80.0, item.MarkupPercentage)

	_, _, err = f.svc.Create(f.ctx, CreateInput{CarID: "car-2", Quantity: 1, UnitPrice: 0, FinalPrice: money(900)})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateMergesPurchasesOfSameCar(t *testing.T) {
	f := newFixture(t, nil)
	first, _, err := f.svc.Create(f.ctx, CreateInput{PurchaseID: "p1", CarID: "car-1", Quantity: 3, UnitPrice: 500, MarkupPercentage: markup(50)})
	require.NoError(t, err)
	_, err = f.svc.AssignUnits(f.ctx, first.ID, AssignInput{DeliveryID: "d1", Quantity: 2})
	require.NoError(t, err)

	merged, created, err := f.svc.Create(f.ctx, CreateInput{PurchaseID: "p2", CarID: "car-1", Quantity: 2, UnitPrice: 700})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, merged.ID)
	require.Equal(t, 5, merged.Quantity)
	require.Equal(t, 3, merged.AvailableQuantity)
	require.Equal(t, []string{"p1", "p2"}, merged.PurchaseIDs)
	require.Equal(t, pricing.Money(500), merged.UnitPrice, "unit price of the first purchase is kept")
	require.Equal(t, pricing.Money(750), merged.FinalPricePerUnit)

	merged, _, err = f.svc.Create(f.ctx, CreateInput{PurchaseID: "p2", CarID: "car-1", Quantity: 1, UnitPrice: 500, FinalPrice: money(1000)})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, merged.PurchaseIDs)
	require.Equal(t, pricing.Money(1000), merged.FinalPricePerUnit)
	require.Equal(t, 100.0, merged.MarkupPercentage)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "", Quantity: 0})
	require.ErrorIs(t, err, common.ErrValidation)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	details, ok := appErr.Details.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "required", details["carId"])
	require.Equal(t, "gt=0", details["quantity"])
}

func TestMutateRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t, nil)
	item, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 4, UnitPrice: 500})
	require.NoError(t, err)

	f.store.conflict = 2
	updated, err := f.svc.UpdateMarkup(f.ctx, item.ID, 20)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(600), updated.FinalPricePerUnit)
	require.Equal(t, int64(2), updated.Version)

	f.store.conflict = 3
	_, err = f.svc.UpdateMarkup(f.ctx, item.ID, 30)
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
}

func TestConcurrentAssignNeverOversells(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.maxAttempts = 50
	item, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 5, UnitPrice: 500})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.AssignUnits(f.ctx, item.ID, AssignInput{DeliveryID: fmt.Sprintf("d-%d", i), Quantity: 1})
			if err == nil {
				mu.Lock()
				assigned += len(res.UnitIDs)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	stored, err := f.store.Get(f.ctx, "store-1", item.ID)
	require.NoError(t, err)
	require.Equal(t, 5, assigned)
	require.Equal(t, 5, stored.AssignedQuantity)
	require.Equal(t, 0, stored.AvailableQuantity)
}

func TestUnassignClearsDeliveryFlagWhenNoUnitsRemain(t *testing.T) {
	f := newFixture(t, nil)
	a, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-a", Quantity: 4, UnitPrice: 500})
	require.NoError(t, err)
	b, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-b", Quantity: 4, UnitPrice: 500})
	require.NoError(t, err)

	resA, err := f.svc.AssignUnits(f.ctx, a.ID, AssignInput{DeliveryID: "d1", Quantity: 2})
	require.NoError(t, err)
	resB, err := f.svc.AssignUnits(f.ctx, b.ID, AssignInput{DeliveryID: "d1", Quantity: 1})
	require.NoError(t, err)

	updated, err := f.svc.UnassignUnits(f.ctx, a.ID, resA.UnitIDs)
	require.NoError(t, err)
	require.Equal(t, 0, updated.AssignedQuantity)
	has, _ := f.deliveries.last("d1")
	require.True(t, has, "delivery still holds a unit of another item")

	_, err = f.svc.UnassignUnits(f.ctx, b.ID, resB.UnitIDs)
	require.NoError(t, err)
	has, _ = f.deliveries.last("d1")
	require.False(t, has)

	_, err = f.svc.UnassignUnits(f.ctx, b.ID, []string{"unknown"})
	require.ErrorIs(t, err, ErrUnitNotFound)
}

func TestCancelReleasesDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	item, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 3, UnitPrice: 500})
	require.NoError(t, err)
	_, err = f.svc.AssignUnits(f.ctx, item.ID, AssignInput{DeliveryID: "d1", Quantity: 3})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(f.ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, 3, cancelled.AvailableQuantity)
	has, _ := f.deliveries.last("d1")
	require.False(t, has)
	require.Contains(t, f.events.topics, events.TopicItemCancelled)

	// a new purchase of the same car starts a fresh item
	next, created, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 1, UnitPrice: 500})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, item.ID, next.ID)
}

func TestGetScopesByStore(t *testing.T) {
	f := newFixture(t, nil)
	item, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 1, UnitPrice: 500})
	require.NoError(t, err)

	_, err = f.svc.Get(tenant.WithTenant(context.Background(), "store-2"), item.ID)
	require.ErrorIs(t, err, ErrItemNotFound)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	byCar, err := f.svc.GetByCar(f.ctx, "car-1")
	require.NoError(t, err)
	require.Equal(t, item.ID, byCar.ID)
}

func TestGetReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, NewCache(client, time.Minute))

	item, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-1", Quantity: 2, UnitPrice: 500})
	require.NoError(t, err)

	got, err := f.svc.Get(f.ctx, item.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists("store-1:presale:item:"+item.ID))

	// a write behind the service's back is not visible until invalidation
	stale := got.Clone()
	stale.Notes = "changed directly"
	_, err = f.store.Update(f.ctx, stale, got.Version)
	require.NoError(t, err)
	cached, err := f.svc.Get(f.ctx, item.ID)
	require.NoError(t, err)
	require.Empty(t, cached.Notes)

	_, err = f.svc.UpdateMarkup(f.ctx, item.ID, 40)
	require.NoError(t, err)
	require.False(t, mr.Exists("store-1:presale:item:"+item.ID))
	fresh, err := f.svc.Get(f.ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "changed directly", fresh.Notes)
	require.Equal(t, 40.0, fresh.MarkupPercentage)
}

func TestActiveSummaryAndProfit(t *testing.T) {
	f := newFixture(t, nil)
	a, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-a", Quantity: 8, UnitPrice: 500, MarkupPercentage: markup(50)})
	require.NoError(t, err)
	b, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-b", Quantity: 2, UnitPrice: 1000, MarkupPercentage: markup(10)})
	require.NoError(t, err)
	c, _, err := f.svc.Create(f.ctx, CreateInput{CarID: "car-c", Quantity: 1, UnitPrice: 1000})
	require.NoError(t, err)
	_, err = f.svc.AssignUnits(f.ctx, a.ID, AssignInput{DeliveryID: "d1", Quantity: 5})
	require.NoError(t, err)
	_, err = f.svc.Cancel(f.ctx, c.ID)
	require.NoError(t, err)

	sum, err := f.svc.ActiveSummary(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.TotalActiveItems)
	require.Equal(t, 5, sum.TotalQuantityAvailable)
	require.Equal(t, 5, sum.TotalQuantityAssigned)
	require.Equal(t, pricing.Money(6000+2200), sum.TotalPotentialRevenue)
	require.Equal(t, pricing.Money(4000+2000), sum.TotalCostAmount)
	require.Equal(t, pricing.Money(2200), sum.TotalPotentialProfit)
	require.Equal(t, 30.0, sum.AverageMarkupPercentage)

	profit, err := f.svc.Profit(f.ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(100), profit.ProfitPerUnit)

	units, err := f.svc.UnitsForDelivery(f.ctx, a.ID, "d1")
	require.NoError(t, err)
	require.Len(t, units, 5)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.svc.List(f.ctx, ListFilter{Status: "active"})
	require.ErrorIs(t, err, common.ErrValidation)
}
