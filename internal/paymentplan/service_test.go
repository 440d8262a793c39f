package paymentplan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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

func (c *captureEmitter) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type serviceFixture struct {
	svc        *Service
	store      *memStore
	deliveries *fakeDeliveries
	events     *captureEmitter
	locker     *fakeLocker
	clock      *time.Time
	ctx        context.Context
}

func newFixture(t *testing.T) serviceFixture {
	t.Helper()
	store := newMemStore()
	deliveries := newFakeDeliveries(map[string]pricing.Money{"D1": 6000, "D2": 0, "D3": 9000})
	emitter := &captureEmitter{}
	locker := &fakeLocker{}
	clock := date(2025, 11, 10)
	var ids atomic.Int64
	svc, err := NewService(ServiceConfig{
		Store:      store,
		Deliveries: deliveries,
		Events:     emitter,
		Locker:     locker,
		Now:        func() time.Time { return clock },
		NewID:      func() string { return fmt.Sprintf("id-%03d", ids.Add(1)) },
	})
	require.NoError(t, err)
	return serviceFixture{
		svc:        svc,
		store:      store,
		deliveries: deliveries,
		events:     emitter,
		locker:     locker,
		clock:      &clock,
		ctx:        tenant.WithTenant(context.Background(), "store-1"),
	}
}

func (f serviceFixture) createScenarioPlan(t *testing.T) Plan {
	t.Helper()
	start := date(2025, 11, 15)
	plan, err := f.svc.Create(f.ctx, CreateInput{
		DeliveryID:       "D1",
		CustomerID:       "cust-1",
		NumberOfPayments: 4,
		PaymentFrequency: Weekly,
		StartDate:        &start,
	})
	require.NoError(t, err)
	return plan
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	require.Error(t, err)
}

func TestServiceScenario(t *testing.T) {
	f := newFixture(t)

	plan := f.createScenarioPlan(t)
	require.Equal(t, "store-1", plan.StoreID)
	require.Equal(t, pricing.Money(6000), plan.TotalAmount, "total seeded from assigned units")
	require.Equal(t, pricing.Money(1500), plan.AmountPerPayment)
	require.Equal(t, plan.ID, f.deliveries.link("D1"))
	require.Equal(t, "pending", f.deliveries.status("D1"))
	require.Equal(t, 1, f.events.count(events.TopicPlanCreated))

	paidAt := date(2025, 11, 16)
	*f.clock = paidAt
	res, err := f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 2000, PaymentDate: &paidAt, Notes: "cash"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Transaction.ID)
	require.Equal(t, pricing.Money(4000), res.Plan.RemainingAmount)
	require.Equal(t, StatusInProgress, res.Plan.Status)
	require.Equal(t, "in-progress", f.deliveries.status("D1"))

	*f.clock = date(2025, 11, 23)
	checked, err := f.svc.CheckOverdue(f.ctx, plan.ID)
	require.NoError(t, err)
	require.True(t, checked.HasOverduePayments)
	require.Equal(t, pricing.Money(1000), checked.OverdueAmount)
	require.Equal(t, 1, f.events.count(events.TopicPlanOverdue))

	_, err = f.svc.CheckOverdue(f.ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.events.count(events.TopicPlanOverdue), "overdue is only announced on transition")

	_, err = f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 5000})
	require.True(t, errors.Is(err, ErrOverpayment))
	stored, err := f.svc.Get(f.ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(4000), stored.RemainingAmount)

	res, err = f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 4000})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Plan.Status)
	require.False(t, res.Plan.HasOverduePayments)
	require.Equal(t, "completed", f.deliveries.status("D1"))
	require.Equal(t, 1, f.events.count(events.TopicPlanCompleted))
	require.Equal(t, 2, f.events.count(events.TopicPaymentRecorded))
}

func TestServiceCreateRules(t *testing.T) {
	f := newFixture(t)
	f.createScenarioPlan(t)

	_, err := f.svc.Create(f.ctx, CreateInput{DeliveryID: "D1", NumberOfPayments: 2})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.True(t, errors.Is(err, ErrPlanExists))

	_, err = f.svc.Create(f.ctx, CreateInput{DeliveryID: "missing", NumberOfPayments: 2})
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	_, err = f.svc.Create(f.ctx, CreateInput{DeliveryID: "D2", NumberOfPayments: 2})
	require.True(t, errors.Is(err, common.ErrValidation), "no assigned units and no explicit total")

	total := pricing.Money(2500)
	plan, err := f.svc.Create(f.ctx, CreateInput{DeliveryID: "D2", NumberOfPayments: 2, TotalAmount: &total})
	require.NoError(t, err)
	require.Equal(t, Weekly, plan.Frequency)
	require.Equal(t, date(2025, 11, 10), plan.StartDate)

	for name, in := range map[string]CreateInput{
		"no installments":       {DeliveryID: "D3", NumberOfPayments: 0},
		"negative installments": {DeliveryID: "D3", NumberOfPayments: -2},
		"unknown frequency":     {DeliveryID: "D3", NumberOfPayments: 2, PaymentFrequency: Frequency("daily")},
	} {
		_, err = f.svc.Create(f.ctx, in)
		require.True(t, errors.Is(err, ErrInvalidSchedule), name)
		require.True(t, errors.As(err, &appErr), name)
		require.Equal(t, "INVALID_SCHEDULE", appErr.Code, name)
		require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus, name)
	}
	_, err = f.svc.GetByDelivery(f.ctx, "D3")
	require.True(t, errors.Is(err, ErrPlanNotFound), "rejected schedules are not stored")
}

func TestServicePreviewRejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	start := date(2025, 1, 1)

	_, err := f.svc.Preview(PreviewInput{TotalAmount: 10000, NumberOfPayments: 0, PaymentFrequency: Weekly, StartDate: start})
	require.True(t, errors.Is(err, ErrInvalidSchedule))

	_, err = f.svc.Preview(PreviewInput{TotalAmount: 10000, NumberOfPayments: 3, PaymentFrequency: Frequency("daily"), StartDate: start})
	require.True(t, errors.Is(err, ErrInvalidSchedule))

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "INVALID_SCHEDULE", appErr.Code)
}

func TestServicePreviewDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	preview, err := f.svc.Preview(PreviewInput{TotalAmount: 10000, NumberOfPayments: 3, PaymentFrequency: Monthly, StartDate: date(2024, 1, 31)})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(3333), preview.AmountPerPayment)
	require.Equal(t, date(2024, 3, 31), preview.ExpectedCompletionDate)
	require.Equal(t, pricing.Money(3334), preview.Schedule[2].AmountDue)

	plans, err := f.svc.List(f.ctx, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, plans)
}

func TestServiceRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t)
	plan := f.createScenarioPlan(t)

	f.store.conflict = 2
	res, err := f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 1500})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1500), res.Plan.TotalPaid)

	f.store.conflict = 3
	_, err = f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 1500})
	require.True(t, errors.Is(err, ErrConcurrentUpdate))
	stored, err := f.svc.Get(f.ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1500), stored.TotalPaid)
}

func TestServiceConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t)
	plan := f.createScenarioPlan(t)

	var (
		wg      sync.WaitGroup
		applied atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 1500}); err == nil {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	stored, err := f.svc.Get(f.ctx, plan.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, applied.Load(), int64(4))
	require.Equal(t, pricing.Money(applied.Load()*1500), stored.TotalPaid)
	require.GreaterOrEqual(t, stored.RemainingAmount, pricing.Money(0))
}

func TestServiceCheckAllOverdue(t *testing.T) {
	f := newFixture(t)
	plan := f.createScenarioPlan(t)
	other := tenant.WithTenant(context.Background(), "store-2")
	f.deliveries.known["D9"] = 3000
	start := date(2025, 11, 20)
	otherPlan, err := f.svc.Create(other, CreateInput{DeliveryID: "D9", NumberOfPayments: 1, StartDate: &start})
	require.NoError(t, err)

	*f.clock = date(2025, 11, 25)
	result, err := f.svc.CheckAllOverdue(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, SweepResult{Checked: 2, Changed: 2, NewlyOverdue: 2}, result)
	require.Equal(t, 2, f.events.count(events.TopicPlanOverdue))

	result, err = f.svc.CheckAllOverdue(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, SweepResult{Checked: 2}, result)

	stored, err := f.svc.Get(other, otherPlan.ID)
	require.NoError(t, err)
	require.True(t, stored.HasOverduePayments)
	require.Equal(t, 5, stored.DaysOverdue)

	_, err = f.svc.SetStatus(f.ctx, plan.ID, StatusPaused, "")
	require.NoError(t, err)
	result, err = f.svc.CheckAllOverdue(context.Background(), "store-1")
	require.NoError(t, err)
	require.Zero(t, result.Checked, "paused plans are not swept")

	f.locker.held = true
	result, err = f.svc.CheckAllOverdue(context.Background(), "")
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Contains(t, f.locker.keys, "store-1:"+sweepLockKey)
}

func TestServiceStatusCancelAndDelete(t *testing.T) {
	f := newFixture(t)
	plan := f.createScenarioPlan(t)

	paused, err := f.svc.SetStatus(f.ctx, plan.ID, StatusPaused, "")
	require.NoError(t, err)
	require.Equal(t, StatusPaused, paused.Status)
	require.Equal(t, "paused", f.deliveries.status("D1"))

	_, err = f.svc.SetStatus(f.ctx, plan.ID, StatusCompleted, "")
	require.True(t, errors.Is(err, common.ErrValidation))

	cancelled, err := f.svc.Cancel(f.ctx, plan.ID, "no show")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "Cancelled: no show", cancelled.Schedule[3].Notes)
	require.Equal(t, 2, f.events.count(events.TopicPlanStatusChanged))

	require.NoError(t, f.svc.Delete(f.ctx, plan.ID))
	require.Empty(t, f.deliveries.link("D1"))
	_, err = f.svc.Get(f.ctx, plan.ID)
	require.True(t, errors.Is(err, ErrPlanNotFound))
	require.True(t, errors.Is(f.svc.Delete(f.ctx, plan.ID), ErrPlanNotFound))
}

func TestServiceEarlyBonus(t *testing.T) {
	f := newFixture(t)
	start := date(2025, 11, 15)
	plan, err := f.svc.Create(f.ctx, CreateInput{DeliveryID: "D1", NumberOfPayments: 2, StartDate: &start, EarlyPaymentBonus: 10})
	require.NoError(t, err)

	res, err := f.svc.ApplyEarlyBonus(f.ctx, plan.ID)
	require.NoError(t, err)
	require.False(t, res.BonusApplied)

	paid, err := f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 6000})
	require.NoError(t, err)
	require.True(t, paid.Plan.BonusApplied)
	require.Equal(t, pricing.Money(600), paid.Plan.BonusAmount)
	require.Equal(t, 1, f.events.count(events.TopicEarlyBonusApplied))

	res, err = f.svc.ApplyEarlyBonus(f.ctx, plan.ID)
	require.NoError(t, err)
	require.True(t, res.BonusApplied)
	require.Equal(t, 1, f.events.count(events.TopicEarlyBonusApplied))
}

func TestServiceAggregates(t *testing.T) {
	f := newFixture(t)
	plan := f.createScenarioPlan(t)
	total := pricing.Money(9000)
	start := date(2025, 11, 1)
	second, err := f.svc.Create(f.ctx, CreateInput{DeliveryID: "D3", CustomerName: "cust-1", TotalAmount: &total, NumberOfPayments: 3, StartDate: &start})
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(f.ctx, plan.ID, RecordInput{Amount: 6000})
	require.NoError(t, err)

	*f.clock = date(2025, 11, 20)
	_, err = f.svc.CheckOverdue(f.ctx, second.ID)
	require.NoError(t, err)

	sum, err := f.svc.CustomerSummary(f.ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, 2, sum.TotalPlans)
	require.Equal(t, 1, sum.CompletedPlans)
	require.Equal(t, 1, sum.OverduePlans)
	require.Equal(t, pricing.Money(15000), sum.TotalDue)
	require.Equal(t, pricing.Money(6000), sum.TotalPaid)
	require.Equal(t, "overdue", sum.OverallStatus)

	overdue, err := f.svc.OverduePlans(f.ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, second.ID, overdue[0].ID)

	st, err := f.svc.Statistics(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.TotalPlans)
	require.Equal(t, 1, st.ActivePlans)
	require.Equal(t, pricing.Money(9000), st.TotalOverdueAmount)
	require.Equal(t, 40.0, st.AveragePaymentPercentage)

	none, err := f.svc.CustomerSummary(f.ctx, "nobody")
	require.NoError(t, err)
	require.Equal(t, "none", none.OverallStatus)
}
