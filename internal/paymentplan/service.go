package paymentplan

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/delivery"
	"github.com/noah-isme/presale-api/internal/events"
	"github.com/noah-isme/presale-api/internal/obs"
	"github.com/noah-isme/presale-api/internal/pricing"
	"github.com/noah-isme/presale-api/internal/tenant"
)

const sweepLockKey = "payment-plans:overdue-sweep"

// DeliveryGateway is the delivery collaborator of the plan service.
type DeliveryGateway interface {
	Get(ctx context.Context, storeID, id string) (delivery.Delivery, error)
	AssignedTotalAmount(ctx context.Context, storeID, id string) (pricing.Money, error)
	LinkPaymentPlan(ctx context.Context, storeID, id, planID string) error
	SetPresaleStatus(ctx context.Context, storeID, id, status string) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// SweepLocker serialises overdue sweeps across processes.
type SweepLocker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

// ServiceConfig configures the Service dependencies.
type ServiceConfig struct {
	Store          Store
	Deliveries     DeliveryGateway
	Events         Emitter
	Locker         SweepLocker
	LockTTL        time.Duration
	DefaultStoreID string
	MaxAttempts    int
	Now            func() time.Time
	NewID          func() string
}

// Service orchestrates payment plan operations on top of a Store.
type Service struct {
	store          Store
	deliveries     DeliveryGateway
	events         Emitter
	locker         SweepLocker
	lockTTL        time.Duration
	defaultStoreID string
	maxAttempts    int
	now            func() time.Time
	newID          func() string
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("paymentplan: store is required")
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
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
		deliveries:     cfg.Deliveries,
		events:         cfg.Events,
		locker:         cfg.Locker,
		lockTTL:        lockTTL,
		defaultStoreID: storeID,
		maxAttempts:    attempts,
		now:            func() time.Time { return now().UTC() },
		newID:          newID,
	}, nil
}

// CreateInput describes a new plan. TotalAmount defaults to the value of the
// units currently assigned to the delivery.
type CreateInput struct {
	DeliveryID        string         `json:"deliveryId" validate:"required,max=64"`
	CustomerID        string         `json:"customerId" validate:"omitempty,max=64"`
	CustomerName      string         `json:"customerName" validate:"omitempty,max=200"`
	TotalAmount       *pricing.Money `json:"totalAmount" validate:"omitempty,gt=0"`
	NumberOfPayments  int            `json:"numberOfPayments" validate:"lte=520"`
	PaymentFrequency  Frequency      `json:"paymentFrequency"`
	StartDate         *time.Time     `json:"startDate"`
	EarlyPaymentBonus float64        `json:"earlyPaymentBonus" validate:"gte=0,lte=100"`
}

// PreviewInput holds the terms of a schedule preview.
type PreviewInput struct {
	TotalAmount      pricing.Money `json:"totalAmount" validate:"gt=0"`
	NumberOfPayments int           `json:"numberOfPayments" validate:"lte=520"`
	PaymentFrequency Frequency     `json:"paymentFrequency"`
	StartDate        time.Time     `json:"startDate" validate:"required"`
}

// Preview is a generated schedule that has not been persisted.
type Preview struct {
	AmountPerPayment       pricing.Money   `json:"amountPerPayment"`
	ExpectedCompletionDate time.Time       `json:"expectedCompletionDate"`
	Schedule               []ScheduleEntry `json:"schedule"`
}

// RecordInput is a payment against a plan.
type RecordInput struct {
	Amount      pricing.Money `json:"amount" validate:"gt=0"`
	PaymentDate *time.Time    `json:"paymentDate"`
	Notes       string        `json:"notes" validate:"omitempty,max=1000"`
}

// RecordResult carries the applied transaction and the updated plan.
type RecordResult struct {
	Transaction Transaction `json:"transaction"`
	Plan        Plan        `json:"plan"`
}

// BonusResult reports the early payment bonus state of a plan.
type BonusResult struct {
	BonusApplied bool          `json:"bonusApplied"`
	BonusAmount  pricing.Money `json:"bonusAmount,omitempty"`
	Plan         Plan          `json:"plan"`
}

// SweepResult summarises a batch overdue check.
type SweepResult struct {
	Checked      int  `json:"checked"`
	Changed      int  `json:"changed"`
	NewlyOverdue int  `json:"newlyOverdue"`
	Skipped      bool `json:"skipped,omitempty"`
}

// CustomerSummary aggregates the plans of one customer.
type CustomerSummary struct {
	CustomerID     string        `json:"customerId"`
	TotalPlans     int           `json:"totalPlans"`
	CompletedPlans int           `json:"completedPlans"`
	ActivePlans    int           `json:"activePlans"`
	OverduePlans   int           `json:"overduePlans"`
	TotalDue       pricing.Money `json:"totalDue"`
	TotalPaid      pricing.Money `json:"totalPaid"`
	OverallStatus  string        `json:"overallStatus"`
}

// Statistics aggregates every plan of a store.
type Statistics struct {
	TotalPlans               int           `json:"totalPlans"`
	CompletedPlans           int           `json:"completedPlans"`
	ActivePlans              int           `json:"activePlans"`
	OverduePlans             int           `json:"overduePlans"`
	TotalAmountDue           pricing.Money `json:"totalAmountDue"`
	TotalAmountPaid          pricing.Money `json:"totalAmountPaid"`
	TotalOverdueAmount       pricing.Money `json:"totalOverdueAmount"`
	AveragePaymentPercentage float64       `json:"averagePaymentPercentage"`
}

// Preview generates a schedule without persisting anything.
func (s *Service) Preview(in PreviewInput) (Preview, error) {
	if err := common.Validate(in); err != nil {
		return Preview{}, err
	}
	schedule, err := GenerateSchedule(in.TotalAmount, in.NumberOfPayments, in.PaymentFrequency, in.StartDate)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		AmountPerPayment:       AmountPerPayment(in.TotalAmount, in.NumberOfPayments),
		ExpectedCompletionDate: schedule[len(schedule)-1].DueDate,
		Schedule:               schedule,
	}, nil
}

// Create registers a plan for a delivery. A delivery has at most one plan.
func (s *Service) Create(ctx context.Context, in CreateInput) (Plan, error) {
	if err := common.Validate(in); err != nil {
		return Plan{}, err
	}
	storeID := s.storeID(ctx)
	now := s.now()

	if s.deliveries != nil {
		if _, err := s.deliveries.Get(ctx, storeID, in.DeliveryID); err != nil {
			return Plan{}, err
		}
	}
	if _, err := s.store.GetByDelivery(ctx, storeID, in.DeliveryID); err == nil {
		return Plan{}, errPlanExists(in.DeliveryID)
	} else if !errors.Is(err, ErrPlanNotFound) {
		return Plan{}, err
	}

	var total pricing.Money
	switch {
	case in.TotalAmount != nil:
		total = *in.TotalAmount
	case s.deliveries != nil:
		assigned, err := s.deliveries.AssignedTotalAmount(ctx, storeID, in.DeliveryID)
		if err != nil {
			return Plan{}, err
		}
		if assigned <= 0 {
			return Plan{}, errValidation("delivery has no assigned pre-sale units; totalAmount is required")
		}
		total = assigned
	default:
		return Plan{}, errValidation("totalAmount is required")
	}

	freq := in.PaymentFrequency
	if freq == "" {
		freq = Weekly
	}
	start := now
	if in.StartDate != nil {
		start = in.StartDate.UTC()
	}
	plan, err := NewPlan(NewPlanParams{
		ID:                s.newID(),
		StoreID:           storeID,
		DeliveryID:        in.DeliveryID,
		CustomerID:        in.CustomerID,
		CustomerName:      in.CustomerName,
		TotalAmount:       total,
		NumberOfPayments:  in.NumberOfPayments,
		Frequency:         freq,
		StartDate:         start,
		EarlyPaymentBonus: in.EarlyPaymentBonus,
		Now:               now,
	})
	if err != nil {
		return Plan{}, err
	}
	plan.CheckOverdue(now)

	saved, err := s.store.Insert(ctx, plan)
	if errors.Is(err, ErrPlanExists) {
		return Plan{}, errPlanExists(in.DeliveryID)
	}
	if err != nil {
		return Plan{}, err
	}
	if s.deliveries != nil {
		if err := s.deliveries.LinkPaymentPlan(ctx, storeID, saved.DeliveryID, saved.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("delivery_id", saved.DeliveryID).Msg("link payment plan to delivery failed")
		}
		s.syncDeliveryStatus(ctx, saved)
	}
	s.emit(ctx, events.TopicPlanCreated, saved.ID, map[string]any{
		"deliveryId":       saved.DeliveryID,
		"totalAmount":      saved.TotalAmount,
		"numberOfPayments": saved.NumberOfPayments,
		"paymentFrequency": saved.Frequency,
	})
	return saved, nil
}

// Get returns a plan.
func (s *Service) Get(ctx context.Context, id string) (Plan, error) {
	plan, err := s.store.Get(ctx, s.storeID(ctx), id)
	if err != nil {
		return Plan{}, mapStoreErr(err)
	}
	return plan, nil
}

// GetByDelivery returns the plan billing a delivery.
func (s *Service) GetByDelivery(ctx context.Context, deliveryID string) (Plan, error) {
	plan, err := s.store.GetByDelivery(ctx, s.storeID(ctx), deliveryID)
	if err != nil {
		return Plan{}, mapStoreErr(err)
	}
	return plan, nil
}

// Schedule returns the installments of a plan.
func (s *Service) Schedule(ctx context.Context, id string) ([]ScheduleEntry, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return plan.Schedule, nil
}

// NextDue returns the next installment with an outstanding amount, or nil when
// the plan is settled.
func (s *Service) NextDue(ctx context.Context, id string) (*ScheduleEntry, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, ok := plan.NextDue()
	if !ok {
		return nil, nil
	}
	return &next, nil
}

// Analytics returns the progress view of a plan.
func (s *Service) Analytics(ctx context.Context, id string) (Analytics, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return Analytics{}, err
	}
	return plan.Analytics(), nil
}

// RecordPayment applies a payment to a plan.
func (s *Service) RecordPayment(ctx context.Context, id string, in RecordInput) (result RecordResult, err error) {
	defer func() { obs.ObservePayment(in.Amount, err) }()
	if err := common.Validate(in); err != nil {
		return RecordResult{}, err
	}
	now := s.now()
	var (
		tx          Transaction
		wasBonus    bool
		prevOverdue bool
	)
	saved, err := s.mutate(ctx, id, func(p *Plan) error {
		pay := Payment{Amount: in.Amount, PaidAt: now, Notes: in.Notes, TransactionID: s.newID()}
		if in.PaymentDate != nil {
			pay.PaidAt = in.PaymentDate.UTC()
		}
		wasBonus = p.BonusApplied
		prevOverdue = p.HasOverduePayments
		t, err := p.RecordPayment(pay, now)
		tx = t
		return err
	})
	if err != nil {
		return RecordResult{}, err
	}
	s.syncDeliveryStatus(ctx, saved)
	s.emit(ctx, events.TopicPaymentRecorded, saved.ID, map[string]any{
		"transactionId":   tx.ID,
		"amount":          tx.Amount,
		"totalPaid":       saved.TotalPaid,
		"remainingAmount": saved.RemainingAmount,
	})
	if saved.Status == StatusCompleted {
		s.emit(ctx, events.TopicPlanCompleted, saved.ID, map[string]any{"deliveryId": saved.DeliveryID})
	}
	if saved.BonusApplied && !wasBonus {
		s.emit(ctx, events.TopicEarlyBonusApplied, saved.ID, map[string]any{"bonusAmount": saved.BonusAmount})
	}
	if saved.HasOverduePayments && !prevOverdue {
		s.emit(ctx, events.TopicPlanOverdue, saved.ID, overduePayload(saved))
	}
	return RecordResult{Transaction: tx, Plan: saved}, nil
}

// CheckOverdue refreshes the overdue flags of a single plan.
func (s *Service) CheckOverdue(ctx context.Context, id string) (Plan, error) {
	plan, newly, err := s.refreshOverdue(ctx, s.storeID(ctx), id)
	if err != nil {
		return Plan{}, err
	}
	if newly {
		s.emit(ctx, events.TopicPlanOverdue, plan.ID, overduePayload(plan))
	}
	return plan, nil
}

// CheckAllOverdue refreshes every pending or in-progress plan. An empty
// storeID sweeps every store. Concurrent sweeps are skipped when a locker is
// configured.
func (s *Service) CheckAllOverdue(ctx context.Context, storeID string) (SweepResult, error) {
	var result SweepResult
	sweep := func(ctx context.Context) error {
		started := time.Now()
		overdue := 0
		defer func() { obs.ObserveOverdueSweep(time.Since(started), overdue) }()
		plans, err := s.store.List(ctx, storeID, ListFilter{Statuses: []Status{StatusPending, StatusInProgress}})
		if err != nil {
			return err
		}
		for _, p := range plans {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Checked++
			before := p.HasOverduePayments
			updated, newly, err := s.refreshOverdue(tenant.WithTenant(ctx, p.StoreID), p.StoreID, p.ID)
			if err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("plan_id", p.ID).Msg("overdue check failed")
				continue
			}
			if updated.HasOverduePayments != before {
				result.Changed++
			}
			if updated.HasOverduePayments {
				overdue++
			}
			if newly {
				result.NewlyOverdue++
				s.emit(tenant.WithTenant(ctx, p.StoreID), events.TopicPlanOverdue, updated.ID, overduePayload(updated))
			}
		}
		return nil
	}
	if s.locker == nil {
		return result, sweep(ctx)
	}
	ran, err := s.locker.TryWithLock(ctx, tenant.PrefixKey(storeID, sweepLockKey), s.lockTTL, sweep)
	if err != nil {
		return result, err
	}
	result.Skipped = !ran
	return result, nil
}

// refreshOverdue recomputes overdue flags under CAS and persists only when
// something changed. newly reports a transition into overdue.
func (s *Service) refreshOverdue(ctx context.Context, storeID, id string) (Plan, bool, error) {
	now := s.now()
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.store.Get(ctx, storeID, id)
		if err != nil {
			return Plan{}, false, mapStoreErr(err)
		}
		next := current.Clone()
		next.CheckOverdue(now)
		newly := next.HasOverduePayments && !current.HasOverduePayments
		if !overdueChanged(current, next) {
			return current, false, nil
		}
		next.UpdatedAt = now
		saved, err := s.store.Update(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			obs.ObserveCASConflict("payment_plan")
			continue
		}
		if err != nil {
			return Plan{}, false, err
		}
		return saved, newly, nil
	}
	return Plan{}, false, errConcurrent()
}

// ApplyEarlyBonus grants the early payment bonus when the plan qualifies.
func (s *Service) ApplyEarlyBonus(ctx context.Context, id string) (BonusResult, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return BonusResult{}, err
	}
	probe := plan.Clone()
	if !probe.ApplyEarlyBonus() {
		return BonusResult{BonusApplied: plan.BonusApplied, BonusAmount: plan.BonusAmount, Plan: plan}, nil
	}
	applied := false
	saved, err := s.mutate(ctx, id, func(p *Plan) error {
		applied = p.ApplyEarlyBonus()
		return nil
	})
	if err != nil {
		return BonusResult{}, err
	}
	if applied {
		s.emit(ctx, events.TopicEarlyBonusApplied, saved.ID, map[string]any{"bonusAmount": saved.BonusAmount})
	}
	return BonusResult{BonusApplied: saved.BonusApplied, BonusAmount: saved.BonusAmount, Plan: saved}, nil
}

// SetStatus applies an administrative status change.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, reason string) (Plan, error) {
	now := s.now()
	var previous Status
	saved, err := s.mutate(ctx, id, func(p *Plan) error {
		previous = p.Status
		return p.SetStatus(status, reason, now)
	})
	if err != nil {
		return Plan{}, err
	}
	if previous != saved.Status {
		s.syncDeliveryStatus(ctx, saved)
		s.emit(ctx, events.TopicPlanStatusChanged, saved.ID, map[string]any{
			"from":   previous,
			"to":     saved.Status,
			"reason": reason,
		})
	}
	return saved, nil
}

// Cancel cancels a plan, recording the reason on its last installment.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Plan, error) {
	return s.SetStatus(ctx, id, StatusCancelled, reason)
}

// Delete removes a plan and unlinks it from its delivery. Administrative override only.
func (s *Service) Delete(ctx context.Context, id string) error {
	storeID := s.storeID(ctx)
	plan, err := s.store.Get(ctx, storeID, id)
	if err != nil {
		return mapStoreErr(err)
	}
	if err := s.store.Delete(ctx, storeID, id); err != nil {
		return mapStoreErr(err)
	}
	if s.deliveries != nil {
		if err := s.deliveries.LinkPaymentPlan(ctx, storeID, plan.DeliveryID, ""); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("delivery_id", plan.DeliveryID).Msg("unlink payment plan failed")
		}
	}
	s.emit(ctx, events.TopicPlanDeleted, id, map[string]any{"deliveryId": plan.DeliveryID})
	return nil
}

// List returns plans of the caller's store.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Plan, error) {
	return s.store.List(ctx, s.storeID(ctx), filter)
}

// OverduePlans lists plans with overdue installments, most overdue first.
func (s *Service) OverduePlans(ctx context.Context) ([]Plan, error) {
	return s.store.List(ctx, s.storeID(ctx), ListFilter{
		OverdueOnly: true,
		Statuses:    []Status{StatusPending, StatusInProgress},
	})
}

// CustomerSummary aggregates the plans of a customer, matched by id or name.
func (s *Service) CustomerSummary(ctx context.Context, customerID string) (CustomerSummary, error) {
	if strings.TrimSpace(customerID) == "" {
		return CustomerSummary{}, errValidation("customerId is required")
	}
	plans, err := s.store.List(ctx, s.storeID(ctx), ListFilter{CustomerID: customerID})
	if err != nil {
		return CustomerSummary{}, err
	}
	sum := CustomerSummary{CustomerID: customerID, TotalPlans: len(plans), OverallStatus: "good"}
	for _, p := range plans {
		switch p.Status {
		case StatusCompleted:
			sum.CompletedPlans++
		case StatusPending, StatusInProgress:
			sum.ActivePlans++
		}
		if p.HasOverduePayments {
			sum.OverduePlans++
		}
		sum.TotalDue += p.TotalAmount
		sum.TotalPaid += p.TotalPaid
	}
	switch {
	case len(plans) == 0:
		sum.OverallStatus = "none"
	case sum.CompletedPlans == len(plans):
		sum.OverallStatus = "completed"
	case sum.OverduePlans > 0:
		sum.OverallStatus = "overdue"
	}
	return sum, nil
}

// Statistics aggregates every plan of the caller's store.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	plans, err := s.store.List(ctx, s.storeID(ctx), ListFilter{})
	if err != nil {
		return Statistics{}, err
	}
	var st Statistics
	st.TotalPlans = len(plans)
	for _, p := range plans {
		switch p.Status {
		case StatusCompleted:
			st.CompletedPlans++
		case StatusPending, StatusInProgress:
			st.ActivePlans++
		}
		if p.HasOverduePayments {
			st.OverduePlans++
		}
		st.TotalAmountDue += p.TotalAmount
		st.TotalAmountPaid += p.TotalPaid
		st.TotalOverdueAmount += p.OverdueAmount
	}
	st.AveragePaymentPercentage = pricing.Percentage(st.TotalAmountPaid, st.TotalAmountDue)
	return st, nil
}

// mutate runs a read-modify-write cycle with optimistic concurrency control.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Plan) error) (Plan, error) {
	storeID := s.storeID(ctx)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.store.Get(ctx, storeID, id)
		if err != nil {
			return Plan{}, mapStoreErr(err)
		}
		next := current.Clone()
		if err := fn(&next); err != nil {
			return Plan{}, err
		}
		next.UpdatedAt = s.now()
		saved, err := s.store.Update(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			obs.ObserveCASConflict("payment_plan")
			zerolog.Ctx(ctx).Debug().Str("plan_id", id).Int("attempt", attempt).Msg("payment plan version conflict")
			continue
		}
		if err != nil {
			return Plan{}, err
		}
		return saved, nil
	}
	return Plan{}, errConcurrent()
}

func (s *Service) syncDeliveryStatus(ctx context.Context, plan Plan) {
	if s.deliveries == nil {
		return
	}
	if err := s.deliveries.SetPresaleStatus(ctx, plan.StoreID, plan.DeliveryID, string(plan.Status)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("delivery_id", plan.DeliveryID).Msg("delivery presale status sync failed")
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

func (s *Service) storeID(ctx context.Context) string {
	if id, ok := tenant.FromContext(ctx); ok {
		return id
	}
	return s.defaultStoreID
}

func mapStoreErr(err error) error {
	if errors.Is(err, ErrPlanNotFound) {
		return errNotFound()
	}
	return err
}

func overdueChanged(a, b Plan) bool {
	if a.HasOverduePayments != b.HasOverduePayments || a.OverdueAmount != b.OverdueAmount || a.DaysOverdue != b.DaysOverdue {
		return true
	}
	for i := range a.Schedule {
		if a.Schedule[i].IsOverdue != b.Schedule[i].IsOverdue {
			return true
		}
	}
	return false
}

func overduePayload(p Plan) map[string]any {
	return map[string]any{
		"deliveryId":    p.DeliveryID,
		"overdueAmount": p.OverdueAmount,
		"daysOverdue":   p.DaysOverdue,
	}
}
