package paymentplan

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/noah-isme/presale-api/internal/pricing"
)

// Status is the lifecycle state of a payment plan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusPaused     Status = "paused"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusPaused, StatusCancelled:
		return true
	}
	return false
}

// Allocation is the share of a payment applied to one installment.
type Allocation struct {
	Seq    int           `json:"seq"`
	Amount pricing.Money `json:"amount"`
}

// Transaction records one successful payment.
type Transaction struct {
	ID          string        `json:"id"`
	Amount      pricing.Money `json:"amount"`
	PaidAt      time.Time     `json:"paidAt"`
	Notes       string        `json:"notes,omitempty"`
	Allocations []Allocation  `json:"allocations"`
}

// Plan is an installment plan attached to one delivery.
type Plan struct {
	ID                     string          `json:"id"`
	StoreID                string          `json:"storeId"`
	DeliveryID             string          `json:"deliveryId"`
	CustomerID             string          `json:"customerId,omitempty"`
	CustomerName           string          `json:"customerName,omitempty"`
	TotalAmount            pricing.Money   `json:"totalAmount"`
	NumberOfPayments       int             `json:"numberOfPayments"`
	AmountPerPayment       pricing.Money   `json:"amountPerPayment"`
	Frequency              Frequency       `json:"paymentFrequency"`
	StartDate              time.Time       `json:"startDate"`
	EarlyPaymentBonus      float64         `json:"earlyPaymentBonus,omitempty"`
	BonusDeadline          *time.Time      `json:"bonusDeadline,omitempty"`
	BonusApplied           bool            `json:"bonusApplied"`
	BonusAmount            pricing.Money   `json:"bonusAmount"`
	Schedule               []ScheduleEntry `json:"schedule"`
	Transactions           []Transaction   `json:"transactions"`
	TotalPaid              pricing.Money   `json:"totalPaid"`
	RemainingAmount        pricing.Money   `json:"remainingAmount"`
	PaymentsCompleted      int             `json:"paymentsCompleted"`
	LastPaymentDate        *time.Time      `json:"lastPaymentDate,omitempty"`
	ExpectedCompletionDate time.Time       `json:"expectedCompletionDate"`
	ActualCompletionDate   *time.Time      `json:"actualCompletionDate,omitempty"`
	Status                 Status          `json:"status"`
	HasOverduePayments     bool            `json:"hasOverduePayments"`
	OverdueAmount          pricing.Money   `json:"overdueAmount"`
	DaysOverdue            int             `json:"daysOverdue"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// NewPlanParams holds the terms of a new plan.
type NewPlanParams struct {
	ID                string
	StoreID           string
	DeliveryID        string
	CustomerID        string
	CustomerName      string
	TotalAmount       pricing.Money
	NumberOfPayments  int
	Frequency         Frequency
	StartDate         time.Time
	EarlyPaymentBonus float64
	Now               time.Time
}

// NewPlan builds a pending plan with its full schedule.
func NewPlan(p NewPlanParams) (Plan, error) {
	if strings.TrimSpace(p.DeliveryID) == "" {
		return Plan{}, errValidation("deliveryId is required")
	}
	if p.TotalAmount <= 0 {
		return Plan{}, errValidation("totalAmount must be greater than zero")
	}
	if p.EarlyPaymentBonus < 0 || p.EarlyPaymentBonus > 100 {
		return Plan{}, errValidation("earlyPaymentBonus must be between 0 and 100")
	}
	schedule, err := GenerateSchedule(p.TotalAmount, p.NumberOfPayments, p.Frequency, p.StartDate)
	if err != nil {
		return Plan{}, err
	}
	for i := range schedule {
		schedule[i].PaymentID = fmt.Sprintf("%s-PAY-%d", p.DeliveryID, schedule[i].Seq)
	}
	plan := Plan{
		ID:                     p.ID,
		StoreID:                p.StoreID,
		DeliveryID:             p.DeliveryID,
		CustomerID:             p.CustomerID,
		CustomerName:           p.CustomerName,
		TotalAmount:            p.TotalAmount,
		NumberOfPayments:       p.NumberOfPayments,
		AmountPerPayment:       AmountPerPayment(p.TotalAmount, p.NumberOfPayments),
		Frequency:              p.Frequency,
		StartDate:              p.StartDate,
		EarlyPaymentBonus:      p.EarlyPaymentBonus,
		Schedule:               schedule,
		Transactions:           []Transaction{},
		ExpectedCompletionDate: schedule[len(schedule)-1].DueDate,
		Status:                 StatusPending,
		CreatedAt:              p.Now,
		UpdatedAt:              p.Now,
	}
	if p.EarlyPaymentBonus > 0 {
		deadline := schedule[0].DueDate.AddDate(0, 0, -1)
		plan.BonusDeadline = &deadline
	}
	plan.recalculate()
	return plan, nil
}

// Payment is a single payment to apply to a plan.
type Payment struct {
	Amount        pricing.Money
	PaidAt        time.Time
	Notes         string
	TransactionID string
}

// RecordPayment applies a payment to the earliest outstanding installments,
// carrying any excess over to later ones. now drives the overdue refresh.
// Nothing changes when the payment is rejected.
func (p *Plan) RecordPayment(pay Payment, now time.Time) (Transaction, error) {
	if pay.Amount <= 0 {
		return Transaction{}, errValidation("amount must be greater than zero")
	}
	if p.Status == StatusCancelled {
		return Transaction{}, errValidation("cannot record payments on a cancelled plan")
	}
	if pay.Amount > p.RemainingAmount {
		return Transaction{}, errOverpayment(pay.Amount, p.RemainingAmount)
	}
	if pay.PaidAt.IsZero() {
		pay.PaidAt = now
	}

	left := pay.Amount
	last := -1
	var allocations []Allocation
	for i := range p.Schedule {
		if left == 0 {
			break
		}
		entry := &p.Schedule[i]
		outstanding := entry.Outstanding()
		if outstanding == 0 {
			continue
		}
		portion := min(outstanding, left)
		entry.AmountPaid += portion
		left -= portion
		last = i
		allocations = append(allocations, Allocation{Seq: entry.Seq, Amount: portion})
		if entry.Paid() && entry.ActualDate == nil {
			paidAt := pay.PaidAt
			entry.ActualDate = &paidAt
		}
	}
	if last >= 0 && pay.Notes != "" {
		p.Schedule[last].Notes = appendNote(p.Schedule[last].Notes, pay.Notes)
	}

	tx := Transaction{
		ID:          pay.TransactionID,
		Amount:      pay.Amount,
		PaidAt:      pay.PaidAt,
		Notes:       pay.Notes,
		Allocations: allocations,
	}
	p.Transactions = append(p.Transactions, tx)
	paidAt := pay.PaidAt
	p.LastPaymentDate = &paidAt

	p.recalculate()
	switch {
	case p.RemainingAmount == 0:
		p.Status = StatusCompleted
		p.ActualCompletionDate = &paidAt
		p.ApplyEarlyBonus()
	case p.Status != StatusPaused:
		p.Status = StatusInProgress
	}
	p.CheckOverdue(now)
	return tx, nil
}

// ApplyEarlyBonus grants the early payment bonus when the plan was completed
// on or before the bonus deadline. It reports whether the bonus was newly applied.
func (p *Plan) ApplyEarlyBonus() bool {
	if p.EarlyPaymentBonus <= 0 || p.BonusApplied || p.BonusDeadline == nil {
		return false
	}
	if p.Status != StatusCompleted || p.ActualCompletionDate == nil {
		return false
	}
	if p.ActualCompletionDate.After(*p.BonusDeadline) {
		return false
	}
	p.BonusAmount = pricing.PercentOf(p.TotalAmount, p.EarlyPaymentBonus)
	p.BonusApplied = true
	return true
}

// CheckOverdue recomputes the overdue flags from the schedule as of now and
// reports whether hasOverduePayments changed. Status is never modified.
// Paused, cancelled and completed plans report nothing overdue.
func (p *Plan) CheckOverdue(now time.Time) bool {
	was := p.HasOverduePayments
	suspended := p.Status == StatusPaused || p.Status == StatusCancelled || p.Status == StatusCompleted

	var (
		total    pricing.Money
		earliest time.Time
	)
	for i := range p.Schedule {
		entry := &p.Schedule[i]
		entry.IsOverdue = !suspended && entry.DueDate.Before(now) && entry.AmountDue > entry.AmountPaid
		if !entry.IsOverdue {
			continue
		}
		total += entry.Outstanding()
		if earliest.IsZero() || entry.DueDate.Before(earliest) {
			earliest = entry.DueDate
		}
	}
	p.OverdueAmount = total
	p.HasOverduePayments = total > 0
	p.DaysOverdue = 0
	if p.HasOverduePayments {
		p.DaysOverdue = int(now.Sub(earliest) / (24 * time.Hour))
	}
	return was != p.HasOverduePayments
}

// SetStatus applies an administrative status change. Completed is only ever
// reached through payments; resuming derives the status from the totals.
func (p *Plan) SetStatus(status Status, reason string, now time.Time) error {
	if !status.Valid() {
		return errValidation(fmt.Sprintf("unknown status %q", status))
	}
	switch status {
	case StatusCompleted:
		return errValidation("completed is set by payments and cannot be set manually")
	case StatusPaused:
		if p.Status != StatusPending && p.Status != StatusInProgress {
			return errValidation(fmt.Sprintf("cannot pause a %s plan", p.Status))
		}
		p.Status = StatusPaused
	case StatusCancelled:
		if p.Status == StatusCompleted {
			return errValidation("cannot cancel a completed plan")
		}
		p.Status = StatusCancelled
		if reason = strings.TrimSpace(reason); reason != "" && len(p.Schedule) > 0 {
			last := &p.Schedule[len(p.Schedule)-1]
			last.Notes = appendNote(last.Notes, "Cancelled: "+reason)
		}
	case StatusPending, StatusInProgress:
		if p.Status != StatusPaused {
			if status == p.Status {
				return nil
			}
			return errValidation(fmt.Sprintf("cannot move a %s plan to %s", p.Status, status))
		}
		p.Status = p.derivedStatus()
	}
	p.CheckOverdue(now)
	return nil
}

// NextDue returns the earliest installment that still has an outstanding amount.
func (p *Plan) NextDue() (ScheduleEntry, bool) {
	idx := slices.IndexFunc(p.Schedule, func(e ScheduleEntry) bool { return e.Outstanding() > 0 })
	if idx < 0 {
		return ScheduleEntry{}, false
	}
	return p.Schedule[idx], true
}

// NextPayment is the date and outstanding amount of the next installment.
type NextPayment struct {
	Seq     int           `json:"seq"`
	DueDate time.Time     `json:"dueDate"`
	Amount  pricing.Money `json:"amount"`
}

// Analytics summarises a plan's progress.
type Analytics struct {
	PlanID            string        `json:"planId"`
	TotalAmount       pricing.Money `json:"totalAmount"`
	TotalPaid         pricing.Money `json:"totalPaid"`
	RemainingAmount   pricing.Money `json:"remainingAmount"`
	PercentagePaid    float64       `json:"percentagePaid"`
	PaymentsCompleted int           `json:"paymentsCompleted"`
	TotalPayments     int           `json:"totalPayments"`
	NextPaymentDue    *NextPayment  `json:"nextPaymentDue,omitempty"`
	IsOverdue         bool          `json:"isOverdue"`
	OverdueAmount     pricing.Money `json:"overdueAmount"`
	DaysOverdue       int           `json:"daysOverdue"`
	Status            Status        `json:"status"`
}

// Analytics computes the progress view of the plan.
func (p *Plan) Analytics() Analytics {
	out := Analytics{
		PlanID:            p.ID,
		TotalAmount:       p.TotalAmount,
		TotalPaid:         p.TotalPaid,
		RemainingAmount:   p.RemainingAmount,
		PercentagePaid:    pricing.Percentage(p.TotalPaid, p.TotalAmount),
		PaymentsCompleted: p.PaymentsCompleted,
		TotalPayments:     p.NumberOfPayments,
		IsOverdue:         p.HasOverduePayments,
		OverdueAmount:     p.OverdueAmount,
		DaysOverdue:       p.DaysOverdue,
		Status:            p.Status,
	}
	if next, ok := p.NextDue(); ok {
		out.NextPaymentDue = &NextPayment{Seq: next.Seq, DueDate: next.DueDate, Amount: next.Outstanding()}
	}
	return out
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	out := p
	out.Schedule = make([]ScheduleEntry, len(p.Schedule))
	for i, e := range p.Schedule {
		e.ActualDate = cloneTime(e.ActualDate)
		out.Schedule[i] = e
	}
	out.Transactions = make([]Transaction, len(p.Transactions))
	for i, tx := range p.Transactions {
		tx.Allocations = slices.Clone(tx.Allocations)
		out.Transactions[i] = tx
	}
	out.BonusDeadline = cloneTime(p.BonusDeadline)
	out.LastPaymentDate = cloneTime(p.LastPaymentDate)
	out.ActualCompletionDate = cloneTime(p.ActualCompletionDate)
	return out
}

func (p *Plan) recalculate() {
	var paid pricing.Money
	completed := 0
	for _, e := range p.Schedule {
		paid += e.AmountPaid
		if e.Paid() {
			completed++
		}
	}
	p.TotalPaid = paid
	p.RemainingAmount = p.TotalAmount - paid
	p.PaymentsCompleted = completed
}

func (p *Plan) derivedStatus() Status {
	switch {
	case p.RemainingAmount == 0:
		return StatusCompleted
	case p.TotalPaid > 0:
		return StatusInProgress
	default:
		return StatusPending
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + " | " + note
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
