package paymentplan

import (
	"fmt"
	"time"

	"github.com/noah-isme/presale-api/internal/pricing"
)

// Frequency is the spacing between installments.
type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Biweekly, Monthly:
		return true
	}
	return false
}

// ScheduleEntry is one installment of a plan.
type ScheduleEntry struct {
	Seq        int           `json:"seq"`
	PaymentID  string        `json:"paymentId,omitempty"`
	DueDate    time.Time     `json:"dueDate"`
	AmountDue  pricing.Money `json:"amountDue"`
	AmountPaid pricing.Money `json:"amountPaid"`
	ActualDate *time.Time    `json:"actualDate,omitempty"`
	IsOverdue  bool          `json:"isOverdue"`
	Notes      string        `json:"notes,omitempty"`
}

// Outstanding is the unpaid part of the installment.
func (e ScheduleEntry) Outstanding() pricing.Money {
	if e.AmountPaid >= e.AmountDue {
		return 0
	}
	return e.AmountDue - e.AmountPaid
}

// Paid reports whether the installment is settled.
func (e ScheduleEntry) Paid() bool {
	return e.AmountPaid >= e.AmountDue
}

// AmountPerPayment is the installment amount floored to the minor unit.
func AmountPerPayment(total pricing.Money, n int) pricing.Money {
	if n <= 0 {
		return 0
	}
	return total / pricing.Money(n)
}

// GenerateSchedule splits total into n installments starting at start. The
// first n-1 installments are floored to the minor unit and the last one takes
// the remainder, so the schedule always sums to total.
func GenerateSchedule(total pricing.Money, n int, freq Frequency, start time.Time) ([]ScheduleEntry, error) {
	if n < 1 {
		return nil, errInvalidSchedule("numberOfPayments must be at least 1")
	}
	if total < 0 {
		return nil, errInvalidSchedule("totalAmount must not be negative")
	}
	if !freq.Valid() {
		return nil, errInvalidSchedule(fmt.Sprintf("unsupported payment frequency %q", freq))
	}
	if start.IsZero() {
		return nil, errInvalidSchedule("startDate is required")
	}
	per := AmountPerPayment(total, n)
	entries := make([]ScheduleEntry, n)
	for k := range entries {
		due := per
		if k == n-1 {
			due = total - per*pricing.Money(n-1)
		}
		entries[k] = ScheduleEntry{
			Seq:       k + 1,
			DueDate:   DueDate(start, freq, k),
			AmountDue: due,
		}
	}
	return entries, nil
}

// DueDate returns the k-th (zero based) due date. Monthly dates keep the
// start's day of month, clamped to the last day of shorter months.
func DueDate(start time.Time, freq Frequency, k int) time.Time {
	switch freq {
	case Weekly:
		return start.AddDate(0, 0, 7*k)
	case Biweekly:
		return start.AddDate(0, 0, 14*k)
	default:
		return addMonthsClamped(start, k)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(d, last)-1)
}
