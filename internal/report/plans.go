// Package report renders payment plans into spreadsheet exports.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/presale-api/internal/paymentplan"
	"github.com/noah-isme/presale-api/internal/pricing"
)

const (
	plansSheet    = "Plans"
	scheduleSheet = "Schedule"
	dateLayout    = "2006-01-02"
)

var (
	planHeaders = []string{
		"Plan ID", "Delivery ID", "Customer", "Status", "Frequency", "Payments",
		"Total", "Paid", "Remaining", "Paid %", "Overdue", "Overdue Amount", "Days Overdue",
		"Start Date", "Expected Completion", "Completed At", "Bonus Applied", "Bonus Amount",
	}
	scheduleHeaders = []string{
		"Plan ID", "Payment ID", "Seq", "Due Date", "Amount Due", "Amount Paid", "Paid At", "Overdue", "Notes",
	}
)

// XLSX writes plans as an Excel workbook with a summary sheet and a schedule sheet.
type XLSX struct{}

// NewXLSX constructs an XLSX exporter.
func NewXLSX() XLSX { return XLSX{} }

// WritePlans renders plans into w. Amounts are written in major units.
func (XLSX) WritePlans(w io.Writer, plans []paymentplan.Plan) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", plansSheet); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}
	if _, err := f.NewSheet(scheduleSheet); err != nil {
		return fmt.Errorf("report: add sheet: %w", err)
	}
	if err := writeHeader(f, plansSheet, planHeaders); err != nil {
		return err
	}
	if err := writeHeader(f, scheduleSheet, scheduleHeaders); err != nil {
		return err
	}

	row := 2
	for i, p := range plans {
		customer := p.CustomerName
		if customer == "" {
			customer = p.CustomerID
		}
		values := []any{
			p.ID, p.DeliveryID, customer, string(p.Status), string(p.Frequency), p.NumberOfPayments,
			major(p.TotalAmount), major(p.TotalPaid), major(p.RemainingAmount),
			pricing.Percentage(p.TotalPaid, p.TotalAmount), yesNo(p.HasOverduePayments),
			major(p.OverdueAmount), p.DaysOverdue,
			p.StartDate.Format(dateLayout), p.ExpectedCompletionDate.Format(dateLayout), formatDate(p.ActualCompletionDate),
			yesNo(p.BonusApplied), major(p.BonusAmount),
		}
		if err := writeRow(f, plansSheet, i+2, values); err != nil {
			return err
		}
		for _, e := range p.Schedule {
			entry := []any{
				p.ID, e.PaymentID, e.Seq, e.DueDate.Format(dateLayout), major(e.AmountDue), major(e.AmountPaid),
				formatDate(e.ActualDate), yesNo(e.IsOverdue), e.Notes,
			}
			if err := writeRow(f, scheduleSheet, row, entry); err != nil {
				return err
			}
			row++
		}
	}
	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return writeRow(f, sheet, 1, values)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("report: write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func major(v pricing.Money) float64 {
	return float64(v) / 100
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
