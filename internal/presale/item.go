package presale

import (
	"fmt"
	"slices"
	"time"

	"github.com/noah-isme/presale-api/internal/pricing"
)

// Status is the lifecycle state of a pre-sale item.
type Status string

const (
	StatusPurchased Status = "purchased"
	StatusReserved  Status = "reserved"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPurchased, StatusReserved, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Assignment ties a set of units of an item to one delivery.
type Assignment struct {
	DeliveryID string    `json:"deliveryId"`
	PurchaseID string    `json:"purchaseId,omitempty"`
	Quantity   int       `json:"quantity"`
	UnitIDs    []string  `json:"unitIds"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Item aggregates every purchased unit of one car model offered in pre-sale.
type Item struct {
	ID                string        `json:"id"`
	StoreID           string        `json:"storeId"`
	CarID             string        `json:"carId"`
	CarModel          string        `json:"carModel,omitempty"`
	Brand             string        `json:"brand,omitempty"`
	PieceType         string        `json:"pieceType,omitempty"`
	Condition         string        `json:"condition,omitempty"`
	PurchaseIDs       []string      `json:"purchaseIds"`
	UnitPrice         pricing.Money `json:"unitPrice"`
	MarkupPercentage  float64       `json:"markupPercentage"`
	FinalPricePerUnit pricing.Money `json:"finalPricePerUnit"`
	Quantity          int           `json:"quantity"`
	AssignedQuantity  int           `json:"assignedQuantity"`
	AvailableQuantity int           `json:"availableQuantity"`
	TotalSaleAmount   pricing.Money `json:"totalSaleAmount"`
	TotalCostAmount   pricing.Money `json:"totalCostAmount"`
	TotalProfit       pricing.Money `json:"totalProfit"`
	Status            Status        `json:"status"`
	Notes             string        `json:"notes,omitempty"`
	Assignments       []Assignment  `json:"assignments"`
	StartDate         time.Time     `json:"startDate"`
	EndDate           *time.Time    `json:"endDate,omitempty"`
	Version           int64         `json:"version"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// Recalculate derives counters and totals from quantity, prices and assignments.
func (it *Item) Recalculate() {
	assigned := 0
	for i := range it.Assignments {
		it.Assignments[i].Quantity = len(it.Assignments[i].UnitIDs)
		assigned += it.Assignments[i].Quantity
	}
	it.AssignedQuantity = assigned
	it.AvailableQuantity = it.Quantity - assigned
	totals := pricing.ComputeTotals(it.Quantity, it.UnitPrice, it.FinalPricePerUnit)
	it.TotalSaleAmount = totals.Sale
	it.TotalCostAmount = totals.Cost
	it.TotalProfit = totals.Profit
}

// Assign reserves quantity fresh units of the item for deliveryID and returns
// their generated identifiers. Nothing changes when validation fails.
func (it *Item) Assign(deliveryID, purchaseID string, quantity int, now time.Time, newID func() string) ([]string, error) {
	if deliveryID == "" {
		return nil, errValidation("deliveryId is required")
	}
	if quantity <= 0 {
		return nil, errValidation("quantity must be greater than zero")
	}
	if it.Status == StatusCancelled {
		return nil, errValidation("cannot assign units of a cancelled item")
	}
	if quantity > it.AvailableQuantity {
		return nil, errInsufficientAvailability(it.AvailableQuantity, quantity)
	}

	ids := make([]string, quantity)
	for i := range ids {
		ids[i] = newID()
	}

	idx := slices.IndexFunc(it.Assignments, func(a Assignment) bool {
		return a.DeliveryID == deliveryID && a.PurchaseID == purchaseID
	})
	if idx >= 0 {
		it.Assignments[idx].UnitIDs = append(it.Assignments[idx].UnitIDs, ids...)
	} else {
		it.Assignments = append(it.Assignments, Assignment{
			DeliveryID: deliveryID,
			PurchaseID: purchaseID,
			UnitIDs:    slices.Clone(ids),
			AssignedAt: now,
		})
	}
	it.Recalculate()
	return ids, nil
}

// Unassign releases the given units. Every id must belong to this item and may
// appear only once; otherwise the item is left untouched. The result maps each
// affected delivery to the number of units released from it.
func (it *Item) Unassign(unitIDs []string) (map[string]int, error) {
	if len(unitIDs) == 0 {
		return nil, errValidation("unitIds must not be empty")
	}
	owner := make(map[string]int)
	for i, a := range it.Assignments {
		for _, id := range a.UnitIDs {
			owner[id] = i
		}
	}
	remove := make(map[string]struct{}, len(unitIDs))
	for _, id := range unitIDs {
		if _, ok := owner[id]; !ok {
			return nil, errUnitNotFound(id)
		}
		if _, dup := remove[id]; dup {
			return nil, errUnitNotFound(id)
		}
		remove[id] = struct{}{}
	}

	released := make(map[string]int)
	kept := it.Assignments[:0]
	for _, a := range it.Assignments {
		units := a.UnitIDs[:0]
		for _, id := range a.UnitIDs {
			if _, drop := remove[id]; drop {
				released[a.DeliveryID]++
				continue
			}
			units = append(units, id)
		}
		a.UnitIDs = units
		if len(a.UnitIDs) > 0 {
			kept = append(kept, a)
		}
	}
	it.Assignments = kept
	it.Recalculate()
	return released, nil
}

// UnitsForDelivery lists the unit identifiers held for deliveryID.
func (it *Item) UnitsForDelivery(deliveryID string) []string {
	units := []string{}
	for _, a := range it.Assignments {
		if a.DeliveryID == deliveryID {
			units = append(units, a.UnitIDs...)
		}
	}
	return units
}

// Deliveries returns the distinct deliveries currently holding units.
func (it *Item) Deliveries() []string {
	var out []string
	for _, a := range it.Assignments {
		if !slices.Contains(out, a.DeliveryID) {
			out = append(out, a.DeliveryID)
		}
	}
	return out
}

// SetMarkup reprices the item from a markup percentage.
func (it *Item) SetMarkup(markup float64) error {
	if it.Status == StatusCancelled {
		return errValidation("cannot reprice a cancelled item")
	}
	it.MarkupPercentage = markup
	it.FinalPricePerUnit = pricing.ApplyMarkup(it.UnitPrice, markup)
	it.Recalculate()
	return nil
}

// SetFinalPrice overrides the sale price and derives the implied markup.
func (it *Item) SetFinalPrice(final pricing.Money) error {
	if it.Status == StatusCancelled {
		return errValidation("cannot reprice a cancelled item")
	}
	if final < 0 {
		return errValidation("finalPrice must not be negative")
	}
	markup, err := pricing.MarkupFromFinalPrice(it.UnitPrice, final)
	if err != nil {
		return errInvalidInput("markup is undefined for a zero unit price")
	}
	it.MarkupPercentage = markup
	it.FinalPricePerUnit = final
	it.Recalculate()
	return nil
}

// AddPurchase merges another purchase of the same car into the item.
func (it *Item) AddPurchase(purchaseID string, quantity int) error {
	if quantity <= 0 {
		return errValidation("quantity must be greater than zero")
	}
	if it.Status == StatusCancelled {
		return errValidation("cannot add units to a cancelled item")
	}
	it.Quantity += quantity
	if purchaseID != "" && !slices.Contains(it.PurchaseIDs, purchaseID) {
		it.PurchaseIDs = append(it.PurchaseIDs, purchaseID)
	}
	it.Recalculate()
	return nil
}

// SetStatus moves the item to status. Cancelled is terminal and releases every
// assignment; the released units per delivery are returned.
func (it *Item) SetStatus(status Status, now time.Time) (map[string]int, error) {
	if !status.Valid() {
		return nil, errValidation(fmt.Sprintf("unknown status %q", status))
	}
	if it.Status == StatusCancelled && status != StatusCancelled {
		return nil, errValidation("cancelled items cannot change status")
	}
	if status == StatusCancelled {
		return it.Cancel(now), nil
	}
	it.Status = status
	if status == StatusDelivered {
		end := now
		it.EndDate = &end
	}
	return nil, nil
}

// Cancel marks the item cancelled and releases all of its units.
func (it *Item) Cancel(now time.Time) map[string]int {
	released := make(map[string]int)
	for _, a := range it.Assignments {
		released[a.DeliveryID] += len(a.UnitIDs)
	}
	it.Assignments = nil
	it.Status = StatusCancelled
	if it.EndDate == nil {
		end := now
		it.EndDate = &end
	}
	it.Recalculate()
	return released
}

// Profit summarises the profitability of an item.
type Profit struct {
	ItemID          string        `json:"itemId"`
	Quantity        int           `json:"quantity"`
	UnitPrice       pricing.Money `json:"unitPrice"`
	FinalPrice      pricing.Money `json:"finalPricePerUnit"`
	ProfitPerUnit   pricing.Money `json:"profitPerUnit"`
	TotalSaleAmount pricing.Money `json:"totalSaleAmount"`
	TotalCostAmount pricing.Money `json:"totalCostAmount"`
	TotalProfit     pricing.Money `json:"totalProfit"`
	ProfitMargin    float64       `json:"profitMargin"`
	MarkupPercent   float64       `json:"markupPercentage"`
}

// ProfitAnalytics computes the profit view of the item.
func (it *Item) ProfitAnalytics() Profit {
	return Profit{
		ItemID:          it.ID,
		Quantity:        it.Quantity,
		UnitPrice:       it.UnitPrice,
		FinalPrice:      it.FinalPricePerUnit,
		ProfitPerUnit:   pricing.ProfitPerUnit(it.UnitPrice, it.FinalPricePerUnit),
		TotalSaleAmount: it.TotalSaleAmount,
		TotalCostAmount: it.TotalCostAmount,
		TotalProfit:     it.TotalProfit,
		ProfitMargin:    pricing.ProfitMargin(it.TotalSaleAmount, it.TotalProfit),
		MarkupPercent:   it.MarkupPercentage,
	}
}

// Clone returns a deep copy so callers can mutate without touching cached state.
func (it Item) Clone() Item {
	out := it
	out.PurchaseIDs = slices.Clone(it.PurchaseIDs)
	out.Assignments = make([]Assignment, len(it.Assignments))
	for i, a := range it.Assignments {
		a.UnitIDs = slices.Clone(a.UnitIDs)
		out.Assignments[i] = a
	}
	if it.EndDate != nil {
		end := *it.EndDate
		out.EndDate = &end
	}
	return out
}
