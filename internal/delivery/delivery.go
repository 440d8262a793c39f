package delivery

import (
	"errors"
	"net/http"
	"time"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/pricing"
)

// ErrDeliveryNotFound is returned when the delivery does not exist in the store.
var ErrDeliveryNotFound = errors.New("delivery: not found")

// Delivery is the slice of a customer delivery the pre-sale workflow reads and updates.
type Delivery struct {
	ID              string    `json:"id"`
	StoreID         string    `json:"storeId"`
	CustomerID      string    `json:"customerId,omitempty"`
	CustomerName    string    `json:"customerName,omitempty"`
	HasPresaleItems bool      `json:"hasPresaleItems"`
	PresaleStatus   string    `json:"presaleStatus,omitempty"`
	PaymentPlanID   string    `json:"paymentPlanId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Line is the set of units one pre-sale item holds for a delivery.
type Line struct {
	ItemID            string        `json:"itemId"`
	CarID             string        `json:"carId"`
	CarModel          string        `json:"carModel,omitempty"`
	Quantity          int           `json:"quantity"`
	UnitIDs           []string      `json:"unitIds"`
	FinalPricePerUnit pricing.Money `json:"finalPricePerUnit"`
	Subtotal          pricing.Money `json:"subtotal"`
}

// PresaleView is the pre-sale breakdown of a delivery.
type PresaleView struct {
	Delivery            Delivery      `json:"delivery"`
	Lines               []Line        `json:"lines"`
	AssignedTotalAmount pricing.Money `json:"assignedTotalAmount"`
}

func errNotFound() error {
	return common.NewAppError(common.CodeNotFound, "delivery not found", http.StatusNotFound, ErrDeliveryNotFound)
}
