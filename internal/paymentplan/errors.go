package paymentplan

import (
	"errors"
	"net/http"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/pricing"
)

var (
	// ErrInvalidSchedule is returned for schedules that cannot be generated.
	ErrInvalidSchedule = errors.New("paymentplan: invalid schedule")
	// ErrOverpayment is returned when a payment exceeds the remaining balance.
	ErrOverpayment = errors.New("paymentplan: overpayment")
	// ErrPlanNotFound is returned when the plan does not exist in the store.
	ErrPlanNotFound = errors.New("paymentplan: plan not found")
	// ErrPlanExists is returned when the delivery already has a plan.
	ErrPlanExists = errors.New("paymentplan: plan already exists for delivery")
	// ErrConcurrentUpdate is returned when optimistic retries are exhausted.
	ErrConcurrentUpdate = errors.New("paymentplan: concurrent update")
	// ErrVersionConflict is returned by stores when the expected version no longer matches.
	ErrVersionConflict = errors.New("paymentplan: version conflict")
)

func errInvalidSchedule(msg string) error {
	return common.NewAppError("INVALID_SCHEDULE", msg, http.StatusBadRequest, ErrInvalidSchedule)
}

func errOverpayment(amount, remaining pricing.Money) error {
	return &common.AppError{
		Code:       "OVERPAYMENT",
		Message:    "payment exceeds the remaining balance",
		HTTPStatus: http.StatusBadRequest,
		Err:        ErrOverpayment,
		Details:    map[string]pricing.Money{"amount": amount, "remaining": remaining},
	}
}

func errValidation(msg string) error {
	return common.ValidationError(msg)
}

func errNotFound() error {
	return common.NewAppError(common.CodeNotFound, "payment plan not found", http.StatusNotFound, ErrPlanNotFound)
}

func errPlanExists(deliveryID string) error {
	return common.NewAppError(common.CodeConflict, "payment plan already exists for delivery "+deliveryID, http.StatusConflict, ErrPlanExists)
}

func errConcurrent() error {
	return common.NewAppError(common.CodeConflict, "payment plan was modified concurrently, retry the request", http.StatusConflict, ErrConcurrentUpdate)
}
