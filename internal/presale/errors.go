package presale

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/presale-api/internal/common"
)

var (
	// ErrInsufficientAvailability is returned when more units are requested than remain available.
	ErrInsufficientAvailability = errors.New("presale: insufficient availability")
	// ErrUnitNotFound is returned when a unit id does not belong to the item.
	ErrUnitNotFound = errors.New("presale: unit not found")
	// ErrInvalidInput is returned when a price cannot be derived from the inputs.
	ErrInvalidInput = errors.New("presale: invalid input")
	// ErrItemNotFound is returned when the item does not exist in the store.
	ErrItemNotFound = errors.New("presale: item not found")
	// ErrConcurrentUpdate is returned when optimistic retries are exhausted.
	ErrConcurrentUpdate = errors.New("presale: concurrent update")
	// ErrVersionConflict is returned by stores when the expected version no longer matches.
	ErrVersionConflict = errors.New("presale: version conflict")
)

func errValidation(msg string) error {
	return common.ValidationError(msg)
}

func errInsufficientAvailability(available, requested int) error {
	return &common.AppError{
		Code:       "INSUFFICIENT_AVAILABILITY",
		Message:    fmt.Sprintf("only %d units available, requested %d", available, requested),
		HTTPStatus: http.StatusBadRequest,
		Err:        ErrInsufficientAvailability,
		Details:    map[string]int{"available": available, "requested": requested},
	}
}

func errUnitNotFound(unitID string) error {
	return &common.AppError{
		Code:       "UNIT_NOT_FOUND",
		Message:    fmt.Sprintf("unit %s is not assigned from this item", unitID),
		HTTPStatus: http.StatusNotFound,
		Err:        ErrUnitNotFound,
		Details:    map[string]string{"unitId": unitID},
	}
}

func errInvalidInput(msg string) error {
	return common.NewAppError("INVALID_INPUT", msg, http.StatusBadRequest, ErrInvalidInput)
}

func errNotFound() error {
	return common.NewAppError(common.CodeNotFound, "pre-sale item not found", http.StatusNotFound, ErrItemNotFound)
}

func errConcurrent() error {
	return common.NewAppError(common.CodeConflict, "item was modified concurrently, retry the request", http.StatusConflict, ErrConcurrentUpdate)
}
