package checkout

import "errors"

var (
	ErrCheckoutNotFound  = errors.New("checkout not found")
	ErrCheckoutCompleted = errors.New("checkout already completed")
	ErrLinesUnavailable  = errors.New("some of the checkout lines variants are unavailable")
	ErrTotalMismatch     = errors.New("checkout total does not match payment total")
)
