package trading

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBooking is the root of every booking validation failure
	ErrInvalidBooking = errors.New("invalid booking")
	// ErrUnknownProduct is returned for a product type with no valuation convention
	ErrUnknownProduct = errors.New("unknown product type")
	// ErrUnknownAsset is returned for an asset not tradeable under the requested product
	ErrUnknownAsset = errors.New("unknown asset")
)

// ValidationError describes a single rejected booking field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidBooking
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
