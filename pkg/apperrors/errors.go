package apperrors

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrEmptyInput              = errors.New("empty input")
	ErrInconsistentInput       = errors.New("inconsistent input")
	ErrTaxonomyNotFound        = errors.New("taxonomy not found in risk model")
	ErrInvalidConfig           = errors.New("invalid configuration")
	ErrUnsupportedDistribution = errors.New("unsupported loss ratio distribution")
	ErrInvalidKey              = errors.New("invalid result key")
	ErrHazardMismatch          = errors.New("hazard does not match risk function")
)
