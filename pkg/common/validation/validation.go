package validation

import (
	"strings"
	"time"

	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
)

// Number is any value these helpers can compare against zero.
// time.Duration qualifies.
type Number interface {
	~int | ~int32 | ~int64 | ~float64
}

// ValidatePositive rejects values <= 0.
func ValidatePositive[T Number](module, field string, value T) error {
	if value > 0 {
		return nil
	}
	return hperrors.NewValidationError(module, field, value, "must be positive").
		WithHint("value must be greater than 0")
}

// ValidateNonNegative rejects values < 0. Zero usually means "unbounded"
// or "disabled" for the field being checked.
func ValidateNonNegative[T Number](module, field string, value T) error {
	if value >= 0 {
		return nil
	}
	return hperrors.NewValidationError(module, field, value, "cannot be negative").
		WithHint("use 0 or a positive value")
}

// ValidateTimeout accepts zero (no timeout) or a positive duration.
func ValidateTimeout(module, field string, d time.Duration) error {
	if d >= 0 {
		return nil
	}
	return hperrors.NewValidationError(module, field, d.String(), "cannot be negative").
		WithHint("use 0 to disable the timeout")
}

func ValidateNotEmpty(module, field, value string) error {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return hperrors.NewValidationError(module, field, value, "cannot be empty").
		WithHint("provide a non-empty " + field)
}

// ValidateOneOf accepts value when it case-insensitively matches one of allowed.
func ValidateOneOf(module, field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return hperrors.NewValidationError(module, field, value, "unsupported value").
		WithHint("use one of: " + strings.Join(allowed, ", "))
}
