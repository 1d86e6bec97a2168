package cfg

import (
	"cmp"

	"github.com/pkg/errors"
)

// CheckMin returns value if it is not smaller than minValue.
func CheckMin[T cmp.Ordered](value, minValue T) (T, error) {
	if value < minValue {
		return value, errors.Wrapf(ErrOutOfRange, "value '%v' is smaller than the allowed min-value '%v'", value, minValue)
	}
	return value, nil
}

// CheckMax returns value if it is not bigger than maxValue.
func CheckMax[T cmp.Ordered](value, maxValue T) (T, error) {
	if value > maxValue {
		return value, errors.Wrapf(ErrOutOfRange, "value '%v' is bigger than the allowed max-value '%v'", value, maxValue)
	}
	return value, nil
}

// CheckMinMax returns value if it lies within [minValue, maxValue].
func CheckMinMax[T cmp.Ordered](value, minValue, maxValue T) (T, error) {
	if _, err := CheckMin(value, minValue); err != nil {
		return value, err
	}
	return CheckMax(value, maxValue)
}
