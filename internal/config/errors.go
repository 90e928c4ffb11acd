package config

import (
	"cmp"
	"errors"
	"fmt"
)

// ErrInvalidConfig marks configuration errors: missing or malformed keys, values out
// of range, unknown names. They are raised before any device I/O and never retried.
var ErrInvalidConfig = errors.New("invalid configuration")

type RangeError struct {
	Value any
	Min   any
	Max   any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("value %v is out of range [%v, %v]", e.Value, e.Min, e.Max)
}

// EnsureRange returns a *RangeError unless min <= value <= max. NaN is never in range.
func EnsureRange[T cmp.Ordered](value, min, max T) error {
	if cmp.Less(value, min) || cmp.Less(max, value) {
		return &RangeError{Value: value, Min: min, Max: max}
	}
	return nil
}
