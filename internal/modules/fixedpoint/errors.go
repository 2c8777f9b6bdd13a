package fixedpoint

import "fmt"

// OverflowError is returned when a value cannot be represented in the
// requested register format. Values are never clamped silently.
type OverflowError struct {
	Op     string
	Value  float64
	Format Format
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("fixed-point overflow in %s: %g does not fit %s", e.Op, e.Value, e.Format)
}

// FormatError represents an invalid register format (width or fractional bits)
type FormatError struct {
	Format  Format
	Message string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid fixed-point format %s: %s", e.Format, e.Message)
}
