// Package fixedpoint models bounded-precision binary registers holding real
// values, with the promotion and rescaling rules a numeric circuit enforces.
package fixedpoint

import (
	"fmt"
	"math"
	"math/big"
)

// MaxWidth is the widest register the model supports. Raw values are held in
// an int64, and two bits of headroom keep shifts and products exact.
const MaxWidth = 62

// Format describes the shape of a register: total width, how many of those
// bits are fractional, and whether the raw pattern is two's complement.
type Format struct {
	Width          int
	FractionalBits int
	Signed         bool
}

func (f Format) String() string {
	sign := "u"
	if f.Signed {
		sign = "s"
	}
	return fmt.Sprintf("%s%d.%d", sign, f.Width, f.FractionalBits)
}

// Validate checks the format is usable
func (f Format) Validate() error {
	if f.Width < 1 || f.Width > MaxWidth {
		return &FormatError{Format: f, Message: fmt.Sprintf("width must be in [1, %d]", MaxWidth)}
	}
	if f.FractionalBits < 0 {
		return &FormatError{Format: f, Message: "fractional bits must be non-negative"}
	}
	if f.Signed && f.Width < 2 {
		return &FormatError{Format: f, Message: "signed registers need at least 2 bits"}
	}
	return nil
}

// integerBits is the number of bits left of the binary point when the value
// is viewed as signed (asSigned) or in its own signedness.
func (f Format) integerBits(asSigned bool) int {
	bits := f.Width - f.FractionalBits
	if asSigned && !f.Signed {
		bits++
	}
	return bits
}

// rawRange returns the inclusive raw bounds of the format
func (f Format) rawRange() (int64, int64) {
	if f.Signed {
		return -(int64(1) << (f.Width - 1)), int64(1)<<(f.Width-1) - 1
	}
	return 0, int64(1)<<f.Width - 1
}

// Min returns the smallest representable value
func (f Format) Min() Value {
	lo, _ := f.rawRange()
	return Value{raw: lo, format: f}
}

// Max returns the largest representable value
func (f Format) Max() Value {
	_, hi := f.rawRange()
	return Value{raw: hi, format: f}
}

// ULP is the value of one unit in the last place
func (f Format) ULP() float64 {
	return math.Ldexp(1, -f.FractionalBits)
}

func (f Format) fits(raw int64) bool {
	lo, hi := f.rawRange()
	return raw >= lo && raw <= hi
}

// Value is an immutable fixed-point number: Float() == Raw() / 2^FractionalBits.
type Value struct {
	raw    int64
	format Format
}

// New creates a value from its raw integer
func New(raw int64, width, fractionalBits int, signed bool) (Value, error) {
	f := Format{Width: width, FractionalBits: fractionalBits, Signed: signed}
	if err := f.Validate(); err != nil {
		return Value{}, err
	}
	if !f.fits(raw) {
		return Value{}, &OverflowError{Op: "new", Value: math.Ldexp(float64(raw), -fractionalBits), Format: f}
	}
	return Value{raw: raw, format: f}, nil
}

// MustNew is New for literal constants; it panics on an invalid literal.
func MustNew(raw int64, width, fractionalBits int, signed bool) Value {
	v, err := New(raw, width, fractionalBits, signed)
	if err != nil {
		panic(err)
	}
	return v
}

// FromFloat quantises x into the given format, truncating toward zero.
func FromFloat(x float64, width, fractionalBits int, signed bool) (Value, error) {
	f := Format{Width: width, FractionalBits: fractionalBits, Signed: signed}
	if err := f.Validate(); err != nil {
		return Value{}, err
	}
	scaled := math.Trunc(math.Ldexp(x, fractionalBits))
	if math.IsNaN(scaled) || math.Abs(scaled) > math.Ldexp(1, MaxWidth) {
		return Value{}, &OverflowError{Op: "from_float", Value: x, Format: f}
	}
	raw := int64(scaled)
	if !f.fits(raw) {
		return Value{}, &OverflowError{Op: "from_float", Value: x, Format: f}
	}
	return Value{raw: raw, format: f}, nil
}

// Raw returns the integer held by the register
func (v Value) Raw() int64 { return v.raw }

// Format returns the register format
func (v Value) Format() Format { return v.format }

// Width returns the register width in bits
func (v Value) Width() int { return v.format.Width }

// FractionalBits returns the number of fractional bits
func (v Value) FractionalBits() int { return v.format.FractionalBits }

// Signed reports whether the register is two's complement
func (v Value) Signed() bool { return v.format.Signed }

// Bits returns the raw bit pattern of the register, two's complement for
// negative signed values.
func (v Value) Bits() uint64 {
	mask := uint64(1)<<v.format.Width - 1
	return uint64(v.raw) & mask
}

// Float returns the real value
func (v Value) Float() float64 {
	return math.Ldexp(float64(v.raw), -v.format.FractionalBits)
}

func (v Value) String() string {
	return fmt.Sprintf("%g(%s)", v.Float(), v.format)
}

func (v Value) big() *big.Int {
	return big.NewInt(v.raw)
}
