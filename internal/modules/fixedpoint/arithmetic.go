package fixedpoint

import (
	"math"
	"math/big"
	"math/bits"
)

// Branch holds the coefficients of the affine branch c_a·x1 + c_b·x2 + offset
// that AffineMaxWith compares against x1.
type Branch struct {
	CoeffA Value
	CoeffB Value
	Offset Value
}

// DefaultBranch is 0.5·x1 + 0.5·x2 + 0
func DefaultBranch() Branch {
	half := MustNew(1, 1, 1, false)
	return Branch{
		CoeffA: half,
		CoeffB: half,
		Offset: MustNew(0, 1, 0, false),
	}
}

// commonFormat is the narrowest format holding both a and b exactly
func commonFormat(a, b Format) Format {
	signed := a.Signed || b.Signed
	frac := max(a.FractionalBits, b.FractionalBits)
	intBits := max(a.integerBits(signed), b.integerBits(signed))
	return Format{Width: intBits + frac, FractionalBits: frac, Signed: signed}
}

// align rescales the raw value of v to frac fractional bits. The caller
// guarantees frac >= v's fractional bits and that the result fits.
func align(v Value, frac int) int64 {
	return v.raw << (frac - v.format.FractionalBits)
}

// Add returns a + b. The result has the larger fractional precision of the
// operands and one integer bit more than the wider operand, so it never
// overflows for in-range inputs.
func Add(a, b Value) (Value, error) {
	f := commonFormat(a.format, b.format)
	f.Width++
	if f.Width > MaxWidth {
		return Value{}, &OverflowError{Op: "add", Value: a.Float() + b.Float(), Format: f}
	}
	return Value{raw: align(a, f.FractionalBits) + align(b, f.FractionalBits), format: f}, nil
}

// Negate returns -v in a signed register one bit wider than v
func Negate(v Value) (Value, error) {
	f := Format{Width: v.format.Width + 1, FractionalBits: v.format.FractionalBits, Signed: true}
	if f.Width > MaxWidth {
		return Value{}, &OverflowError{Op: "negate", Value: -v.Float(), Format: f}
	}
	return Value{raw: -v.raw, format: f}, nil
}

// Sub returns a - b as a signed value
func Sub(a, b Value) (Value, error) {
	nb, err := Negate(b)
	if err != nil {
		return Value{}, err
	}
	return Add(a, nb)
}

// Multiply returns a · b with width = sum of widths and fractional bits =
// sum of fractional bits.
func Multiply(a, b Value) (Value, error) {
	f := Format{
		Width:          a.format.Width + b.format.Width,
		FractionalBits: a.format.FractionalBits + b.format.FractionalBits,
		Signed:         a.format.Signed || b.format.Signed,
	}
	if f.Width > MaxWidth {
		return Value{}, &OverflowError{Op: "multiply", Value: a.Float() * b.Float(), Format: f}
	}
	return Value{raw: a.raw * b.raw, format: f}, nil
}

// AffineCombine returns coeffA·a + coeffB·b + offset without renormalising
func AffineCombine(a, b, coeffA, coeffB, offset Value) (Value, error) {
	ta, err := Multiply(coeffA, a)
	if err != nil {
		return Value{}, err
	}
	tb, err := Multiply(coeffB, b)
	if err != nil {
		return Value{}, err
	}
	sum, err := Add(ta, tb)
	if err != nil {
		return Value{}, err
	}
	return Add(sum, offset)
}

// Retarget resizes v to a new width and fractional precision, keeping its
// signedness. Dropped fractional bits are truncated toward zero, matching a
// shift-based rescale; an integer part that does not fit is an OverflowError.
func Retarget(v Value, width, fractionalBits int) (Value, error) {
	return Convert(v, Format{Width: width, FractionalBits: fractionalBits, Signed: v.format.Signed})
}

// Convert is Retarget with an explicit target signedness
func Convert(v Value, target Format) (Value, error) {
	if err := target.Validate(); err != nil {
		return Value{}, err
	}

	raw := v.raw
	shift := target.FractionalBits - v.format.FractionalBits
	switch {
	case shift > 0:
		magnitude := raw
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if bits.Len64(uint64(magnitude))+shift > MaxWidth {
			return Value{}, &OverflowError{Op: "retarget", Value: v.Float(), Format: target}
		}
		raw <<= shift
	case shift < 0:
		if -shift >= MaxWidth {
			raw = 0
		} else {
			raw /= int64(1) << -shift
		}
	}

	if !target.fits(raw) {
		return Value{}, &OverflowError{Op: "retarget", Value: v.Float(), Format: target}
	}
	return Value{raw: raw, format: target}, nil
}

// Compare returns -1, 0 or +1 as a is less than, equal to or greater than b.
// The comparison is exact at the common precision.
func Compare(a, b Value) int {
	frac := max(a.format.FractionalBits, b.format.FractionalBits)
	x := new(big.Int).Lsh(a.big(), uint(frac-a.format.FractionalBits))
	y := new(big.Int).Lsh(b.big(), uint(frac-b.format.FractionalBits))
	return x.Cmp(y)
}

// AffineMax returns max(x1, 0.5·x1 + 0.5·x2)
func AffineMax(x1, x2 Value) (Value, error) {
	return AffineMaxWith(x1, x2, DefaultBranch())
}

// AffineMaxWith returns max(x1, br.CoeffA·x1 + br.CoeffB·x2 + br.Offset).
//
// Both branches are brought to a common format, compared and the greater
// one selected; on a tie the first branch (x1) wins. The output format only
// depends on the operand formats, so every outcome of a register lands in
// the same format.
func AffineMaxWith(x1, x2 Value, br Branch) (Value, error) {
	second, err := AffineCombine(x1, x2, br.CoeffA, br.CoeffB, br.Offset)
	if err != nil {
		return Value{}, err
	}

	f := commonFormat(x1.format, second.format)
	if f.Width > MaxWidth {
		return Value{}, &OverflowError{Op: "affine_max", Value: math.Max(x1.Float(), second.Float()), Format: f}
	}
	first, err := Convert(x1, f)
	if err != nil {
		return Value{}, err
	}
	second, err = Convert(second, f)
	if err != nil {
		return Value{}, err
	}

	if Compare(second, first) > 0 {
		return second, nil
	}
	return first, nil
}
