package fixedpoint

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		raw    int64
		width  int
		frac   int
		signed bool
	}{
		{"unsigned too large", 4, 2, 0, false},
		{"unsigned negative", -1, 2, 0, false},
		{"signed too large", 2, 2, 0, true},
		{"signed too small", -3, 2, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.raw, tt.width, tt.frac, tt.signed)
			var overflow *OverflowError
			assert.True(t, errors.As(err, &overflow))
		})
	}
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(0, 0, 0, false)
	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))

	_, err = New(0, MaxWidth+1, 0, false)
	assert.True(t, errors.As(err, &formatErr))

	_, err = New(0, 1, 0, true)
	assert.True(t, errors.As(err, &formatErr))
}

func TestValue_FloatAndBits(t *testing.T) {
	v := MustNew(-3, 4, 1, true)
	assert.Equal(t, -1.5, v.Float())
	assert.Equal(t, uint64(0b1101), v.Bits())

	u := MustNew(5, 3, 2, false)
	assert.Equal(t, 1.25, u.Float())
	assert.Equal(t, uint64(5), u.Bits())
}

func TestAdd_Promotion(t *testing.T) {
	a := MustNew(3, 2, 0, false) // 3
	b := MustNew(3, 2, 1, false) // 1.5

	sum, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4.5, sum.Float())
	assert.Equal(t, 1, sum.FractionalBits())
	assert.Equal(t, 4, sum.Width(), "max integer bits (2) + frac (1) + carry")
	assert.False(t, sum.Signed())
}

func TestAdd_MixedSignedness(t *testing.T) {
	a := MustNew(3, 2, 0, false) // 3
	b := MustNew(-2, 2, 0, true) // -2

	sum, err := Add(a, b)
	require.NoError(t, err)
	assert.True(t, sum.Signed())
	assert.Equal(t, 1.0, sum.Float())
	assert.Equal(t, 4, sum.Width())
}

func TestMultiply_Promotion(t *testing.T) {
	a := MustNew(3, 2, 0, false) // 3
	b := MustNew(3, 2, 1, false) // 1.5

	prod, err := Multiply(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4.5, prod.Float())
	assert.Equal(t, 4, prod.Width())
	assert.Equal(t, 1, prod.FractionalBits())
}

func TestMultiply_Overflow(t *testing.T) {
	a := MustNew(1, 40, 0, false)
	_, err := Multiply(a, a)
	var overflow *OverflowError
	assert.True(t, errors.As(err, &overflow))
}

func TestSub(t *testing.T) {
	a := MustNew(2, 3, 1, false) // 1
	b := MustNew(3, 2, 1, false) // 1.5

	diff, err := Sub(a, b)
	require.NoError(t, err)
	assert.True(t, diff.Signed())
	assert.Equal(t, -0.5, diff.Float())
}

func TestAffineCombine(t *testing.T) {
	x1 := MustNew(3, 2, 0, false)
	x2 := MustNew(1, 2, 0, false)
	quarter := MustNew(1, 2, 2, false)
	half := MustNew(1, 1, 1, false)
	offset := MustNew(1, 2, 1, false) // 0.5

	v, err := AffineCombine(x1, x2, quarter, half, offset)
	require.NoError(t, err)
	assert.Equal(t, 0.75+0.5+0.5, v.Float())
	assert.Equal(t, 2, v.FractionalBits())
}

func TestRetarget(t *testing.T) {
	tests := []struct {
		name     string
		in       Value
		width    int
		frac     int
		expected float64
	}{
		{"widen precision", MustNew(3, 2, 1, false), 6, 3, 1.5},
		{"truncate positive", MustNew(7, 4, 2, false), 3, 1, 1.5},
		{"truncate negative toward zero", MustNew(-7, 5, 2, true), 4, 1, -1.5},
		{"drop all fractional bits", MustNew(-3, 4, 1, true), 3, 0, -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Retarget(tt.in, tt.width, tt.frac)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.Float())
			assert.Equal(t, tt.width, out.Width())
			assert.Equal(t, tt.frac, out.FractionalBits())
			assert.Equal(t, tt.in.Signed(), out.Signed())
		})
	}
}

func TestRetarget_OverflowIsNotClamped(t *testing.T) {
	v := MustNew(12, 4, 1, false) // 6.0
	_, err := Retarget(v, 3, 1)
	var overflow *OverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, "retarget", overflow.Op)
	assert.Equal(t, 6.0, overflow.Value)
}

func TestConvert_NegativeToUnsigned(t *testing.T) {
	v := MustNew(-1, 3, 0, true)
	_, err := Convert(v, Format{Width: 4, FractionalBits: 0})
	var overflow *OverflowError
	assert.True(t, errors.As(err, &overflow))
}

func TestCompare(t *testing.T) {
	a := MustNew(3, 3, 1, false) // 1.5
	b := MustNew(6, 4, 2, false) // 1.5
	c := MustNew(-1, 2, 0, true)

	assert.Equal(t, 0, Compare(a, b))
	assert.Equal(t, 1, Compare(a, c))
	assert.Equal(t, -1, Compare(c, b))
}

func TestAffineMax_TieSelectsFirstBranch(t *testing.T) {
	x := MustNew(2, 2, 0, false)
	out, err := AffineMax(x, x)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Float())
}

func TestAffineMax_FormatIndependentOfValues(t *testing.T) {
	lo, err := AffineMax(MustNew(0, 2, 0, false), MustNew(3, 2, 0, false))
	require.NoError(t, err)
	hi, err := AffineMax(MustNew(3, 2, 0, false), MustNew(0, 2, 0, false))
	require.NoError(t, err)

	assert.Equal(t, lo.Format(), hi.Format())
	assert.Equal(t, 1.5, lo.Float())
	assert.Equal(t, 3.0, hi.Float())
}

func TestAffineMax_MatchesUnroundedMax(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 500; i++ {
		w1, f1 := 2+rng.IntN(8), rng.IntN(4)
		w2, f2 := 2+rng.IntN(8), rng.IntN(4)
		s1, s2 := rng.IntN(2) == 1, rng.IntN(2) == 1
		x1 := randomValue(rng, Format{Width: w1, FractionalBits: f1, Signed: s1})
		x2 := randomValue(rng, Format{Width: w2, FractionalBits: f2, Signed: s2})

		br := Branch{
			CoeffA: randomValue(rng, Format{Width: 4, FractionalBits: 3}),
			CoeffB: randomValue(rng, Format{Width: 4, FractionalBits: 3}),
			Offset: randomValue(rng, Format{Width: 5, FractionalBits: 2, Signed: true}),
		}

		out, err := AffineMaxWith(x1, x2, br)
		require.NoError(t, err)

		expected := math.Max(x1.Float(), br.CoeffA.Float()*x1.Float()+br.CoeffB.Float()*x2.Float()+br.Offset.Float())
		assert.InDelta(t, expected, out.Float(), out.Format().ULP(),
			"x1=%s x2=%s branch=%+v", x1, x2, br)
	}
}

func randomValue(rng *rand.Rand, f Format) Value {
	lo, hi := f.rawRange()
	raw := lo + rng.Int64N(hi-lo+1)
	return Value{raw: raw, format: f}
}
