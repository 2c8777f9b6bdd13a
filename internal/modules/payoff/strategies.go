package payoff

import (
	"fmt"

	"github.com/aristath/rainbow/internal/modules/fixedpoint"
)

// BruteForce applies the exponential ladder uniformly over the max register.
// No branching, but the ladder spans the whole register width for every
// amplitude level.
type BruteForce struct {
	loader
}

// Strategy implements Encoder
func (b *BruteForce) Strategy() Strategy { return StrategyBruteForce }

// Amplitude implements Encoder
func (b *BruteForce) Amplitude(v fixedpoint.Value) (float64, error) {
	if err := b.checkRange(v); err != nil {
		return 0, err
	}
	return b.amplitudeAt(v.Float()), nil
}

// Resources implements Encoder
func (b *BruteForce) Resources() Resources {
	width := b.bounds.Max.Width()
	return Resources{ControlledRotations: width * (1 << width)}
}

// Direct evaluates geq = (v >= strike) first. Out of the money it applies a
// single fixed rotation taken from g(vMin); in the money it loads v - strike
// into an auxiliary register and runs the ladder only across that register.
type Direct struct {
	loader
	strike fixedpoint.Value
	aux    fixedpoint.Format
	outAmp float64
}

func newDirect(base loader) (*Direct, error) {
	f := base.bounds.Max.Format()
	strikeFormat := fixedpoint.Format{Width: f.Width + 1, FractionalBits: f.FractionalBits, Signed: true}
	strike, err := fixedpoint.FromFloat(base.enc.Strike, strikeFormat.Width, strikeFormat.FractionalBits, true)
	if err != nil {
		return nil, &ConfigurationError{Field: "strike", Message: err.Error()}
	}
	if strike.Float() != base.enc.Strike {
		return nil, &ConfigurationError{
			Field:   "strike",
			Message: fmt.Sprintf("%g is not representable at %d fractional bits", base.enc.Strike, f.FractionalBits),
		}
	}

	d := &Direct{
		loader: base,
		strike: strike,
		aux:    base.enc.auxFormat(),
		outAmp: base.amplitudeAt(base.bounds.Min.Float()),
	}

	// the widest in-the-money argument must fit the auxiliary register
	if fixedpoint.Compare(base.bounds.Max, strike) >= 0 {
		if _, err := d.auxValue(base.bounds.Max); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Direct) auxValue(v fixedpoint.Value) (fixedpoint.Value, error) {
	diff, err := fixedpoint.Sub(v, d.strike)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return fixedpoint.Convert(diff, d.aux)
}

// Strategy implements Encoder
func (d *Direct) Strategy() Strategy { return StrategyDirect }

// Amplitude implements Encoder
func (d *Direct) Amplitude(v fixedpoint.Value) (float64, error) {
	if err := d.checkRange(v); err != nil {
		return 0, err
	}
	if fixedpoint.Compare(v, d.strike) < 0 {
		return d.outAmp, nil
	}
	aux, err := d.auxValue(v)
	if err != nil {
		return 0, err
	}
	return d.amplitudeAt(d.strike.Float() + aux.Float()), nil
}

// Resources implements Encoder
func (d *Direct) Resources() Resources {
	width := d.bounds.Max.Width()
	return Resources{
		ControlledRotations: d.aux.Width*(1<<d.aux.Width) + 1,
		ComparatorGates:     2 * width,
		AuxiliaryQubits:     d.aux.Width + 1,
	}
}
