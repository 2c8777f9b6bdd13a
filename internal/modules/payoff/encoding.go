// Package payoff maps the value of a max register to the amplitude of a
// target qubit, so that the probability of measuring the target is the
// normalised payoff of that value.
package payoff

import (
	"fmt"
	"math"

	"github.com/aristath/rainbow/internal/modules/fixedpoint"
)

// Strategy selects how the exponential loading ladder is applied
type Strategy string

const (
	// StrategyBruteForce applies the ladder to every value of the max register
	StrategyBruteForce Strategy = "brute_force"
	// StrategyDirect compares against the strike first and only applies the
	// ladder, on an auxiliary register, when the option is in the money
	StrategyDirect Strategy = "direct"
)

// ParseStrategy parses a strategy name as used in configuration
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBruteForce, StrategyDirect:
		return Strategy(s), nil
	}
	return "", &ConfigurationError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", s)}
}

// ConfigurationError represents an invalid payoff encoding parameter
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("payoff configuration: %s: %s", e.Field, e.Message)
}

// Encoding configures a payoff encoder. The loading function is
//
//	g(x) = max(Scale·exp(Rate·x) + Offset, Floor)
//
// and the amplitude for register value v is sqrt(g(v) / g(vMax)).
type Encoding struct {
	Strategy Strategy
	Rate     float64
	Strike   float64

	// Precision of the auxiliary register used by the direct strategy
	AuxWidth          int
	AuxFractionalBits int

	Floor  float64
	Scale  float64
	Offset float64
}

// Load evaluates the clamped exponential loading function
func (e Encoding) Load(x float64) float64 {
	return math.Max(e.Scale*math.Exp(e.Rate*x)+e.Offset, e.Floor)
}

// Validate checks the static parameters
func (e Encoding) Validate() error {
	if !(e.Rate > 0) || math.IsInf(e.Rate, 0) {
		return &ConfigurationError{Field: "rate", Message: "must be positive"}
	}
	if !(e.Scale > 0) || math.IsInf(e.Scale, 0) {
		return &ConfigurationError{Field: "scale", Message: "must be positive"}
	}
	if !(e.Floor > 0) || math.IsInf(e.Floor, 0) {
		return &ConfigurationError{Field: "floor", Message: "must be positive"}
	}
	if math.IsNaN(e.Offset) || math.IsInf(e.Offset, 0) {
		return &ConfigurationError{Field: "offset", Message: "must be finite"}
	}
	if math.IsNaN(e.Strike) || math.IsInf(e.Strike, 0) {
		return &ConfigurationError{Field: "strike", Message: "must be finite"}
	}
	if e.Strategy == StrategyDirect {
		aux := e.auxFormat()
		if err := aux.Validate(); err != nil {
			return &ConfigurationError{Field: "aux_width", Message: err.Error()}
		}
	}
	return nil
}

func (e Encoding) auxFormat() fixedpoint.Format {
	return fixedpoint.Format{Width: e.AuxWidth, FractionalBits: e.AuxFractionalBits}
}

// Bounds are the extreme values the max register can hold
type Bounds struct {
	Min fixedpoint.Value
	Max fixedpoint.Value
}

// Resources is a controlled-rotation cost model of an encoder
type Resources struct {
	ControlledRotations int
	ComparatorGates     int
	AuxiliaryQubits     int
}

// Encoder maps a max-register value to a target amplitude in [0, 1]
type Encoder interface {
	Strategy() Strategy
	Amplitude(v fixedpoint.Value) (float64, error)
	// Norm is g(vMax), the payoff that maps to amplitude 1
	Norm() float64
	Resources() Resources
}

// NewEncoder builds the encoder selected by enc.Strategy
func NewEncoder(enc Encoding, bounds Bounds) (Encoder, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	if fixedpoint.Compare(bounds.Min, bounds.Max) > 0 {
		return nil, &ConfigurationError{Field: "bounds", Message: fmt.Sprintf("min %s above max %s", bounds.Min, bounds.Max)}
	}

	base := loader{enc: enc, bounds: bounds, norm: enc.Load(bounds.Max.Float())}
	if math.IsInf(base.norm, 0) || math.IsNaN(base.norm) {
		return nil, &ConfigurationError{Field: "rate", Message: fmt.Sprintf("loading function overflows at %g", bounds.Max.Float())}
	}

	switch enc.Strategy {
	case StrategyBruteForce:
		return &BruteForce{loader: base}, nil
	case StrategyDirect:
		return newDirect(base)
	}
	_, err := ParseStrategy(string(enc.Strategy))
	return nil, err
}

// Angle returns the rotation angle that loads amplitude a on a target qubit
func Angle(a float64) float64 {
	return math.Asin(math.Max(0, math.Min(1, a)))
}

// loader holds what both strategies share
type loader struct {
	enc    Encoding
	bounds Bounds
	norm   float64
}

func (l loader) Norm() float64 {
	return l.norm
}

func (l loader) amplitudeAt(x float64) float64 {
	return math.Min(1, math.Sqrt(l.enc.Load(x)/l.norm))
}

func (l loader) checkRange(v fixedpoint.Value) error {
	if fixedpoint.Compare(v, l.bounds.Min) < 0 || fixedpoint.Compare(v, l.bounds.Max) > 0 {
		return &fixedpoint.OverflowError{Op: "payoff", Value: v.Float(), Format: l.bounds.Max.Format()}
	}
	return nil
}
