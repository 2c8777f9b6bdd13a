// Package register loads discretised probability tables into simulated
// register states and combines two registers through the affine-max payoff
// input.
package register

import (
	"fmt"
	"math"

	"github.com/aristath/rainbow/internal/modules/fixedpoint"
	"gonum.org/v1/gonum/floats"
)

// NormalizationTolerance is how far the probabilities of a distribution may
// sum away from 1.
const NormalizationTolerance = 1e-6

// InvalidDistributionError represents a malformed probability table
type InvalidDistributionError struct {
	Message string
}

func (e *InvalidDistributionError) Error() string {
	return fmt.Sprintf("invalid distribution: %s", e.Message)
}

// Point is one outcome of a discretised distribution
type Point struct {
	Value       fixedpoint.Value
	Probability float64
}

// Distribution is an ordered discretisation of a random variable
type Distribution []Point

// NewDistribution zips values and probabilities into a Distribution
func NewDistribution(values []fixedpoint.Value, probabilities []float64) (Distribution, error) {
	if len(values) != len(probabilities) {
		return nil, &InvalidDistributionError{
			Message: fmt.Sprintf("%d values but %d probabilities", len(values), len(probabilities)),
		}
	}
	dist := make(Distribution, len(values))
	for i := range values {
		dist[i] = Point{Value: values[i], Probability: probabilities[i]}
	}
	return dist, dist.Validate()
}

// UniformGrid places probabilities on the integer grid 0..len-1 held in an
// unsigned register of the given width.
func UniformGrid(width int, probabilities []float64) (Distribution, error) {
	values := make([]fixedpoint.Value, len(probabilities))
	for i := range probabilities {
		v, err := fixedpoint.New(int64(i), width, 0, false)
		if err != nil {
			return nil, fmt.Errorf("grid point %d: %w", i, err)
		}
		values[i] = v
	}
	return NewDistribution(values, probabilities)
}

// Probabilities returns the probability column
func (d Distribution) Probabilities() []float64 {
	p := make([]float64, len(d))
	for i, pt := range d {
		p[i] = pt.Probability
	}
	return p
}

// Validate checks the table is a probability distribution
func (d Distribution) Validate() error {
	if len(d) == 0 {
		return &InvalidDistributionError{Message: "empty distribution"}
	}
	for i, pt := range d {
		if math.IsNaN(pt.Probability) || pt.Probability < 0 {
			return &InvalidDistributionError{
				Message: fmt.Sprintf("probability %d is %g, must be non-negative", i, pt.Probability),
			}
		}
	}
	sum := floats.Sum(d.Probabilities())
	if math.Abs(sum-1) > NormalizationTolerance {
		return &InvalidDistributionError{
			Message: fmt.Sprintf("probabilities sum to %.9f, expected 1", sum),
		}
	}
	return nil
}

// State is a register loaded with a distribution: basis state i carries
// Values[i] with amplitude Amplitudes[i] = sqrt(p_i).
type State struct {
	Width      int
	Values     []fixedpoint.Value
	Amplitudes []float64
}

// Probability returns the measurement probability of basis state i
func (s *State) Probability(i int) float64 {
	return s.Amplitudes[i] * s.Amplitudes[i]
}

// LoadDistribution loads dist into a register of the given width. The table
// must have exactly 2^width rows.
func LoadDistribution(dist Distribution, width int) (*State, error) {
	if width < 1 || width > 30 {
		return nil, &InvalidDistributionError{Message: fmt.Sprintf("register width %d out of range", width)}
	}
	if len(dist) != 1<<width {
		return nil, &InvalidDistributionError{
			Message: fmt.Sprintf("%d outcomes do not fill a %d-bit register (%d states)", len(dist), width, 1<<width),
		}
	}
	if err := dist.Validate(); err != nil {
		return nil, err
	}

	state := &State{
		Width:      width,
		Values:     make([]fixedpoint.Value, len(dist)),
		Amplitudes: make([]float64, len(dist)),
	}
	for i, pt := range dist {
		state.Values[i] = pt.Value
		state.Amplitudes[i] = math.Sqrt(pt.Probability)
	}
	return state, nil
}
