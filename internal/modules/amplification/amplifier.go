// Package amplification builds amplitude-amplified register states.
//
// A Preparation P is a real state vector |ψ⟩ plus a predicate marking the
// "success" basis states. One Grover round is
//
//	Q = (2|ψ⟩⟨ψ| − I) · S_χ
//
// where S_χ flips the sign of the marked amplitudes. If sin²(θ) is the success
// probability of P, measuring Q^k·P succeeds with probability sin²((2k+1)θ).
package amplification

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// normTolerance bounds how far a preparation may be from unit norm
const normTolerance = 1e-9

// InvalidPreparationError represents a state vector that cannot be amplified
type InvalidPreparationError struct {
	Message string
}

func (e *InvalidPreparationError) Error() string {
	return fmt.Sprintf("invalid preparation: %s", e.Message)
}

// InvalidDepthError is returned for a negative amplification depth
type InvalidDepthError struct {
	Depth int
}

func (e *InvalidDepthError) Error() string {
	return fmt.Sprintf("amplification depth must be non-negative, got %d", e.Depth)
}

// Preparation is the base state P together with its marking predicate
type Preparation struct {
	amplitudes []float64
	marked     []bool
}

// NewPreparation copies amplitudes and evaluates mark on every basis state
func NewPreparation(amplitudes []float64, mark func(i int) bool) (*Preparation, error) {
	if len(amplitudes) == 0 {
		return nil, &InvalidPreparationError{Message: "empty state vector"}
	}
	norm := floats.Dot(amplitudes, amplitudes)
	if math.Abs(norm-1) > normTolerance {
		return nil, &InvalidPreparationError{Message: fmt.Sprintf("state norm is %.12f, expected 1", norm)}
	}

	p := &Preparation{
		amplitudes: make([]float64, len(amplitudes)),
		marked:     make([]bool, len(amplitudes)),
	}
	copy(p.amplitudes, amplitudes)
	for i := range p.marked {
		p.marked[i] = mark(i)
	}
	return p, nil
}

// Len returns the number of basis states
func (p *Preparation) Len() int {
	return len(p.amplitudes)
}

// SuccessProbability returns p = sin²(θ)
func (p *Preparation) SuccessProbability() float64 {
	return successProbability(p.amplitudes, p.marked)
}

// Theta returns θ in [0, π/2] with sin²(θ) = p
func (p *Preparation) Theta() float64 {
	return math.Asin(math.Sqrt(math.Min(1, p.SuccessProbability())))
}

// AmplifiedState is Q^k·P
type AmplifiedState struct {
	Depth      int
	amplitudes []float64
	marked     []bool
}

// Apply returns Q^k·P. Depth 0 is P itself.
func Apply(k int, p *Preparation) (*AmplifiedState, error) {
	if k < 0 {
		return nil, &InvalidDepthError{Depth: k}
	}

	v := make([]float64, len(p.amplitudes))
	copy(v, p.amplitudes)
	for round := 0; round < k; round++ {
		// S_χ
		for i, m := range p.marked {
			if m {
				v[i] = -v[i]
			}
		}
		// 2|ψ⟩⟨ψ|v⟩ − v
		overlap := floats.Dot(p.amplitudes, v)
		floats.Scale(-1, v)
		floats.AddScaled(v, 2*overlap, p.amplitudes)
	}

	return &AmplifiedState{Depth: k, amplitudes: v, marked: p.marked}, nil
}

// Amplitudes returns a copy of the state vector
func (s *AmplifiedState) Amplitudes() []float64 {
	out := make([]float64, len(s.amplitudes))
	copy(out, s.amplitudes)
	return out
}

// Probabilities returns the Born-rule measurement distribution |a_i|²
func (s *AmplifiedState) Probabilities() []float64 {
	out := make([]float64, len(s.amplitudes))
	for i, a := range s.amplitudes {
		out[i] = a * a
	}
	return out
}

// Measure draws one basis state from the Born-rule distribution
func (s *AmplifiedState) Measure(src rand.Source) int {
	return int(distuv.NewCategorical(s.Probabilities(), src).Rand())
}

// IsMarked reports whether basis state i is a success outcome
func (s *AmplifiedState) IsMarked(i int) bool {
	return s.marked[i]
}

// SuccessProbability returns the probability of measuring a marked state
func (s *AmplifiedState) SuccessProbability() float64 {
	return successProbability(s.amplitudes, s.marked)
}

// ExpectedSuccess is sin²((2k+1)θ), the success probability after k rounds
func ExpectedSuccess(theta float64, k int) float64 {
	s := math.Sin(float64(2*k+1) * theta)
	return s * s
}

func successProbability(amplitudes []float64, marked []bool) float64 {
	p := 0.0
	for i, a := range amplitudes {
		if marked[i] {
			p += a * a
		}
	}
	return p
}
