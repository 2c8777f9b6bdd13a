// Package sampling provides the samplers the estimation controller draws
// amplified measurements from.
package sampling

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/aristath/rainbow/internal/modules/amplification"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler measures the success indicator of Q^depth·P shots times and returns
// how many shots succeeded. Shots are i.i.d.; a sampler keeps no memory
// between calls that would bias later draws.
type Sampler interface {
	Sample(ctx context.Context, depth, shots int) (int, error)
}

// RequestError is returned for a depth or shot count a sampler cannot serve
type RequestError struct {
	Depth int
	Shots int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid sample request: depth=%d shots=%d", e.Depth, e.Shots)
}

func validateRequest(depth, shots int) error {
	if depth < 0 || shots <= 0 {
		return &RequestError{Depth: depth, Shots: shots}
	}
	return nil
}

// Bernoulli samples a register whose success probability p is known in
// closed form: depth k succeeds with probability sin²((2k+1)θ), sin²(θ) = p.
type Bernoulli struct {
	theta float64

	mu  sync.Mutex
	src *rand.PCG
}

// NewBernoulli creates a closed-form sampler for success probability p
func NewBernoulli(p float64, seed uint64) (*Bernoulli, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return nil, fmt.Errorf("success probability %g outside [0, 1]", p)
	}
	return &Bernoulli{
		theta: math.Asin(math.Sqrt(p)),
		src:   rand.NewPCG(seed, 0x9e3779b97f4a7c15),
	}, nil
}

// Sample implements Sampler
func (b *Bernoulli) Sample(ctx context.Context, depth, shots int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateRequest(depth, shots); err != nil {
		return 0, err
	}

	p := amplification.ExpectedSuccess(b.theta, depth)
	switch {
	case p <= 0:
		return 0, nil
	case p >= 1:
		return shots, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	hits := distuv.Binomial{N: float64(shots), P: p, Src: b.src}.Rand()
	return int(hits), nil
}
