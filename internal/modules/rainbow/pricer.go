// Package rainbow prices a two-asset rainbow payoff: the asset values are
// loaded into registers, combined through the affine-max input, encoded as
// the success amplitude of a target qubit and estimated with iterative
// amplitude estimation.
package rainbow

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/rainbow/internal/modules/amplification"
	"github.com/aristath/rainbow/internal/modules/estimation"
	"github.com/aristath/rainbow/internal/modules/fixedpoint"
	"github.com/aristath/rainbow/internal/modules/payoff"
	"github.com/aristath/rainbow/internal/modules/register"
	"github.com/aristath/rainbow/internal/modules/sampling"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scenario describes what is priced
type Scenario struct {
	First  register.Distribution
	Second register.Distribution
	// Width of each input register; both tables need 2^Width rows
	Width    int
	Branch   fixedpoint.Branch
	Encoding payoff.Encoding
}

// DefaultScenario is two identical four-point assets on 0..3, combined as
// max(x1, (x1 + x2)/2) and priced with the direct encoder at strike 1.5.
func DefaultScenario() Scenario {
	probs := []float64{0.0656, 0.4344, 0.4344, 0.0656}
	first, err := register.UniformGrid(2, probs)
	if err != nil {
		panic(err)
	}
	second, err := register.UniformGrid(2, probs)
	if err != nil {
		panic(err)
	}

	return Scenario{
		First:  first,
		Second: second,
		Width:  2,
		Branch: fixedpoint.DefaultBranch(),
		Encoding: payoff.Encoding{
			Strategy:          payoff.StrategyDirect,
			Rate:              0.4,
			Strike:            1.5,
			AuxWidth:          2,
			AuxFractionalBits: 1,
			Floor:             0.01,
			Scale:             1,
			Offset:            -math.Exp(0.4 * 1.5),
		},
	}
}

// Options holds the runtime parameters of a pricer
type Options struct {
	Estimation estimation.Config
	Workers    int
	Seed       uint64
}

// Quote is the outcome of one pricing run
type Quote struct {
	Estimate *estimation.Result
	// Exact success probability of the prepared register
	Exact float64
	// Expected payoff: probabilities scaled back by the encoder norm g(vMax)
	ScaledPayoff   float64
	ScaledExact    float64
	ScaledInterval estimation.Interval
	Resources      payoff.Resources
	MeanHitRate    float64
}

// Pricer holds a prepared register and prices it on demand
type Pricer struct {
	scenario  Scenario
	joint     *register.JointMaxState
	encoder   payoff.Encoder
	payoffAmp []float64 // target amplitude per joint basis state
	prep      *amplification.Preparation
	estimator *estimation.Estimator
	pool      *sampling.WorkerPool
	seed      uint64
	log       zerolog.Logger
}

// NewPricer loads both distributions, builds the max register and the payoff
// rotation, and prepares the state whose success probability is the
// normalised expected payoff.
func NewPricer(sc Scenario, opts Options, log zerolog.Logger) (*Pricer, error) {
	log = log.With().Str("component", "rainbow_pricer").Logger()

	first, err := register.LoadDistribution(sc.First, sc.Width)
	if err != nil {
		return nil, fmt.Errorf("loading first asset: %w", err)
	}
	second, err := register.LoadDistribution(sc.Second, sc.Width)
	if err != nil {
		return nil, fmt.Errorf("loading second asset: %w", err)
	}

	joint, err := register.CombineMax(first, second, sc.Branch)
	if err != nil {
		return nil, fmt.Errorf("combining registers: %w", err)
	}

	lo, hi := joint.Bounds()
	encoder, err := payoff.NewEncoder(sc.Encoding, payoff.Bounds{Min: lo, Max: hi})
	if err != nil {
		return nil, fmt.Errorf("building payoff encoder: %w", err)
	}

	estimator, err := estimation.NewEstimator(opts.Estimation, log)
	if err != nil {
		return nil, err
	}

	p := &Pricer{
		scenario:  sc,
		joint:     joint,
		encoder:   encoder,
		payoffAmp: make([]float64, joint.Len()),
		estimator: estimator,
		pool:      sampling.NewWorkerPool(opts.Workers),
		seed:      opts.Seed,
		log:       log,
	}

	for idx, v := range joint.Max {
		amp, err := encoder.Amplitude(v)
		if err != nil {
			return nil, fmt.Errorf("encoding payoff of %s: %w", v, err)
		}
		p.payoffAmp[idx] = amp
	}

	p.prep, err = p.prepare()
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("strategy", string(encoder.Strategy())).
		Str("max_format", joint.Format().String()).
		Float64("norm", encoder.Norm()).
		Int("basis_states", p.prep.Len()).
		Msg("Pricer prepared")

	return p, nil
}

// prepare lays the joint register out with a trailing target qubit: joint
// state idx maps to basis states 2·idx (target 0) and 2·idx+1 (target 1),
// rotated by the payoff angle. Target 1 is the success outcome.
func (p *Pricer) prepare() (*amplification.Preparation, error) {
	amps := make([]float64, 2*p.joint.Len())
	for idx, a := range p.joint.Amplitudes {
		angle := payoff.Angle(p.payoffAmp[idx])
		amps[2*idx] = a * math.Cos(angle)
		amps[2*idx+1] = a * math.Sin(angle)
	}

	// input tables are normalised only to within register.NormalizationTolerance
	norm := math.Sqrt(floats.Dot(amps, amps))
	floats.Scale(1/norm, amps)

	return amplification.NewPreparation(amps, func(i int) bool { return i%2 == 1 })
}

// Scenario returns what the pricer was built for
func (p *Pricer) Scenario() Scenario {
	return p.scenario
}

// Preparation returns the prepared register
func (p *Pricer) Preparation() *amplification.Preparation {
	return p.prep
}

// Encoder returns the payoff encoder in use
func (p *Pricer) Encoder() payoff.Encoder {
	return p.encoder
}

// Joint returns the combined input registers
func (p *Pricer) Joint() *register.JointMaxState {
	return p.joint
}

// ExactProbability is the success probability computed directly over every
// joint outcome, without amplification or sampling.
func (p *Pricer) ExactProbability() float64 {
	probs := make([]float64, p.joint.Len())
	squared := make([]float64, p.joint.Len())
	for idx := range probs {
		probs[idx] = p.joint.Probability(idx)
		squared[idx] = p.payoffAmp[idx] * p.payoffAmp[idx]
	}
	return floats.Dot(probs, squared) / floats.Sum(probs)
}

// Price estimates the success probability with a fresh simulator and scales
// it back to a payoff.
func (p *Pricer) Price(ctx context.Context) (*Quote, error) {
	return p.PriceObserved(ctx, nil)
}

// PriceObserved is Price with a callback invoked after every estimation
// round. observe may be nil.
func (p *Pricer) PriceObserved(ctx context.Context, observe func(estimation.Round)) (*Quote, error) {
	sim := sampling.NewSimulator(p.prep, p.pool, p.seed, p.log)

	result, err := p.estimator.EstimateObserved(ctx, sim, observe)
	if err != nil {
		return nil, fmt.Errorf("estimating payoff: %w", err)
	}

	norm := p.encoder.Norm()
	exact := p.ExactProbability()
	quote := &Quote{
		Estimate:     result,
		Exact:        exact,
		ScaledPayoff: result.PointEstimate * norm,
		ScaledExact:  exact * norm,
		ScaledInterval: estimation.Interval{
			Low:  result.Interval.Low * norm,
			High: result.Interval.High * norm,
		},
		Resources:   p.encoder.Resources(),
		MeanHitRate: MeanHitRate(result.Rounds),
	}

	p.log.Info().
		Str("run_id", result.RunID).
		Float64("estimate", result.PointEstimate).
		Float64("exact", exact).
		Float64("payoff", quote.ScaledPayoff).
		Float64("payoff_exact", quote.ScaledExact).
		Msg("Rainbow payoff priced")

	return quote, nil
}

// MeanHitRate is the shot-weighted mean of the per-round hit rates
func MeanHitRate(rounds []estimation.Round) float64 {
	if len(rounds) == 0 {
		return 0
	}
	rates := make([]float64, len(rounds))
	weights := make([]float64, len(rounds))
	for i, r := range rounds {
		rates[i] = float64(r.Hits) / float64(r.Shots)
		weights[i] = float64(r.Shots)
	}
	return stat.Mean(rates, weights)
}
