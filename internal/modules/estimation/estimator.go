// Package estimation implements iterative amplitude estimation: it turns a
// sequence of amplified sampling rounds into a confidence interval for a
// success probability with guaranteed width and coverage.
package estimation

import (
	"context"
	"fmt"
	"math"

	"github.com/aristath/rainbow/internal/modules/sampling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the estimator parameters
type Config struct {
	// Target half-width: the returned interval is at most 2·Epsilon wide
	Epsilon float64
	// Failure probability: the interval misses the true value with
	// probability at most Alpha
	Alpha float64
	// Shots drawn per round
	Shots int
	// Minimum growth factor of the scaling 4k+2 when the depth increases
	MinRatio float64
	Method   Method

	// Caps guaranteeing termination against degenerate samplers
	MaxRounds int
	MaxShots  int
}

// DefaultConfig returns the default estimator configuration
func DefaultConfig() Config {
	return Config{
		Epsilon:   0.01,
		Alpha:     0.05,
		Shots:     100,
		MinRatio:  2,
		Method:    MethodChernoff,
		MaxRounds: 1000,
		MaxShots:  10_000_000,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !(c.Epsilon > 0) || math.IsInf(c.Epsilon, 0) {
		return &InvalidParameterError{Field: "epsilon", Message: fmt.Sprintf("must be positive, got %g", c.Epsilon)}
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return &InvalidParameterError{Field: "alpha", Message: fmt.Sprintf("must be in (0, 1), got %g", c.Alpha)}
	}
	if c.Shots <= 0 {
		return &InvalidParameterError{Field: "shots", Message: fmt.Sprintf("must be positive, got %d", c.Shots)}
	}
	if !(c.MinRatio > 1) || math.IsInf(c.MinRatio, 0) {
		return &InvalidParameterError{Field: "min_ratio", Message: fmt.Sprintf("must be greater than 1, got %g", c.MinRatio)}
	}
	if c.Method != MethodChernoff && c.Method != MethodClopperPearson {
		return &InvalidParameterError{Field: "method", Message: fmt.Sprintf("unknown confidence interval method %q", c.Method)}
	}
	if c.MaxRounds <= 0 {
		return &InvalidParameterError{Field: "max_rounds", Message: "must be positive"}
	}
	if c.MaxShots < c.Shots {
		return &InvalidParameterError{Field: "max_shots", Message: "must allow at least one round"}
	}
	return nil
}

// Round is one amplification round. Rounds are never modified once recorded.
type Round struct {
	Depth int
	Shots int
	Hits  int

	// Shots and hits pooled over the consecutive rounds at this depth
	PooledShots int
	PooledHits  int

	// Confidence interval of the measured probability sin²((2k+1)θ)
	Measured Interval
	// θ interval (radians) and probability interval after this round
	Angle    Interval
	Estimate Interval

	// Reset rounds produced an angle interval disjoint from the running one.
	// The running interval restarts from the pooled interval of this round.
	Reset bool
}

// State is everything one estimation run carries from round to round. It
// is owned by a single run.
type State struct {
	Rounds []Round
	// Current θ interval and its image in probability space
	Angle    Interval
	Estimate Interval
	// Target half-width and per-round failure probability
	Epsilon     float64
	RoundAlpha  float64
	RoundBudget int
	// Depth and half-cycle the next round is mapped into
	Depth      int
	HalfCycle  int
	FirstRound bool

	TotalShots    int
	OracleQueries int
}

// NewState creates the initial state: k = 0, θ in [0, π/2], p in [0, 1]
func NewState(cfg Config) *State {
	budget := roundBudget(cfg.Epsilon, cfg.MinRatio)
	return &State{
		Angle:       Interval{Low: 0, High: math.Pi / 2},
		Estimate:    Interval{Low: 0, High: 1},
		Epsilon:     cfg.Epsilon,
		RoundAlpha:  cfg.Alpha / float64(budget),
		RoundBudget: budget,
		FirstRound:  true,
	}
}

// Done reports whether the probability interval is narrow enough
func (s *State) Done() bool {
	return s.Estimate.Width() <= 2*s.Epsilon
}

// Result is the outcome of an estimation run
type Result struct {
	RunID         string
	PointEstimate float64
	Interval      Interval
	Rounds        []Round
	Epsilon       float64
	Alpha         float64
	TotalShots    int
	OracleQueries int
}

// Estimator runs iterative amplitude estimation against a sampler
type Estimator struct {
	cfg Config
	log zerolog.Logger
}

// NewEstimator creates a new estimator
func NewEstimator(cfg Config, log zerolog.Logger) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{
		cfg: cfg,
		log: log.With().Str("component", "amplitude_estimator").Logger(),
	}, nil
}

// Config returns the estimator configuration
func (e *Estimator) Config() Config {
	return e.cfg
}

// Estimate runs rounds until the probability interval is at most 2·Epsilon
// wide. Sampling noise is absorbed by the confidence bounds, and a round
// that contradicts the running interval resets it rather than stalling the
// run. The run only fails on a sampler error, a protocol violation,
// cancellation, or when a cap is hit.
func (e *Estimator) Estimate(ctx context.Context, sampler sampling.Sampler) (*Result, error) {
	return e.EstimateObserved(ctx, sampler, nil)
}

// EstimateObserved is Estimate with a callback invoked after every recorded
// round. observe may be nil.
func (e *Estimator) EstimateObserved(ctx context.Context, sampler sampling.Sampler, observe func(Round)) (*Result, error) {
	runID := uuid.New().String()
	log := e.log.With().Str("run_id", runID).Logger()
	state := NewState(e.cfg)

	log.Debug().
		Float64("epsilon", e.cfg.Epsilon).
		Float64("alpha", e.cfg.Alpha).
		Int("round_budget", state.RoundBudget).
		Str("method", string(e.cfg.Method)).
		Msg("Starting amplitude estimation")

	for !state.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.Round(ctx, sampler, state); err != nil {
			return nil, err
		}
		if observe != nil {
			observe(state.Rounds[len(state.Rounds)-1])
		}
	}

	rounds := make([]Round, len(state.Rounds))
	copy(rounds, state.Rounds)
	result := &Result{
		RunID:         runID,
		PointEstimate: state.Estimate.Mid(),
		Interval:      state.Estimate,
		Rounds:        rounds,
		Epsilon:       e.cfg.Epsilon,
		Alpha:         e.cfg.Alpha,
		TotalShots:    state.TotalShots,
		OracleQueries: state.OracleQueries,
	}

	log.Info().
		Float64("estimate", result.PointEstimate).
		Float64("low", result.Interval.Low).
		Float64("high", result.Interval.High).
		Int("rounds", len(rounds)).
		Int("shots", result.TotalShots).
		Int("oracle_queries", result.OracleQueries).
		Msg("Amplitude estimation converged")

	return result, nil
}

// Round runs a single round against state: choose the depth, sample, and
// narrow the running interval.
func (e *Estimator) Round(ctx context.Context, sampler sampling.Sampler, state *State) error {
	if len(state.Rounds) >= e.cfg.MaxRounds {
		return e.nonConvergence("round cap reached", state)
	}
	if state.TotalShots+e.cfg.Shots > e.cfg.MaxShots {
		return e.nonConvergence("shot cap reached", state)
	}

	if state.FirstRound {
		state.FirstRound = false
	} else if k, m, ok := nextDepth(state.Depth, state.Angle, e.cfg.MinRatio); ok {
		state.Depth, state.HalfCycle = k, m
	}
	k := state.Depth
	scaling := scalingOf(k)

	hits, err := sampler.Sample(ctx, k, e.cfg.Shots)
	if err != nil {
		return fmt.Errorf("sampling depth %d: %w", k, err)
	}
	if hits < 0 || hits > e.cfg.Shots {
		return &ProtocolViolationError{Depth: k, Shots: e.cfg.Shots, Hits: hits}
	}
	state.TotalShots += e.cfg.Shots
	state.OracleQueries += e.cfg.Shots * k

	// rounds at one depth are consecutive since the depth never decreases
	pooledShots, pooledHits := e.cfg.Shots, hits
	for i := len(state.Rounds) - 1; i >= 0 && state.Rounds[i].Depth == k; i-- {
		pooledShots += state.Rounds[i].Shots
		pooledHits += state.Rounds[i].Hits
	}

	measured := confidenceInterval(e.cfg.Method, pooledHits, pooledShots, state.RoundAlpha)
	candidate := invertPhase(measured, scaling, state.HalfCycle)

	round := Round{
		Depth:       k,
		Shots:       e.cfg.Shots,
		Hits:        hits,
		PooledShots: pooledShots,
		PooledHits:  pooledHits,
		Measured:    measured,
	}

	narrowed := Interval{
		Low:  math.Max(state.Angle.Low, candidate.Low),
		High: math.Min(state.Angle.High, candidate.High),
	}
	if narrowed.Low > narrowed.High {
		// an earlier bound missed θ; the pooled data at this depth supersedes it
		round.Reset = true
		e.log.Warn().
			Int("depth", k).
			Float64("candidate_low", candidate.Low).
			Float64("candidate_high", candidate.High).
			Float64("theta_low", state.Angle.Low).
			Float64("theta_high", state.Angle.High).
			Msg("Round interval disjoint from running interval, restarting from it")
		narrowed = clampAngle(candidate)
	}
	state.Angle = narrowed
	state.Estimate = Interval{Low: probability(narrowed.Low), High: probability(narrowed.High)}

	round.Angle = state.Angle
	round.Estimate = state.Estimate
	state.Rounds = append(state.Rounds, round)

	e.log.Debug().
		Int("round", len(state.Rounds)).
		Int("depth", k).
		Int("shots", round.Shots).
		Int("hits", hits).
		Int("pooled_shots", pooledShots).
		Float64("low", state.Estimate.Low).
		Float64("high", state.Estimate.High).
		Msg("Round complete")

	return nil
}

// clampAngle restricts a θ interval to [0, π/2]
func clampAngle(theta Interval) Interval {
	low := math.Min(math.Max(theta.Low, 0), math.Pi/2)
	high := math.Max(math.Min(theta.High, math.Pi/2), low)
	return Interval{Low: low, High: high}
}

func (e *Estimator) nonConvergence(reason string, state *State) error {
	return &NonConvergenceError{
		Reason:   reason,
		Rounds:   len(state.Rounds),
		Shots:    state.TotalShots,
		Interval: state.Estimate,
		Target:   2 * state.Epsilon,
	}
}
