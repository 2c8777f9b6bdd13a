package sampling

import (
	"context"
	"sync"

	"github.com/aristath/rainbow/internal/modules/amplification"
	"github.com/rs/zerolog"
)

// minBatchShots keeps tiny requests on a single worker
const minBatchShots = 64

// Simulator measures a simulated register: for every request it amplifies
// the preparation to the requested depth and measures the full register
// shots times, spread over a worker pool.
//
// Every batch gets its own PCG stream derived from the simulator seed and a
// call counter, so a run is reproducible for a fixed seed and pool size.
type Simulator struct {
	prep *amplification.Preparation
	pool *WorkerPool
	seed uint64
	log  zerolog.Logger

	mu     sync.Mutex
	calls  uint64
	states map[int]*amplification.AmplifiedState
}

// NewSimulator creates a simulator for prep
func NewSimulator(
	prep *amplification.Preparation,
	pool *WorkerPool,
	seed uint64,
	log zerolog.Logger,
) *Simulator {
	return &Simulator{
		prep:   prep,
		pool:   pool,
		seed:   seed,
		log:    log.With().Str("component", "register_simulator").Logger(),
		states: make(map[int]*amplification.AmplifiedState),
	}
}

// Sample implements Sampler
func (s *Simulator) Sample(ctx context.Context, depth, shots int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateRequest(depth, shots); err != nil {
		return 0, err
	}

	state, call, err := s.prepare(depth)
	if err != nil {
		return 0, err
	}

	batches := s.split(shots, call)
	perBatch := s.pool.MeasureBatch(state, batches)

	hits := 0
	for _, h := range perBatch {
		hits += h
	}

	s.log.Debug().
		Int("depth", depth).
		Int("shots", shots).
		Int("hits", hits).
		Int("batches", len(batches)).
		Msg("Register measured")

	return hits, nil
}

// prepare returns the cached amplified state for depth and reserves a call
// index for stream derivation
func (s *Simulator) prepare(depth int) (*amplification.AmplifiedState, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++

	if state, ok := s.states[depth]; ok {
		return state, call, nil
	}
	state, err := amplification.Apply(depth, s.prep)
	if err != nil {
		return nil, 0, err
	}
	s.states[depth] = state
	return state, call, nil
}

// split divides shots evenly over the pool
func (s *Simulator) split(shots int, call uint64) []shotBatch {
	perBatch := (shots + s.pool.Workers() - 1) / s.pool.Workers()
	if perBatch < minBatchShots {
		perBatch = minBatchShots
	}

	batches := make([]shotBatch, 0, s.pool.Workers())
	for remaining, i := shots, uint64(0); remaining > 0; i++ {
		n := min(perBatch, remaining)
		batches = append(batches, shotBatch{
			shots:  n,
			seed:   s.seed ^ (call << 32),
			stream: i,
		})
		remaining -= n
	}
	return batches
}
