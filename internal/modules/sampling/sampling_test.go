package sampling

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/aristath/rainbow/internal/modules/amplification"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// amplitudes of a two-qubit register whose odd basis states are marked and
// succeed with probability p
func testAmplitudes(p float64) []float64 {
	a, b := math.Sqrt(p), math.Sqrt(1-p)
	return []float64{b * math.Sqrt(0.6), a * math.Sqrt(0.6), b * math.Sqrt(0.4), a * math.Sqrt(0.4)}
}

func isOdd(i int) bool { return i%2 == 1 }

func testSimulator(t *testing.T, p float64, workers int, seed uint64) *Simulator {
	t.Helper()
	prep, err := amplification.NewPreparation(testAmplitudes(p), isOdd)
	require.NoError(t, err)
	return NewSimulator(prep, NewWorkerPool(workers), seed, zerolog.Nop())
}

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name            string
		numWorkers      int
		expectedWorkers int
	}{
		{"positive workers", 5, 5},
		{"zero workers defaults to 10", 0, 10},
		{"negative workers defaults to 10", -1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewWorkerPool(tt.numWorkers)
			assert.Equal(t, tt.expectedWorkers, pool.Workers())
		})
	}
}

func TestMeasureBatch_EmptyBatches(t *testing.T) {
	prep, err := amplification.NewPreparation(testAmplitudes(0.5), isOdd)
	require.NoError(t, err)
	state, err := amplification.Apply(0, prep)
	require.NoError(t, err)

	assert.Empty(t, NewWorkerPool(2).MeasureBatch(state, nil))
}

func TestMeasureBatch_PreservesOrder(t *testing.T) {
	// p = 1: every shot is a hit, so hits per batch equal the batch sizes
	prep, err := amplification.NewPreparation(testAmplitudes(1), isOdd)
	require.NoError(t, err)
	state, err := amplification.Apply(0, prep)
	require.NoError(t, err)

	batches := []shotBatch{{shots: 3}, {shots: 10, stream: 1}, {shots: 7, stream: 2}, {shots: 1, stream: 3}}
	hits := NewWorkerPool(4).MeasureBatch(state, batches)
	assert.Equal(t, []int{3, 10, 7, 1}, hits)
}

func TestSimulator_HitRateMatchesAmplifiedProbability(t *testing.T) {
	sim := testSimulator(t, 0.1, 4, 42)
	theta := math.Asin(math.Sqrt(0.1))

	for _, depth := range []int{0, 1, 2} {
		shots := 40000
		hits, err := sim.Sample(context.Background(), depth, shots)
		require.NoError(t, err)
		expected := amplification.ExpectedSuccess(theta, depth)
		assert.InDelta(t, expected, float64(hits)/float64(shots), 0.015, "depth %d", depth)
	}
}

func TestSimulator_FullAmplification(t *testing.T) {
	// p = 1/4 is amplified to certainty by one round
	sim := testSimulator(t, 0.25, 3, 1)
	hits, err := sim.Sample(context.Background(), 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, hits)
}

func TestSimulator_Reproducible(t *testing.T) {
	a := testSimulator(t, 0.3, 4, 99)
	b := testSimulator(t, 0.3, 4, 99)

	for _, depth := range []int{0, 2, 2, 5} {
		ha, err := a.Sample(context.Background(), depth, 1000)
		require.NoError(t, err)
		hb, err := b.Sample(context.Background(), depth, 1000)
		require.NoError(t, err)
		assert.Equal(t, ha, hb)
	}
}

func TestSimulator_DepthZeroIsPlainMeasurement(t *testing.T) {
	amps := testAmplitudes(0.35)
	weights := make([]float64, len(amps))
	for i, a := range amps {
		weights[i] = a * a
	}

	for seed := uint64(1); seed <= 50; seed++ {
		sim := testSimulator(t, 0.35, 1, seed)
		hits, err := sim.Sample(context.Background(), 0, 1)
		require.NoError(t, err)

		direct := distuv.NewCategorical(weights, rand.NewPCG(seed, 0))
		expected := 0
		if isOdd(int(direct.Rand())) {
			expected = 1
		}
		assert.Equal(t, expected, hits, "seed %d", seed)
	}
}

func TestSimulator_RejectsBadRequests(t *testing.T) {
	sim := testSimulator(t, 0.3, 2, 1)

	_, err := sim.Sample(context.Background(), -1, 10)
	var reqErr *RequestError
	assert.True(t, errors.As(err, &reqErr))

	_, err = sim.Sample(context.Background(), 0, 0)
	assert.True(t, errors.As(err, &reqErr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Sample(ctx, 0, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBernoulli(t *testing.T) {
	b, err := NewBernoulli(0.2, 5)
	require.NoError(t, err)
	theta := math.Asin(math.Sqrt(0.2))

	for _, depth := range []int{0, 1, 3} {
		hits, err := b.Sample(context.Background(), depth, 50000)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, hits, 0)
		assert.LessOrEqual(t, hits, 50000)
		assert.InDelta(t, amplification.ExpectedSuccess(theta, depth), float64(hits)/50000, 0.01, "depth %d", depth)
	}
}

func TestBernoulli_Degenerate(t *testing.T) {
	zero, err := NewBernoulli(0, 1)
	require.NoError(t, err)
	hits, err := zero.Sample(context.Background(), 4, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)

	one, err := NewBernoulli(1, 1)
	require.NoError(t, err)
	hits, err = one.Sample(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, hits)
}

func TestNewBernoulli_InvalidProbability(t *testing.T) {
	for _, p := range []float64{-0.1, 1.1, math.NaN()} {
		_, err := NewBernoulli(p, 1)
		assert.Error(t, err, "p=%g", p)
	}
}
