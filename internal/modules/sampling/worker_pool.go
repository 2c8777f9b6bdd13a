package sampling

import (
	"math/rand/v2"
	"sync"

	"github.com/aristath/rainbow/internal/modules/amplification"
	"gonum.org/v1/gonum/stat/distuv"
)

// WorkerPool manages a pool of worker goroutines measuring shot batches in
// parallel
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 10 // Default to 10 workers
	}
	return &WorkerPool{
		numWorkers: numWorkers,
	}
}

// Workers returns the pool size
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// shotBatch is a slice of one Sample call measured by a single worker with
// its own random stream
type shotBatch struct {
	shots  int
	seed   uint64
	stream uint64
}

// MeasureBatch measures every batch against state and returns the number of
// marked outcomes per batch, in batch order.
func (wp *WorkerPool) MeasureBatch(state *amplification.AmplifiedState, batches []shotBatch) []int {
	numBatches := len(batches)
	if numBatches == 0 {
		return []int{}
	}

	weights := state.Probabilities()

	jobs := make(chan jobItem, numBatches)
	results := make(chan resultItem, numBatches)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numBatches < numActualWorkers {
		numActualWorkers = numBatches // Don't spawn more workers than batches
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(jobs, results, state, weights)
		}()
	}

	for idx, batch := range batches {
		jobs <- jobItem{index: idx, batch: batch}
	}
	close(jobs)

	// Wait for all workers to finish, then close results
	wg.Wait()
	close(results)

	hits := make([]int, numBatches)
	for result := range results {
		hits[result.index] = result.hits
	}
	return hits
}

type jobItem struct {
	batch shotBatch
	index int
}

type resultItem struct {
	hits  int
	index int
}

// worker draws basis states from the Born-rule distribution of state and
// counts the marked ones
func worker(
	jobs <-chan jobItem,
	results chan<- resultItem,
	state *amplification.AmplifiedState,
	weights []float64,
) {
	for job := range jobs {
		src := rand.NewPCG(job.batch.seed, job.batch.stream)
		outcomes := distuv.NewCategorical(weights, src)

		hits := 0
		for i := 0; i < job.batch.shots; i++ {
			if state.IsMarked(int(outcomes.Rand())) {
				hits++
			}
		}
		results <- resultItem{index: job.index, hits: hits}
	}
}
