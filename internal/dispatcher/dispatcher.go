// Package dispatcher implements the matcher dispatcher: it owns the worker
// pool and its input/output queues, deduplicates and filters the pairs a
// generator hands it, and writes results back through the cache.
package dispatcher

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/worker"
)

// queueDepthPerWorker is "a few x worker count", a tuning knob rather than a
// correctness parameter.
const queueDepthPerWorker = 4

// Dispatcher owns a bounded pool of matcher workers plus the input and
// output queues feeding them.
type Dispatcher struct {
	cache     *matchcache.Cache
	matching  config.Matching
	matchOpts matchkernel.Options

	workers []worker.Worker
	input   chan types.MatcherData
	output  chan types.MatcherData

	isSetup bool
}

// New returns a Dispatcher over cache, configured with matching (thread
// count, GPU usage, match-count floor/ceiling) and matchOpts (the
// kernel-level ratio/cross-check tunables). Call Setup before Match.
func New(cache *matchcache.Cache, matching config.Matching, matchOpts matchkernel.Options) *Dispatcher {
	return &Dispatcher{cache: cache, matching: matching, matchOpts: matchOpts}
}

// Setup clamps max_num_matches to the database's largest descriptor count,
// starts the worker pool, and waits for every worker to report readiness.
// If any worker fails setup, Setup returns an error and the dispatcher is
// left unusable.
func (d *Dispatcher) Setup() error {
	maxDesc, err := d.cache.MaxNumDescriptors()
	if err != nil {
		return fmt.Errorf("dispatcher setup: %w", err)
	}
	if maxDesc > 0 && d.matchOpts.MaxNumMatches > maxDesc {
		d.matchOpts.MaxNumMatches = maxDesc
	}

	numWorkers := config.ResolveNumThreads(d.matching.NumThreads)
	if d.matching.UseGPU {
		// Device enumeration: with no real GPU compute runtime there is
		// nothing to enumerate, so an empty GPUIndices starts one GPU worker
		// on device 0 rather than zero workers. GPU workers fail setup in
		// this build, so Setup then returns an error; there is no fallback
		// to a CPU worker.
		gpuIndices := d.matching.GPUIndices
		if len(gpuIndices) == 0 {
			gpuIndices = []int{0}
		}
		numWorkers = len(gpuIndices)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	queueDepth := numWorkers * queueDepthPerWorker
	d.input = make(chan types.MatcherData, queueDepth)
	d.output = make(chan types.MatcherData, queueDepth)

	d.workers = make([]worker.Worker, 0, numWorkers)
	if d.matching.UseGPU {
		gpuIndices := d.matching.GPUIndices
		if len(gpuIndices) == 0 {
			gpuIndices = []int{0}
		}
		for _, idx := range gpuIndices {
			d.workers = append(d.workers, worker.NewGPU(d.cache, d.input, d.output, d.matchOpts, d.matching.MinNumMatches, idx))
		}
	} else {
		for i := 0; i < numWorkers; i++ {
			d.workers = append(d.workers, worker.NewCPU(d.cache, d.input, d.output, d.matchOpts, d.matching.MinNumMatches))
		}
	}

	for _, w := range d.workers {
		w.Start()
	}
	for _, w := range d.workers {
		if !w.CheckValidSetup() {
			return fmt.Errorf("dispatcher setup: a worker failed setup")
		}
	}

	d.isSetup = true
	log.Debug().Int("workers", len(d.workers)).Int("max_num_matches", d.matchOpts.MaxNumMatches).Msg("dispatcher ready")
	return nil
}

// Match deduplicates pairs, drops any already present in the database,
// submits the remainder to the worker pool, and drains exactly that many
// results, writing each through the cache. On return output queue backlog
// is always zero: every job submitted by this call has been drained.
//
// Submission runs on its own goroutine so a batch larger than the queue
// depth never deadlocks against workers blocked writing to a full output
// queue: this goroutine keeps draining input capacity while the caller
// drains output capacity, concurrently.
func (d *Dispatcher) Match(pairs []types.ImagePair) error {
	if !d.isSetup {
		return fmt.Errorf("dispatcher: match called before setup")
	}

	toSubmit := make([]types.ImagePair, 0, len(pairs))
	seen := make(map[types.PairID]struct{}, len(pairs))
	for _, p := range pairs {
		if p.ImageID1 == p.ImageID2 {
			continue
		}
		pairID := types.NewPairID(p.ImageID1, p.ImageID2)
		if _, dup := seen[pairID]; dup {
			continue
		}
		seen[pairID] = struct{}{}

		exists, err := d.cache.ExistsMatches(p.ImageID1, p.ImageID2)
		if err != nil {
			return fmt.Errorf("dispatcher match: %w", err)
		}
		if exists {
			continue
		}
		toSubmit = append(toSubmit, p)
	}

	go func() {
		for _, p := range toSubmit {
			d.input <- types.MatcherData{ImageID1: p.ImageID1, ImageID2: p.ImageID2}
		}
	}()

	// firstErr is returned only after every submitted job has been drained,
	// so a worker failure never leaves a stale result in d.output for the
	// next Match call to trip over, and a caller that aborts on error still
	// sees the dispatcher in a clean, reusable state.
	var firstErr error
	for range toSubmit {
		result := <-d.output
		if result.Err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("dispatcher match: job %d/%d failed: %w", result.ImageID1, result.ImageID2, result.Err)
			}
			continue
		}
		matches := result.Matches
		if len(matches) < d.matching.MinNumMatches {
			matches = nil
		}
		if err := d.cache.WriteMatches(result.ImageID1, result.ImageID2, matches); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dispatcher match: write result: %w", err)
		}
	}

	return firstErr
}

// Close drains nothing further (Match already guarantees the queues are
// empty between calls), signals every worker to stop, and joins them.
func (d *Dispatcher) Close() {
	for _, w := range d.workers {
		w.Stop()
	}
	for _, w := range d.workers {
		w.Wait()
	}
}
