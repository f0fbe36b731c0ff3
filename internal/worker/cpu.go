package worker

import (
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// CPUWorker is stateless between jobs: every job fetches both descriptor
// blocks from the cache and invokes the CPU matching kernel.
type CPUWorker struct {
	*base
}

// NewCPU returns a CPU worker reading jobs from input and writing results to
// output, both owned by the dispatcher.
func NewCPU(cache *matchcache.Cache, input <-chan types.MatcherData, output chan<- types.MatcherData, opts matchkernel.Options, minNumMatches int) *CPUWorker {
	w := &CPUWorker{base: newBase(cache, input, output, opts, minNumMatches)}
	w.process = w.matchJob
	return w
}

func (w *CPUWorker) Start() {
	w.start(nil)
}

func (w *CPUWorker) matchJob(job types.MatcherData) (types.FeatureMatches, error) {
	descA, err := w.cache.GetDescriptors(job.ImageID1)
	if err != nil {
		return nil, err
	}
	descB, err := w.cache.GetDescriptors(job.ImageID2)
	if err != nil {
		return nil, err
	}
	return matchkernel.CPU(w.options(), descA, descB)
}
