// Package worker implements the long-lived matcher workers the dispatcher's
// pool consists of: a CPU variant that is stateless between jobs, and a GPU
// variant that tracks two upload slots to avoid redundant host->device
// descriptor transfers.
package worker

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// State is a worker's observable lifecycle stage.
type State int

const (
	NotStarted State = iota
	Starting
	ValidSetup
	InvalidSetup
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case ValidSetup:
		return "valid-setup"
	case InvalidSetup:
		return "invalid-setup"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is the capability set the dispatcher's pool is polymorphic over,
// implemented by both the CPU and GPU variants.
type Worker interface {
	Start()
	Stop()
	// CheckValidSetup blocks until setup completes and reports whether it
	// succeeded.
	CheckValidSetup() bool
	Wait()
	SetMaxNumMatches(n int)
}

// base holds the state machine and channel plumbing common to both
// variants; CPU and GPU differ in how they process a job (process, defined
// per variant) and in the setup step passed to start.
type base struct {
	cache *matchcache.Cache
	input <-chan types.MatcherData
	output chan<- types.MatcherData

	opts          matchkernel.Options
	minNumMatches int

	mu    sync.Mutex
	state State

	ready chan struct{}
	stop  chan struct{}
	done  chan struct{}

	process func(job types.MatcherData) (types.FeatureMatches, error)
}

func newBase(cache *matchcache.Cache, input <-chan types.MatcherData, output chan<- types.MatcherData, opts matchkernel.Options, minNumMatches int) *base {
	return &base{
		cache:         cache,
		input:         input,
		output:        output,
		opts:          opts,
		minNumMatches: minNumMatches,
		state:         NotStarted,
		ready:         make(chan struct{}),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (w *base) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *base) getState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetMaxNumMatches updates the cap on returned match list length. Options
// are read per job, so jobs processed after the call use the new cap.
func (w *base) SetMaxNumMatches(n int) {
	w.mu.Lock()
	w.opts.MaxNumMatches = n
	w.mu.Unlock()
}

func (w *base) options() matchkernel.Options {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts
}

// Start launches the worker's goroutine. setup is run first; if it fails the
// worker transitions to InvalidSetup and never enters the main loop.
func (w *base) start(setup func() error) {
	w.setState(Starting)
	go func() {
		defer close(w.done)
		if setup != nil {
			if err := setup(); err != nil {
				log.Warn().Err(err).Msg("matcher worker setup failed")
				w.setState(InvalidSetup)
				close(w.ready)
				return
			}
		}
		w.setState(ValidSetup)
		close(w.ready)
		w.setState(Running)
		w.run()
		w.setState(Stopped)
	}()
}

// run is the worker's main loop: pop a job, process it, push the result.
// Selecting on stop alongside input replaces the sentinel-job wakeup a
// blocking-queue implementation would need.
func (w *base) run() {
	for {
		select {
		case <-w.stop:
			return
		case job, ok := <-w.input:
			if !ok {
				return
			}
			matches, err := w.process(job)
			if err != nil {
				log.Error().Err(err).Uint32("image_id1", job.ImageID1).Uint32("image_id2", job.ImageID2).Msg("matching job failed")
				job.Err = err
				job.Matches = nil
			} else {
				if len(matches) < w.minNumMatches {
					matches = nil
				}
				job.Matches = matches
			}
			select {
			case w.output <- job:
			case <-w.stop:
				return
			}
		}
	}
}

func (w *base) Stop() {
	w.mu.Lock()
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	w.mu.Unlock()
}

func (w *base) CheckValidSetup() bool {
	<-w.ready
	return w.getState() != InvalidSetup
}

func (w *base) Wait() {
	<-w.done
}
