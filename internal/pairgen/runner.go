// Package pairgen implements the five pair-generation strategies and the
// run controller they all share: construct, Run, matcher.Setup, cache.Setup,
// produce pairs in batches wrapped in a database transaction, report
// elapsed time, all cooperatively cancellable at every outer-loop boundary.
package pairgen

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// Controller is the cooperative cancellation signal shared by a generator's
// run loop and whatever drives it (signal handler, timeout, test). Stop is
// idempotent and safe to call from any goroutine.
type Controller struct {
	stopped atomic.Bool
}

// NewController returns a fresh, non-stopped Controller.
func NewController() *Controller {
	return &Controller{}
}

// Stop requests cancellation. The generator observes it at the next outer
// loop boundary, not preemptively.
func (c *Controller) Stop() {
	c.stopped.Store(true)
}

// IsStopped reports whether Stop has been called.
func (c *Controller) IsStopped() bool {
	return c.stopped.Load()
}

// Generator is the uniform entry point every strategy implements.
type Generator interface {
	Run() error
}

// runBatch wraps one pair batch in a database transaction and dispatches it.
// On any error from the dispatcher the transaction rolls back and the batch
// is lost; a crash mid-batch only loses that batch's writes, and the
// skip-if-exists check on restart makes re-running idempotent.
func runBatch(db database.Database, d *dispatcher.Dispatcher, batch []types.ImagePair) error {
	if len(batch) == 0 {
		return nil
	}
	txn, err := db.Begin(true)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	if err := d.Match(batch); err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("match batch: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit batch transaction: %w", err)
	}
	return nil
}

// logElapsed reports a generator's run time the way every strategy's Run
// does on both the cancelled and completed paths.
func logElapsed(name string, start time.Time, cancelled bool) {
	elapsed := time.Since(start)
	ev := log.Info()
	if cancelled {
		ev = log.Info().Bool("cancelled", true)
	}
	ev.Str("generator", name).Dur("elapsed", elapsed).Msg("generator finished")
}
