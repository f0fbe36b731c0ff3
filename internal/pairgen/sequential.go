package pairgen

import (
	"time"

	"github.com/google/btree"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// Sequential walks images in name order, pairing each with a window of
// overlap following images. With QuadraticOverlap it additionally pairs
// at power-of-two strides, catching loop closures a purely linear window
// would miss; duplicates this introduces are left to the dispatcher's own
// deduplication.
//
// The window offsets run 1..Overlap inclusive, not 1..Overlap-1: an image
// with an overlap of N pairs with its N nearest-by-name successors.
type Sequential struct {
	db         database.Database
	cache      *matchcache.Cache
	dispatcher *dispatcher.Dispatcher
	ctrl       *Controller
	opts       config.Sequential

	batchSize int
}

// NewSequential returns a Sequential generator. batchSize controls how many
// source images' pairs accumulate before a batch is flushed.
func NewSequential(db database.Database, cache *matchcache.Cache, d *dispatcher.Dispatcher, ctrl *Controller, opts config.Sequential, batchSize int) (*Sequential, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sequential{db: db, cache: cache, dispatcher: d, ctrl: ctrl, opts: opts, batchSize: batchSize}, nil
}

func (g *Sequential) Run() error {
	start := time.Now()
	if err := g.dispatcher.Setup(); err != nil {
		log.Warn().Err(err).Msg("sequential: dispatcher setup failed")
		return nil
	}
	if err := g.cache.Setup(); err != nil {
		return err
	}

	ordered := sequentialOrder(g.cache)
	var batch []types.ImagePair

	for k, imageID := range ordered {
		if g.ctrl.IsStopped() {
			if err := runBatch(g.db, g.dispatcher, batch); err != nil {
				return err
			}
			logElapsed("sequential", start, true)
			return nil
		}

		for step := 1; step <= g.opts.Overlap; step++ {
			if k+step >= len(ordered) {
				break
			}
			batch = append(batch, types.ImagePair{ImageID1: imageID, ImageID2: ordered[k+step]})
		}
		if g.opts.QuadraticOverlap {
			for i := 0; i < g.opts.Overlap; i++ {
				step := 1 << uint(i)
				if k+step >= len(ordered) {
					continue
				}
				batch = append(batch, types.ImagePair{ImageID1: imageID, ImageID2: ordered[k+step]})
			}
		}

		if len(batch) >= g.batchSize {
			if err := runBatch(g.db, g.dispatcher, batch); err != nil {
				return err
			}
			batch = nil
		}
	}

	if err := runBatch(g.db, g.dispatcher, batch); err != nil {
		return err
	}
	logElapsed("sequential", start, false)
	return nil
}

// sequentialOrder sorts the cache's image ids by collated name, tie-broken
// by image id ascending to keep the order total. The ordering is built by
// inserting every id into a btree and reading it back in ascending order;
// the tree is local to this call.
func sequentialOrder(cache *matchcache.Cache) []types.ImageID {
	ids := cache.GetImageIDs()
	col := collate.New(language.Und)

	less := func(a, b types.ImageID) bool {
		nameA, nameB := cache.GetImage(a).Name, cache.GetImage(b).Name
		if cmp := col.CompareString(nameA, nameB); cmp != 0 {
			return cmp < 0
		}
		return a < b
	}

	tr := btree.NewG[types.ImageID](32, less)
	for _, id := range ids {
		tr.ReplaceOrInsert(id)
	}

	ordered := make([]types.ImageID, 0, tr.Len())
	tr.Ascend(func(id types.ImageID) bool {
		ordered = append(ordered, id)
		return true
	})
	return ordered
}
