package pairgen

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// Exhaustive partitions the image id list into contiguous blocks and emits
// every unordered pair across the union of each ordered pair of blocks
// (including a block against itself), using a position-within-block
// dedup rule so each unordered pair is produced exactly once.
type Exhaustive struct {
	db         database.Database
	cache      *matchcache.Cache
	dispatcher *dispatcher.Dispatcher
	ctrl       *Controller
	opts       config.Exhaustive
}

// NewExhaustive returns an Exhaustive generator. db, cache and dispatcher
// must share the same underlying database.
func NewExhaustive(db database.Database, cache *matchcache.Cache, d *dispatcher.Dispatcher, ctrl *Controller, opts config.Exhaustive) (*Exhaustive, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Exhaustive{db: db, cache: cache, dispatcher: d, ctrl: ctrl, opts: opts}, nil
}

func (g *Exhaustive) Run() error {
	start := time.Now()
	if err := g.dispatcher.Setup(); err != nil {
		log.Warn().Err(err).Msg("exhaustive: dispatcher setup failed")
		return nil
	}
	if err := g.cache.Setup(); err != nil {
		return err
	}

	imageIDs := g.cache.GetImageIDs()
	n := len(imageIDs)
	blockSize := g.opts.BlockSize
	numBlocks := (n + blockSize - 1) / blockSize

	for b1 := 0; b1 < numBlocks; b1++ {
		for b2 := 0; b2 < numBlocks; b2++ {
			if g.ctrl.IsStopped() {
				logElapsed("exhaustive", start, true)
				return nil
			}
			batch := exhaustiveBlockPairs(imageIDs, blockSize, n, b1, b2)
			if err := runBatch(g.db, g.dispatcher, batch); err != nil {
				return err
			}
		}
	}

	logElapsed("exhaustive", start, false)
	return nil
}

func exhaustiveBlockPairs(imageIDs []types.ImageID, blockSize, n, b1, b2 int) []types.ImagePair {
	iEnd := min(n, (b1+1)*blockSize)
	jEnd := min(n, (b2+1)*blockSize)

	var batch []types.ImagePair
	for i := b1 * blockSize; i < iEnd; i++ {
		for j := b2 * blockSize; j < jEnd; j++ {
			blockID1 := i % blockSize
			blockID2 := j % blockSize
			include := (i > j && blockID1 <= blockID2) || (i < j && blockID1 < blockID2)
			if !include {
				continue
			}
			batch = append(batch, types.ImagePair{ImageID1: imageIDs[i], ImageID2: imageIDs[j]})
		}
	}
	return batch
}
