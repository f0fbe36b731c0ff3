package pairgen

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/viterin/vek/vek32"
	"golang.org/x/sync/errgroup"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/geo"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// Spatial queries a linear L2 search index built over each image's prior
// position for its k nearest neighbors, emitting a pair for every neighbor
// within max_distance. Images with no usable prior position are skipped
// entirely.
type Spatial struct {
	db         database.Database
	cache      *matchcache.Cache
	dispatcher *dispatcher.Dispatcher
	ctrl       *Controller
	opts       config.Spatial
	numThreads int
	batchSize  int
}

func NewSpatial(db database.Database, cache *matchcache.Cache, d *dispatcher.Dispatcher, ctrl *Controller, opts config.Spatial, numThreads, batchSize int) (*Spatial, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Spatial{db: db, cache: cache, dispatcher: d, ctrl: ctrl, opts: opts, numThreads: numThreads, batchSize: batchSize}, nil
}

type spatialPoint struct {
	imageID types.ImageID
	pos     [3]float32
}

type spatialCandidate struct {
	index  int
	distSq float32
}

func (g *Spatial) Run() error {
	start := time.Now()
	if err := g.dispatcher.Setup(); err != nil {
		log.Warn().Err(err).Msg("spatial: dispatcher setup failed")
		return nil
	}
	if err := g.cache.Setup(); err != nil {
		return err
	}

	points := g.collectPositions()
	if len(points) == 0 {
		log.Info().Msg("spatial: no images have a prior position, nothing to do")
		return nil
	}

	// nearestCandidates always includes a point itself (distance 0) among its
	// results, which the loop below filters out; request one extra neighbor
	// so MaxNumNeighbors real neighbors remain after that filter.
	k := g.opts.MaxNumNeighbors + 1
	if k > len(points) {
		k = len(points)
	}

	results := make([][]spatialCandidate, len(points))
	eg := new(errgroup.Group)
	eg.SetLimit(config.ResolveNumThreads(g.numThreads))
	for i := range points {
		i := i
		eg.Go(func() error {
			results[i] = nearestCandidates(points, i, k)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	maxDistSq := float32(g.opts.MaxDistance * g.opts.MaxDistance)
	var batch []types.ImagePair
	for i, neighbors := range results {
		if g.ctrl.IsStopped() {
			if err := runBatch(g.db, g.dispatcher, batch); err != nil {
				return err
			}
			logElapsed("spatial", start, true)
			return nil
		}
		for _, n := range neighbors {
			if n.index == i {
				continue
			}
			if n.distSq > maxDistSq {
				break
			}
			batch = append(batch, types.ImagePair{ImageID1: points[i].imageID, ImageID2: points[n.index].imageID})
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
	logElapsed("spatial", start, false)
	return nil
}

func (g *Spatial) collectPositions() []spatialPoint {
	var points []spatialPoint
	for _, id := range g.cache.GetImageIDs() {
		img := g.cache.GetImage(id)
		if !img.HasPriorPosition(g.opts.IgnoreZ) {
			continue
		}
		x, y, z := img.TvecPrior[0], img.TvecPrior[1], img.TvecPrior[2]
		if g.opts.IsGPS {
			// Altitude must be zeroed before the ellipsoidal-to-ECEF
			// conversion, not after: ECEF z is a nonlinear function of both
			// latitude and altitude, so converting with the real altitude
			// and zeroing the result afterward yields a different point.
			if g.opts.IgnoreZ {
				z = 0
			}
			x, y, z = geo.EllToXYZ(x, y, z)
		} else if g.opts.IgnoreZ {
			z = 0
		}
		points = append(points, spatialPoint{imageID: id, pos: [3]float32{float32(x), float32(y), float32(z)}})
	}
	return points
}

// nearestCandidates returns the k nearest points to points[i] (including
// itself), sorted by ascending squared distance, via a linear scan.
func nearestCandidates(points []spatialPoint, i, k int) []spatialCandidate {
	cands := make([]spatialCandidate, len(points))
	for j := range points {
		d := vek32.Distance(points[i].pos[:], points[j].pos[:])
		cands[j] = spatialCandidate{index: j, distSq: d * d}
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].distSq < cands[b].distSq })
	if k < len(cands) {
		cands = cands[:k]
	}
	return cands
}
