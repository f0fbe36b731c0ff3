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

// Transitive expands the current match graph by two hops: for every path
// a-b-c it proposes the candidate pair (a,c), including a==c (the
// dispatcher's own self-pair filter drops those). Candidates are
// accumulated in a plain slice with a side-set for pair-id dedup, matching
// the original generator's accumulator rather than a sorted structure.
type Transitive struct {
	db         database.Database
	cache      *matchcache.Cache
	dispatcher *dispatcher.Dispatcher
	ctrl       *Controller
	opts       config.Transitive
}

func NewTransitive(db database.Database, cache *matchcache.Cache, d *dispatcher.Dispatcher, ctrl *Controller, opts config.Transitive) (*Transitive, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Transitive{db: db, cache: cache, dispatcher: d, ctrl: ctrl, opts: opts}, nil
}

func (g *Transitive) Run() error {
	start := time.Now()
	if err := g.dispatcher.Setup(); err != nil {
		log.Warn().Err(err).Msg("transitive: dispatcher setup failed")
		return nil
	}
	if err := g.cache.Setup(); err != nil {
		return err
	}

	for iter := 0; iter < g.opts.NumIterations; iter++ {
		if g.ctrl.IsStopped() {
			logElapsed("transitive", start, true)
			return nil
		}
		if err := g.runIteration(); err != nil {
			return err
		}
	}

	logElapsed("transitive", start, false)
	return nil
}

func (g *Transitive) runIteration() error {
	pairs, _, err := g.db.ReadNumMatches()
	if err != nil {
		return err
	}
	adjacency := transitiveAdjacency(pairs)

	seen := make(map[types.PairID]struct{})
	var batch []types.ImagePair
	for a, bs := range adjacency {
		for _, b := range bs {
			for _, c := range adjacency[b] {
				pairID := types.NewPairID(a, c)
				if _, dup := seen[pairID]; dup {
					continue
				}
				seen[pairID] = struct{}{}
				batch = append(batch, types.ImagePair{ImageID1: a, ImageID2: c})
				if len(batch) >= g.opts.BatchSize {
					if err := runBatch(g.db, g.dispatcher, batch); err != nil {
						return err
					}
					batch = nil
				}
			}
		}
	}
	// Flush the remainder, even if it ends up empty: runBatch is a no-op on
	// an empty slice, so this unconditional call is free.
	return runBatch(g.db, g.dispatcher, batch)
}

func transitiveAdjacency(pairs [][2]types.ImageID) map[types.ImageID][]types.ImageID {
	adj := make(map[types.ImageID][]types.ImageID)
	for _, p := range pairs {
		adj[p[0]] = append(adj[p[0]], p[1])
		adj[p[1]] = append(adj[p[1]], p[0])
	}
	return adj
}
