// Command sfmmatch runs one feature-matching generator against a database:
// exhaustive, sequential, spatial, transitive, image_pairs, or
// feature_pairs. It parses flags, opens the database, builds the
// dispatcher and cache, and wires SIGINT/SIGTERM to the run controller so a
// generator exits cleanly at its next batch boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/pairgen"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("sfmmatch failed")
	}
}

func run() error {
	fs := flag.NewFlagSet("sfmmatch", flag.ExitOnError)

	mode := fs.String("mode", "", "generator to run: exhaustive|sequential|spatial|transitive|image_pairs|feature_pairs")
	dbPath := fs.String("database_path", "", "path to the bbolt database file")
	descriptorCacheSize := fs.Int("descriptor_cache_size", 256, "number of descriptor blocks the LRU cache holds")

	blockSize := fs.Int("block_size", 50, "exhaustive/image_pairs block size")
	overlap := fs.Int("overlap", 10, "sequential generator overlap")
	quadraticOverlap := fs.Bool("quadratic_overlap", false, "sequential generator quadratic overlap")
	maxNumNeighbors := fs.Int("max_num_neighbors", 10, "spatial generator neighbor count")
	maxDistance := fs.Float64("max_distance", 100, "spatial generator max neighbor distance")
	isGPS := fs.Bool("is_gps", false, "spatial generator: positions are (lat, lon, alt)")
	ignoreZ := fs.Bool("ignore_z", false, "spatial generator: ignore the z/altitude component")
	batchSize := fs.Int("batch_size", 1000, "transitive generator batch size")
	numIterations := fs.Int("num_iterations", 1, "transitive generator iteration count")
	matchListPath := fs.String("match_list_path", "", "image_pairs/feature_pairs input file")

	matching := config.RegisterMatchingFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *dbPath == "" {
		return fmt.Errorf("sfmmatch: -database_path is required")
	}
	if err := matching.Validate(); err != nil {
		return err
	}

	db, err := database.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("sfmmatch: %w", err)
	}
	defer db.Close()

	cache, err := matchcache.New(db, *descriptorCacheSize)
	if err != nil {
		return fmt.Errorf("sfmmatch: %w", err)
	}

	matchOpts := matchkernel.DefaultOptions()
	matchOpts.MaxNumMatches = matching.MaxNumMatches
	d := dispatcher.New(cache, *matching, matchOpts)
	defer d.Close()

	ctrl := pairgen.NewController()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("sfmmatch: shutdown signal received, stopping at next batch boundary")
		ctrl.Stop()
	}()

	gen, err := buildGenerator(*mode, db, cache, d, ctrl, generatorFlags{
		blockSize:        *blockSize,
		overlap:          *overlap,
		quadraticOverlap: *quadraticOverlap,
		maxNumNeighbors:  *maxNumNeighbors,
		maxDistance:      *maxDistance,
		isGPS:            *isGPS,
		ignoreZ:          *ignoreZ,
		batchSize:        *batchSize,
		numIterations:    *numIterations,
		matchListPath:    *matchListPath,
		numThreads:       matching.NumThreads,
	})
	if err != nil {
		return err
	}

	return gen.Run()
}

type generatorFlags struct {
	blockSize        int
	overlap          int
	quadraticOverlap bool
	maxNumNeighbors  int
	maxDistance      float64
	isGPS            bool
	ignoreZ          bool
	batchSize        int
	numIterations    int
	matchListPath    string
	numThreads       int
}

func buildGenerator(mode string, db database.Database, cache *matchcache.Cache, d *dispatcher.Dispatcher, ctrl *pairgen.Controller, f generatorFlags) (pairgen.Generator, error) {
	switch mode {
	case "exhaustive":
		return pairgen.NewExhaustive(db, cache, d, ctrl, config.Exhaustive{BlockSize: f.blockSize})
	case "sequential":
		return pairgen.NewSequential(db, cache, d, ctrl, config.Sequential{Overlap: f.overlap, QuadraticOverlap: f.quadraticOverlap}, f.batchSize)
	case "spatial":
		return pairgen.NewSpatial(db, cache, d, ctrl, config.Spatial{
			MaxNumNeighbors: f.maxNumNeighbors,
			MaxDistance:     f.maxDistance,
			IsGPS:           f.isGPS,
			IgnoreZ:         f.ignoreZ,
		}, f.numThreads, f.batchSize)
	case "transitive":
		return pairgen.NewTransitive(db, cache, d, ctrl, config.Transitive{BatchSize: f.batchSize, NumIterations: f.numIterations})
	case "image_pairs":
		return pairgen.NewImagePairs(db, cache, d, ctrl, config.ImagePairs{BlockSize: f.blockSize, MatchListPath: f.matchListPath})
	case "feature_pairs":
		return pairgen.NewFeaturePairs(db, ctrl, config.FeaturePairs{MatchListPath: f.matchListPath})
	default:
		return nil, fmt.Errorf("sfmmatch: unknown -mode %q", mode)
	}
}
