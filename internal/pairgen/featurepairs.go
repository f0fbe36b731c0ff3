package pairgen

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// FeaturePairs is the importer: unlike every other generator it never
// touches the matcher pool or the descriptor cache. It parses pre-computed
// matches directly from a file and writes them to the database. Unknown
// image names are a hard stop (stricter than ImagePairs' warn-and-skip,
// since a misaligned header here would desynchronize the rest of the file's
// blank-line-delimited blocks).
type FeaturePairs struct {
	db   database.Database
	ctrl *Controller
	opts config.FeaturePairs
}

func NewFeaturePairs(db database.Database, ctrl *Controller, opts config.FeaturePairs) (*FeaturePairs, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &FeaturePairs{db: db, ctrl: ctrl, opts: opts}, nil
}

func (g *FeaturePairs) Run() error {
	start := time.Now()

	images, err := g.db.ReadAllImages()
	if err != nil {
		return fmt.Errorf("feature_pairs: %w", err)
	}
	nameToID := make(map[string]types.ImageID, len(images))
	for _, img := range images {
		nameToID[img.Name] = img.ImageID
	}

	f, err := os.Open(g.opts.MatchListPath)
	if err != nil {
		return fmt.Errorf("feature_pairs: open match list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for {
		if g.ctrl.IsStopped() {
			logElapsed("feature_pairs", start, true)
			return nil
		}
		if !scanner.Scan() {
			break
		}
		header := strings.TrimSpace(scanner.Text())
		if header == "" {
			continue
		}
		fields := strings.Fields(header)
		if len(fields) != 2 {
			return fmt.Errorf("feature_pairs: malformed header %q", header)
		}

		id1, ok1 := nameToID[fields[0]]
		id2, ok2 := nameToID[fields[1]]
		if !ok1 || !ok2 {
			log.Warn().Str("name1", fields[0]).Str("name2", fields[1]).Msg("feature_pairs: unknown image name, stopping import")
			return nil
		}

		matches, err := scanMatchBlock(scanner)
		if err != nil {
			return err
		}

		exists, err := g.db.ExistsMatches(id1, id2)
		if err != nil {
			return fmt.Errorf("feature_pairs: %w", err)
		}
		if exists {
			continue
		}
		if err := g.db.WriteMatches(id1, id2, matches); err != nil {
			return fmt.Errorf("feature_pairs: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("feature_pairs: read match list: %w", err)
	}

	logElapsed("feature_pairs", start, false)
	return nil
}

// scanMatchBlock reads feature-index pairs until a blank line or EOF.
func scanMatchBlock(scanner *bufio.Scanner) (types.FeatureMatches, error) {
	var matches types.FeatureMatches
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			log.Warn().Str("line", line).Msg("feature_pairs: malformed match line, skipping")
			continue
		}
		idx1, err1 := strconv.ParseUint(fields[0], 10, 32)
		idx2, err2 := strconv.ParseUint(fields[1], 10, 32)
		if err1 != nil || err2 != nil {
			log.Warn().Str("line", line).Msg("feature_pairs: non-integer feature index, skipping")
			continue
		}
		matches = append(matches, types.FeatureMatch{Idx1: uint32(idx1), Idx2: uint32(idx2)})
	}
	return matches, nil
}
