package pairgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

func TestTransitiveTwoHopExpansion(t *testing.T) {
	db := database.OpenMem()
	seedImagesWithDescriptors(t, db, []types.ImageID{1, 2, 3, 4, 5})

	require.NoError(t, db.WriteMatches(1, 2, types.FeatureMatches{{Idx1: 0, Idx2: 0}}))
	require.NoError(t, db.WriteMatches(2, 3, types.FeatureMatches{{Idx1: 0, Idx2: 0}}))
	require.NoError(t, db.WriteMatches(3, 4, types.FeatureMatches{{Idx1: 0, Idx2: 0}}))
	require.NoError(t, db.WriteMatches(4, 5, types.FeatureMatches{{Idx1: 0, Idx2: 0}}))

	cache, err := matchcache.New(db, 8)
	require.NoError(t, err)
	require.NoError(t, cache.Setup())

	d := dispatcher.New(cache, config.Matching{NumThreads: 1, MaxNumMatches: 100}, matchkernel.Options{MaxDistance: 1000, MaxNumMatches: 100})
	require.NoError(t, d.Setup())
	t.Cleanup(d.Close)

	gen, err := NewTransitive(db, cache, d, NewController(), config.Transitive{BatchSize: 100, NumIterations: 1})
	require.NoError(t, err)
	require.NoError(t, gen.Run())

	for _, pair := range [][2]types.ImageID{{1, 3}, {2, 4}, {3, 5}} {
		exists, err := db.ExistsMatches(pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, exists, "expected two-hop pair (%d,%d)", pair[0], pair[1])
	}
}

func TestTransitiveAdjacencyIsUndirected(t *testing.T) {
	adj := transitiveAdjacency([][2]types.ImageID{{1, 2}, {2, 3}})
	assert.ElementsMatch(t, []types.ImageID{2}, adj[1])
	assert.ElementsMatch(t, []types.ImageID{1, 3}, adj[2])
	assert.ElementsMatch(t, []types.ImageID{2}, adj[3])
}
