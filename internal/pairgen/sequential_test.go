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

func seedNamedImages(t *testing.T, db database.Database, names []string) map[string]types.ImageID {
	t.Helper()
	seeder := db.(database.Seeder)
	ids := make(map[string]types.ImageID, len(names))
	for i, name := range names {
		id := types.ImageID(i + 1)
		require.NoError(t, seeder.SeedImage(types.Image{ImageID: id, Name: name}))
		require.NoError(t, seeder.SeedDescriptors(id, types.FeatureDescriptors{{byte(i)}}))
		ids[name] = id
	}
	return ids
}

func TestSequentialOrderSortsByName(t *testing.T) {
	db := database.OpenMem()
	ids := seedNamedImages(t, db, []string{"imgE", "imgA", "imgC", "imgB", "imgD"})

	cache, err := matchcache.New(db, 8)
	require.NoError(t, err)
	require.NoError(t, cache.Setup())

	ordered := sequentialOrder(cache)
	want := []types.ImageID{ids["imgA"], ids["imgB"], ids["imgC"], ids["imgD"], ids["imgE"]}
	assert.Equal(t, want, ordered)
}

func TestSequentialEmitsExpectedPairs(t *testing.T) {
	db := database.OpenMem()
	names := []string{"imgA", "imgB", "imgC", "imgD", "imgE"}
	ids := seedNamedImages(t, db, names)

	cache, err := matchcache.New(db, 8)
	require.NoError(t, err)
	require.NoError(t, cache.Setup())

	d := dispatcher.New(cache, config.Matching{NumThreads: 1, MaxNumMatches: 100}, matchkernel.Options{MaxDistance: 1000, MaxNumMatches: 100})
	require.NoError(t, d.Setup())
	t.Cleanup(d.Close)

	gen, err := NewSequential(db, cache, d, NewController(), config.Sequential{Overlap: 2}, 100)
	require.NoError(t, err)
	require.NoError(t, gen.Run())

	expected := [][2]string{
		{"imgA", "imgB"}, {"imgA", "imgC"},
		{"imgB", "imgC"}, {"imgB", "imgD"},
		{"imgC", "imgD"}, {"imgC", "imgE"},
		{"imgD", "imgE"},
	}
	for _, p := range expected {
		exists, err := db.ExistsMatches(ids[p[0]], ids[p[1]])
		require.NoError(t, err)
		assert.True(t, exists, "expected pair (%s,%s) to be matched", p[0], p[1])
	}
	pairs, _, err := db.ReadNumMatches()
	require.NoError(t, err)
	assert.Len(t, pairs, len(expected))
}
