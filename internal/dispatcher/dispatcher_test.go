package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, database.Database) {
	t.Helper()
	db := database.OpenMem()
	seeder := db.(database.Seeder)
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 1, Name: "a.jpg"}))
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 2, Name: "b.jpg"}))
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 3, Name: "c.jpg"}))
	require.NoError(t, seeder.SeedDescriptors(1, types.FeatureDescriptors{{10, 10}, {200, 200}}))
	require.NoError(t, seeder.SeedDescriptors(2, types.FeatureDescriptors{{210, 210}, {12, 8}}))
	require.NoError(t, seeder.SeedDescriptors(3, types.FeatureDescriptors{{11, 9}}))

	cache, err := matchcache.New(db, 8)
	require.NoError(t, err)
	require.NoError(t, cache.Setup())

	matching := config.Matching{NumThreads: 2, MaxNumMatches: 100, MinNumMatches: 0}
	d := New(cache, matching, matchkernel.Options{MaxRatio: 0.9, MaxDistance: 1000, MaxNumMatches: 100})
	require.NoError(t, d.Setup())
	t.Cleanup(d.Close)
	return d, db
}

func TestMatchWritesResultsAndDedupsSelfPairs(t *testing.T) {
	d, db := newTestDispatcher(t)

	err := d.Match([]types.ImagePair{
		{ImageID1: 1, ImageID2: 2},
		{ImageID1: 2, ImageID2: 1}, // duplicate, order flipped
		{ImageID1: 3, ImageID2: 3}, // self-pair
	})
	require.NoError(t, err)

	exists, err := db.ExistsMatches(1, 2)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.ExistsMatches(3, 3)
	require.NoError(t, err)
	assert.False(t, exists, "self-pair must never reach the worker or the database")
}

func TestMatchSkipsExistingPairs(t *testing.T) {
	d, db := newTestDispatcher(t)

	require.NoError(t, db.WriteMatches(1, 2, types.FeatureMatches{{Idx1: 0, Idx2: 0}}))

	err := d.Match([]types.ImagePair{
		{ImageID1: 1, ImageID2: 2},
		{ImageID1: 1, ImageID2: 3},
	})
	require.NoError(t, err)

	got, err := db.ReadMatches(1, 2)
	require.NoError(t, err)
	assert.Equal(t, types.FeatureMatches{{Idx1: 0, Idx2: 0}}, got, "pre-existing matches must be untouched")

	exists, err := db.ExistsMatches(1, 3)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMatchEmptyPairsIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.NoError(t, d.Match(nil))
}

func TestMatchReturnsErrorOnMissingDescriptorsWithoutHanging(t *testing.T) {
	d, db := newTestDispatcher(t)
	seeder := db.(database.Seeder)
	// Image 4 has no descriptor row: a legitimate database state since the
	// extraction stage that would have populated it is out of scope here.
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 4, Name: "d.jpg"}))

	done := make(chan error, 1)
	go func() { done <- d.Match([]types.ImagePair{{ImageID1: 1, ImageID2: 4}}) }()

	select {
	case err := <-done:
		require.Error(t, err, "a descriptor lookup failure must surface, not hang the drain loop")
	case <-time.After(2 * time.Second):
		t.Fatal("Match hung waiting for a dropped job's output")
	}

	exists, err := db.ExistsMatches(1, 4)
	require.NoError(t, err)
	assert.False(t, exists, "a failed job must never be written as a match result")
}
