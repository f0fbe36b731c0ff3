package matchcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

func newTestCache(t *testing.T, lruSize int) (*Cache, database.Database) {
	t.Helper()
	db := database.OpenMem()
	seeder := db.(database.Seeder)
	require.NoError(t, seeder.SeedCamera(types.Camera{CameraID: 1}))
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 1, Name: "a.jpg"}))
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 2, Name: "b.jpg"}))
	require.NoError(t, seeder.SeedImage(types.Image{ImageID: 3, Name: "c.jpg"}))
	require.NoError(t, seeder.SeedDescriptors(1, types.FeatureDescriptors{{1}}))
	require.NoError(t, seeder.SeedDescriptors(2, types.FeatureDescriptors{{2}}))
	require.NoError(t, seeder.SeedDescriptors(3, types.FeatureDescriptors{{3}}))

	c, err := New(db, lruSize)
	require.NoError(t, err)
	require.NoError(t, c.Setup())
	return c, db
}

func TestSetupLoadsCamerasAndImages(t *testing.T) {
	c, _ := newTestCache(t, 2)
	assert.Equal(t, types.CameraID(1), c.GetCamera(1).CameraID)
	assert.Equal(t, "b.jpg", c.GetImage(2).Name)
	assert.ElementsMatch(t, []types.ImageID{1, 2, 3}, c.GetImageIDs())
}

func TestGetDescriptorsLoadsOnMiss(t *testing.T) {
	c, _ := newTestCache(t, 2)
	desc, err := c.GetDescriptors(1)
	require.NoError(t, err)
	assert.Equal(t, types.FeatureDescriptors{{1}}, desc)
}

func TestGetDescriptorsMissingImage(t *testing.T) {
	c, _ := newTestCache(t, 2)
	_, err := c.GetDescriptors(999)
	assert.Error(t, err)
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(t, 2)
	_, err := c.GetDescriptors(1)
	require.NoError(t, err)
	_, err = c.GetDescriptors(2)
	require.NoError(t, err)
	_, err = c.GetDescriptors(3)
	require.NoError(t, err)
	// Capacity 2: with 3 distinct loads the cache never holds more than 2
	// entries, regardless of which one was evicted.
	assert.LessOrEqual(t, c.descriptors.Len(), 2)
}

func TestWriteReadExistsDeleteMatchesThroughCache(t *testing.T) {
	c, _ := newTestCache(t, 2)

	exists, err := c.ExistsMatches(1, 2)
	require.NoError(t, err)
	assert.False(t, exists)

	matches := types.FeatureMatches{{Idx1: 0, Idx2: 1}}
	require.NoError(t, c.WriteMatches(1, 2, matches))

	exists, err = c.ExistsMatches(1, 2)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := c.GetMatches(1, 2)
	require.NoError(t, err)
	assert.Equal(t, matches, got)

	require.NoError(t, c.DeleteMatches(1, 2))
	exists, err = c.ExistsMatches(1, 2)
	require.NoError(t, err)
	assert.False(t, exists)
}
