package pairgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/config"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/dispatcher"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchcache"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/matchkernel"
)

func TestImagePairsResolvesAndSkipsUnknown(t *testing.T) {
	db := database.OpenMem()
	ids := seedNamedImages(t, db, []string{"a.jpg", "b.jpg", "c.jpg"})

	cache, err := matchcache.New(db, 8)
	require.NoError(t, err)
	require.NoError(t, cache.Setup())

	d := dispatcher.New(cache, config.Matching{NumThreads: 1, MaxNumMatches: 100}, matchkernel.Options{MaxDistance: 1000, MaxNumMatches: 100})
	require.NoError(t, d.Setup())
	t.Cleanup(d.Close)

	listPath := filepath.Join(t.TempDir(), "pairs.txt")
	content := "# comment\n\na.jpg b.jpg\nb.jpg missing.jpg\na.jpg c.jpg\n"
	require.NoError(t, os.WriteFile(listPath, []byte(content), 0o644))

	gen, err := NewImagePairs(db, cache, d, NewController(), config.ImagePairs{BlockSize: 10, MatchListPath: listPath})
	require.NoError(t, err)
	require.NoError(t, gen.Run())

	exists, err := db.ExistsMatches(ids["a.jpg"], ids["b.jpg"])
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.ExistsMatches(ids["a.jpg"], ids["c.jpg"])
	require.NoError(t, err)
	assert.True(t, exists)

	pairs, _, err := db.ReadNumMatches()
	require.NoError(t, err)
	assert.Len(t, pairs, 2, "the unknown-name line must be skipped, not matched")
}
