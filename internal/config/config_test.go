package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchingValidate(t *testing.T) {
	m := DefaultMatching()
	assert.NoError(t, m.Validate())

	bad := m
	bad.MaxNumMatches = 0
	assert.Error(t, bad.Validate())

	bad = m
	bad.MinNumMatches = -1
	assert.Error(t, bad.Validate())

	bad = m
	bad.MinNumMatches = bad.MaxNumMatches + 1
	assert.Error(t, bad.Validate())
}

func TestResolveNumThreads(t *testing.T) {
	assert.Equal(t, 4, ResolveNumThreads(4))
	assert.Greater(t, ResolveNumThreads(UseHardwareConcurrency), 0)
}

func TestExhaustiveValidate(t *testing.T) {
	assert.NoError(t, Exhaustive{BlockSize: 50}.Validate())
	assert.Error(t, Exhaustive{BlockSize: 1}.Validate())
}

func TestSequentialValidate(t *testing.T) {
	assert.NoError(t, Sequential{Overlap: 5}.Validate())
	assert.Error(t, Sequential{Overlap: 0}.Validate())
}

func TestSpatialValidate(t *testing.T) {
	assert.NoError(t, Spatial{MaxNumNeighbors: 5, MaxDistance: 10}.Validate())
	assert.Error(t, Spatial{MaxNumNeighbors: 0, MaxDistance: 10}.Validate())
	assert.Error(t, Spatial{MaxNumNeighbors: 5, MaxDistance: 0}.Validate())
}

func TestTransitiveValidate(t *testing.T) {
	assert.NoError(t, Transitive{BatchSize: 10, NumIterations: 1}.Validate())
	assert.Error(t, Transitive{BatchSize: 0, NumIterations: 1}.Validate())
	assert.Error(t, Transitive{BatchSize: 10, NumIterations: 0}.Validate())
}

func TestImagePairsValidate(t *testing.T) {
	assert.NoError(t, ImagePairs{BlockSize: 10, MatchListPath: "pairs.txt"}.Validate())
	assert.Error(t, ImagePairs{BlockSize: 0, MatchListPath: "pairs.txt"}.Validate())
	assert.Error(t, ImagePairs{BlockSize: 10}.Validate())
}

func TestFeaturePairsValidate(t *testing.T) {
	assert.NoError(t, FeaturePairs{MatchListPath: "matches.txt"}.Validate())
	assert.Error(t, FeaturePairs{}.Validate())
}

func TestRegisterMatchingFlagsGPUIndex(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	m := RegisterMatchingFlags(fs)
	require.NoError(t, fs.Parse([]string{"-gpu_index", "0,2,3"}))
	assert.Equal(t, []int{0, 2, 3}, m.GPUIndices)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	m = RegisterMatchingFlags(fs)
	require.NoError(t, fs.Parse([]string{"-gpu_index", "-1"}))
	assert.Nil(t, m.GPUIndices)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	m = RegisterMatchingFlags(fs)
	require.NoError(t, fs.Parse(nil))
	assert.Nil(t, m.GPUIndices, "default is every enumerated device")
}
