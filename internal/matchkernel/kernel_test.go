package matchkernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

func TestCPUFindsObviousMatch(t *testing.T) {
	opts := Options{MaxRatio: 0.9, MaxDistance: 50, CrossCheck: false, MaxNumMatches: 100}
	descA := types.FeatureDescriptors{{10, 10}, {200, 200}}
	descB := types.FeatureDescriptors{{210, 210}, {12, 8}}

	matches, err := CPU(opts, descA, descB)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	byIdx1 := map[uint32]uint32{}
	for _, m := range matches {
		byIdx1[m.Idx1] = m.Idx2
	}
	assert.Equal(t, uint32(1), byIdx1[0])
	assert.Equal(t, uint32(0), byIdx1[1])
}

func TestCPUEmptyInputs(t *testing.T) {
	opts := DefaultOptions()
	matches, err := CPU(opts, nil, types.FeatureDescriptors{{1, 2}})
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestCPUDimensionMismatch(t *testing.T) {
	opts := DefaultOptions()
	_, err := CPU(opts, types.FeatureDescriptors{{1, 2}}, types.FeatureDescriptors{{1, 2, 3}})
	assert.Error(t, err)
}

func TestCPUMaxDistanceFilter(t *testing.T) {
	opts := Options{MaxRatio: 1, MaxDistance: 1, CrossCheck: false, MaxNumMatches: 100}
	descA := types.FeatureDescriptors{{0, 0}}
	descB := types.FeatureDescriptors{{100, 100}}

	matches, err := CPU(opts, descA, descB)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestGPUReportsSetupFailure(t *testing.T) {
	_, err := GPU(DefaultOptions(), nil, nil, &GPUDeviceState{DeviceIndex: 0})
	assert.Error(t, err)
}
