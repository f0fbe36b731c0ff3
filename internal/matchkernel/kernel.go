// Package matchkernel implements the narrow descriptor-matching contract the
// worker pool invokes: given two descriptor blocks, return putative feature
// matches. The CPU kernel is a real (if simplified) ratio-test/cross-check
// implementation over vek-computed L2 distance; the GPU kernel is a stub
// honoring the same null-means-reuse-slot device contract described for the
// worker pool, since no GPU compute runtime is available here.
package matchkernel

import (
	"fmt"

	"github.com/viterin/vek/vek32"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// CPU computes putative matches between descA and descB on the host using a
// brute-force nearest/second-nearest search.
func CPU(opts Options, descA, descB types.FeatureDescriptors) (types.FeatureMatches, error) {
	if len(descA) == 0 || len(descB) == 0 {
		return nil, nil
	}
	if descA.Dim() != descB.Dim() {
		return nil, fmt.Errorf("match cpu: descriptor dimension mismatch (%d vs %d)", descA.Dim(), descB.Dim())
	}

	a := toFloat32Rows(descA)
	b := toFloat32Rows(descB)

	matches := make(types.FeatureMatches, 0, len(a))
	for i, rowA := range a {
		bestJ := -1
		best := float32(0)
		haveSecond := false
		secondBest := float32(0)
		for j, rowB := range b {
			d := vek32.Distance(rowA, rowB)
			switch {
			case bestJ == -1 || d < best:
				secondBest = best
				haveSecond = bestJ != -1
				best = d
				bestJ = j
			case !haveSecond || d < secondBest:
				secondBest = d
				haveSecond = true
			}
		}
		if bestJ == -1 {
			continue
		}
		if float64(best) > opts.MaxDistance {
			continue
		}
		if haveSecond && float64(best) > opts.MaxRatio*float64(secondBest) {
			continue
		}
		if opts.CrossCheck && !isMutualNearest(b, bestJ, rowA, a) {
			continue
		}
		matches = append(matches, types.FeatureMatch{Idx1: uint32(i), Idx2: uint32(bestJ)})
		if opts.MaxNumMatches > 0 && len(matches) >= opts.MaxNumMatches {
			break
		}
	}
	return matches, nil
}

// isMutualNearest reports whether rowA is also the nearest neighbor of
// b[bestJ] among all of a, i.e. the match is mutually nearest in both
// directions.
func isMutualNearest(b [][]float32, bestJ int, rowA []float32, a [][]float32) bool {
	target := b[bestJ]
	best := vek32.Distance(target, rowA)
	for _, other := range a {
		if vek32.Distance(target, other) < best {
			return false
		}
	}
	return true
}

func toFloat32Rows(desc types.FeatureDescriptors) [][]float32 {
	out := make([][]float32, len(desc))
	for i, row := range desc {
		r := make([]float32, len(row))
		for j, v := range row {
			r[j] = float32(v)
		}
		out[i] = r
	}
	return out
}

// GPUDeviceState is the per-worker device handle threaded through every GPU
// kernel call; it holds only the device index. The image id resident in each
// of the two device descriptor slots is tracked by the worker, not here. A
// GPU kernel call passes nil for descA/descB to mean "the device already
// holds the right data for this side, reuse it".
type GPUDeviceState struct {
	DeviceIndex int
}

// GPU computes putative matches on a device. descA and/or descB may be nil,
// meaning the caller wants the previously uploaded descriptors for that
// slot reused; state carries whatever per-device bookkeeping a real backend
// would need. No GPU compute runtime is available in this build, so GPU
// always reports a setup failure; a GPU worker that probes it then reports
// InvalidSetup, and the dispatcher's Setup returns an error.
func GPU(opts Options, descA, descB types.FeatureDescriptors, state *GPUDeviceState) (types.FeatureMatches, error) {
	return nil, fmt.Errorf("match gpu: no compute runtime available for device %d", state.DeviceIndex)
}
