// Package types holds the core identifiers and entities shared across the
// feature matching pipeline: cameras, images, and the matches between them.
package types

// ImageID, CameraID and PairID are the three identifier spaces of the
// pipeline. ImageID and CameraID come from the database; PairID is derived.
type (
	ImageID  = uint32
	CameraID = uint32
	PairID   = uint64
)

// InvalidImageID is the sentinel for "no image".
const InvalidImageID ImageID = 0

// Camera holds the intrinsic parameters the pipeline treats as opaque; it
// never interprets them, only threads the id through.
type Camera struct {
	CameraID CameraID
	Params   []float64
}

// Image is a single database image: its id, name (used for ordering by the
// sequential generator) and prior translation (used by the spatial
// generator).
type Image struct {
	ImageID   ImageID
	Name      string
	TvecPrior [3]float64
}

// HasPriorPosition reports whether the image carries a non-sentinel prior
// position, honoring ignoreZ the way the spatial generator requires: when
// ignoreZ is set only x,y are checked for "unset".
func (img Image) HasPriorPosition(ignoreZ bool) bool {
	x, y, z := img.TvecPrior[0], img.TvecPrior[1], img.TvecPrior[2]
	if ignoreZ {
		return !(x == 0 && y == 0)
	}
	return !(x == 0 && y == 0 && z == 0)
}

// FeatureDescriptors is a per-image matrix of fixed-dimension descriptor
// rows, lazily loaded on cache miss and evicted by the descriptor LRU.
type FeatureDescriptors [][]byte

// Dim returns the descriptor width, or 0 for an empty block.
func (d FeatureDescriptors) Dim() int {
	if len(d) == 0 {
		return 0
	}
	return len(d[0])
}

// FeatureMatch is a single correspondence between a feature index in image 1
// and a feature index in image 2.
type FeatureMatch struct {
	Idx1 uint32
	Idx2 uint32
}

// FeatureMatches is the ordered result of matching one image pair. A nil or
// empty slice is a valid, persistable "no matches" result.
type FeatureMatches []FeatureMatch

// MatcherData is a single in-flight matching job: submitted with empty
// Matches, filled in by a worker, then written back through the cache. Err
// is set instead of Matches when the worker's matching kernel or descriptor
// lookup failed; the job is still pushed to the output queue either way so
// the dispatcher's drain count always equals the number of jobs submitted.
type MatcherData struct {
	ImageID1 ImageID
	ImageID2 ImageID
	Matches  FeatureMatches
	Err      error
}

// ImagePair is an unordered candidate pair a generator hands to the
// dispatcher, before deduplication or the skip-if-exists filter.
type ImagePair struct {
	ImageID1 ImageID
	ImageID2 ImageID
}

// NewPairID computes a symmetric, order-independent id for the unordered pair
// (a, b): NewPairID(a, b) == NewPairID(b, a). The low/high id are packed exactly
// into the two halves of a uint64, so distinct unordered pairs always map
// to distinct ids — an exact bijection, not a hash, so there is no
// collision class to reason about.
func NewPairID(a, b ImageID) PairID {
	if a > b {
		a, b = b, a
	}
	return uint64(a)<<32 | uint64(b)
}
