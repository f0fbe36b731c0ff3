package database

import (
	"fmt"

	"github.com/google/orderedcode"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

const (
	bucketCameras     = "cameras"
	bucketImages      = "images"
	bucketDescriptors = "descriptors"
	bucketMatches     = "matches"
)

func idKey(id uint64) []byte {
	key, err := orderedcode.Append(nil, id)
	if err != nil {
		// orderedcode.Append only fails on unsupported value types; uint64
		// is always supported.
		panic(fmt.Errorf("encode id key: %w", err))
	}
	return key
}

func encodeRow(v interface{}) []byte {
	b, err := msgpack.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("encode row: %w", err))
	}
	return b
}

func decodeRow(data []byte, v interface{}) error {
	if data == nil {
		return fmt.Errorf("decode row: no data")
	}
	return msgpack.Unmarshal(data, v)
}

// matchRow is the on-disk representation of a persisted match set: it keeps
// both endpoint ids alongside the matches so ReadNumMatches can reconstruct
// the pair without a second lookup table.
type matchRow struct {
	ImageID1 types.ImageID
	ImageID2 types.ImageID
	Matches  types.FeatureMatches
}
