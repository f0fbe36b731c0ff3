// Package matchcache implements the concurrency-safe read-through cache the
// matcher dispatcher and workers sit on top of: eagerly loaded camera/image
// metadata, an LRU-bounded descriptor cache, and pass-through match
// operations, all serialized through a single mutex guarding every
// database-mediated call.
package matchcache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/database"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// Cache is the feature matcher cache: cameras and images are loaded once at
// Setup and held in read-only maps; descriptors are lazily loaded into an
// LRU; matches pass through directly to the database. Every method is safe
// for concurrent use by multiple worker goroutines.
type Cache struct {
	db database.Database

	// cameras and images are populated once by Setup and never mutated
	// again, so reads need no locking.
	cameras map[types.CameraID]types.Camera
	images  map[types.ImageID]types.Image

	mu          sync.Mutex
	descriptors *lru.Cache[types.ImageID, types.FeatureDescriptors]
}

// New returns a Cache backed by db, with a descriptor LRU capped at
// descriptorCacheSize entries. Call Setup before using it.
func New(db database.Database, descriptorCacheSize int) (*Cache, error) {
	if descriptorCacheSize <= 0 {
		descriptorCacheSize = 1
	}
	descriptors, err := lru.New[types.ImageID, types.FeatureDescriptors](descriptorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("allocate descriptor cache: %w", err)
	}
	return &Cache{db: db, descriptors: descriptors}, nil
}

// Setup loads all cameras and images from the database into memory. It must
// be called exactly once before any other method.
func (c *Cache) Setup() error {
	cams, err := c.db.ReadAllCameras()
	if err != nil {
		return fmt.Errorf("load cameras: %w", err)
	}
	imgs, err := c.db.ReadAllImages()
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}

	c.cameras = make(map[types.CameraID]types.Camera, len(cams))
	for _, cam := range cams {
		c.cameras[cam.CameraID] = cam
	}
	c.images = make(map[types.ImageID]types.Image, len(imgs))
	for _, img := range imgs {
		c.images[img.ImageID] = img
	}

	log.Debug().Int("cameras", len(c.cameras)).Int("images", len(c.images)).Msg("matcher cache ready")
	return nil
}

// GetCamera returns the camera for id. The caller must have verified id is
// present (e.g. via an image's camera reference); calling with an unknown id
// is a programming error and returns the zero Camera.
func (c *Cache) GetCamera(id types.CameraID) types.Camera {
	return c.cameras[id]
}

// GetImage returns the image for id. Same precondition as GetCamera.
func (c *Cache) GetImage(id types.ImageID) types.Image {
	return c.images[id]
}

// GetImageIDs returns a snapshot of every known image id, in unspecified
// order.
func (c *Cache) GetImageIDs() []types.ImageID {
	ids := make([]types.ImageID, 0, len(c.images))
	for id := range c.images {
		ids = append(ids, id)
	}
	return ids
}

// GetDescriptors returns the descriptor block for imageID, loading it from
// the database on a cache miss.
func (c *Cache) GetDescriptors(imageID types.ImageID) (types.FeatureDescriptors, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if desc, ok := c.descriptors.Get(imageID); ok {
		return desc, nil
	}
	desc, err := c.db.ReadDescriptors(imageID)
	if err != nil {
		return nil, fmt.Errorf("load descriptors for image %d: %w", imageID, err)
	}
	c.descriptors.Add(imageID, desc)
	return desc, nil
}

// GetMatches returns the persisted matches for the unordered pair (a, b), or
// nil if none have been written.
func (c *Cache) GetMatches(a, b types.ImageID) (types.FeatureMatches, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.ReadMatches(a, b)
}

// ExistsMatches reports whether matches have already been persisted for
// (a, b).
func (c *Cache) ExistsMatches(a, b types.ImageID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.ExistsMatches(a, b)
}

// WriteMatches persists matches for (a, b). It is the sole writer of match
// rows in the pipeline.
func (c *Cache) WriteMatches(a, b types.ImageID, matches types.FeatureMatches) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.WriteMatches(a, b, matches)
}

// MaxNumDescriptors returns the largest descriptor-row count across every
// image in the database, used once by the dispatcher at Setup to clamp
// max_num_matches.
func (c *Cache) MaxNumDescriptors() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.MaxNumDescriptors()
}

// DeleteMatches removes any persisted matches for (a, b).
func (c *Cache) DeleteMatches(a, b types.ImageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.DeleteMatches(a, b)
}
