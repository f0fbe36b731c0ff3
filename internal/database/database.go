// Package database implements the external Database contract the feature
// matching core consumes: cameras and images are read once at setup,
// descriptors are read per image, and matches are read/written/checked/
// deleted per image pair, all against a disk-backed bbolt store.
package database

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/store"
	"github.com/NemoLeiYANG/privacy-preserving-sfm/internal/types"
)

// ErrNotFound is returned by reads that find no row for the given id/pair.
var ErrNotFound = errors.New("database: not found")

// Database is the contract the matching core consumes. Every method may be
// called either standalone (it opens its own transaction) or while a
// Transaction returned by Begin is open on the same Database (it joins that
// transaction instead), so a whole pair batch commits or rolls back as one
// unit.
type Database interface {
	ReadAllCameras() ([]types.Camera, error)
	ReadAllImages() ([]types.Image, error)
	ReadDescriptors(imageID types.ImageID) (types.FeatureDescriptors, error)
	ReadMatches(a, b types.ImageID) (types.FeatureMatches, error)
	ExistsMatches(a, b types.ImageID) (bool, error)
	WriteMatches(a, b types.ImageID, matches types.FeatureMatches) error
	DeleteMatches(a, b types.ImageID) error
	// ReadNumMatches returns every persisted pair alongside the size of its
	// match list. There is no separate geometric-verification table here, so
	// the putative match count stands in for an inlier count.
	ReadNumMatches() (pairs [][2]types.ImageID, counts []int, err error)
	MaxNumDescriptors() (int, error)

	// Begin opens a Transaction spanning any number of the calls above.
	// Writable should be true for every generator's batch transaction.
	Begin(writable bool) (Transaction, error)

	Close() error
}

// Transaction is the scoped handle a pair generator holds open across one
// batch of dispatcher.Match calls.
type Transaction interface {
	Commit() error
	Rollback() error
}

// boltDatabase's tx field holds the batch transaction a generator opened
// with Begin, if any. Every other method joins it instead of opening its
// own, so a whole batch (many cache-mediated reads/writes) commits or rolls
// back atomically. It is only ever touched by the single generator goroutine
// that brackets a batch with Begin/Commit and by the cache-mediated calls
// the dispatcher's worker pool makes while that batch runs — the cache's
// own mutex (internal/matchcache) already serializes those, so no
// additional locking is needed here.
type boltDatabase struct {
	backing store.Store
	tx      store.Tx
}

// Open opens (creating if necessary) a bbolt-backed Database at path.
func Open(path string) (Database, error) {
	backing, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &boltDatabase{backing: backing}, nil
}

// OpenMem returns an in-memory Database for tests.
func OpenMem() Database {
	return &boltDatabase{backing: store.OpenMem()}
}

func (db *boltDatabase) Close() error { return db.backing.Close() }

func (db *boltDatabase) Begin(writable bool) (Transaction, error) {
	if db.tx != nil {
		return nil, fmt.Errorf("begin transaction: one already open")
	}
	tx, err := db.backing.Begin(writable)
	if err != nil {
		return nil, err
	}
	db.tx = tx
	traceID := uuid.NewString()
	log.Debug().Str("tx", traceID).Bool("writable", writable).Msg("transaction opened")
	return &boundTransaction{db: db, tx: tx, traceID: traceID}, nil
}

// withTx joins the batch transaction opened by Begin, if any, otherwise
// opens and closes a one-shot transaction scoped to this single call.
func (db *boltDatabase) withTx(writable bool, f func(tx store.Tx) error) error {
	if db.tx != nil {
		return f(db.tx)
	}
	tx, err := db.backing.Begin(writable)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if writable {
		return tx.Commit()
	}
	return tx.Rollback()
}

// boundTransaction is the Transaction handle returned by Begin. Commit and
// Rollback clear db.tx so later standalone calls fall back to one-shot
// transactions again.
type boundTransaction struct {
	db      *boltDatabase
	tx      store.Tx
	traceID string
}

func (b *boundTransaction) Commit() error {
	b.db.tx = nil
	err := b.tx.Commit()
	log.Debug().Str("tx", b.traceID).Err(err).Msg("transaction committed")
	return err
}

func (b *boundTransaction) Rollback() error {
	b.db.tx = nil
	err := b.tx.Rollback()
	log.Debug().Str("tx", b.traceID).Err(err).Msg("transaction rolled back")
	return err
}

func (db *boltDatabase) ReadAllCameras() ([]types.Camera, error) {
	var cameras []types.Camera
	err := db.withTx(false, func(tx store.Tx) error {
		return tx.Bucket(bucketCameras).ForEach(func(_, v []byte) error {
			var cam types.Camera
			if err := decodeRow(v, &cam); err != nil {
				return fmt.Errorf("decode camera: %w", err)
			}
			cameras = append(cameras, cam)
			return nil
		})
	})
	return cameras, err
}

func (db *boltDatabase) ReadAllImages() ([]types.Image, error) {
	var images []types.Image
	err := db.withTx(false, func(tx store.Tx) error {
		return tx.Bucket(bucketImages).ForEach(func(_, v []byte) error {
			var img types.Image
			if err := decodeRow(v, &img); err != nil {
				return fmt.Errorf("decode image: %w", err)
			}
			images = append(images, img)
			return nil
		})
	})
	return images, err
}

func (db *boltDatabase) ReadDescriptors(imageID types.ImageID) (types.FeatureDescriptors, error) {
	var desc types.FeatureDescriptors
	err := db.withTx(false, func(tx store.Tx) error {
		v := tx.Bucket(bucketDescriptors).Get(idKey(uint64(imageID)))
		if v == nil {
			return fmt.Errorf("read descriptors for image %d: %w", imageID, ErrNotFound)
		}
		return decodeRow(v, &desc)
	})
	return desc, err
}

func (db *boltDatabase) ReadMatches(a, b types.ImageID) (types.FeatureMatches, error) {
	var row matchRow
	found := false
	err := db.withTx(false, func(tx store.Tx) error {
		v := tx.Bucket(bucketMatches).Get(idKey(types.NewPairID(a, b)))
		if v == nil {
			return nil
		}
		found = true
		return decodeRow(v, &row)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return row.Matches, nil
}

func (db *boltDatabase) ExistsMatches(a, b types.ImageID) (bool, error) {
	exists := false
	err := db.withTx(false, func(tx store.Tx) error {
		exists = tx.Bucket(bucketMatches).Get(idKey(types.NewPairID(a, b))) != nil
		return nil
	})
	return exists, err
}

func (db *boltDatabase) WriteMatches(a, b types.ImageID, matches types.FeatureMatches) error {
	return db.withTx(true, func(tx store.Tx) error {
		row := matchRow{ImageID1: a, ImageID2: b, Matches: matches}
		return tx.Bucket(bucketMatches).Put(idKey(types.NewPairID(a, b)), encodeRow(row))
	})
}

func (db *boltDatabase) DeleteMatches(a, b types.ImageID) error {
	return db.withTx(true, func(tx store.Tx) error {
		return tx.Bucket(bucketMatches).Delete(idKey(types.NewPairID(a, b)))
	})
}

func (db *boltDatabase) ReadNumMatches() ([][2]types.ImageID, []int, error) {
	var pairs [][2]types.ImageID
	var counts []int
	err := db.withTx(false, func(tx store.Tx) error {
		return tx.Bucket(bucketMatches).ForEach(func(_, v []byte) error {
			var row matchRow
			if err := decodeRow(v, &row); err != nil {
				return fmt.Errorf("decode match row: %w", err)
			}
			pairs = append(pairs, [2]types.ImageID{row.ImageID1, row.ImageID2})
			counts = append(counts, len(row.Matches))
			return nil
		})
	})
	return pairs, counts, err
}

func (db *boltDatabase) MaxNumDescriptors() (int, error) {
	max := 0
	err := db.withTx(false, func(tx store.Tx) error {
		return tx.Bucket(bucketDescriptors).ForEach(func(_, v []byte) error {
			var desc types.FeatureDescriptors
			if err := decodeRow(v, &desc); err != nil {
				return fmt.Errorf("decode descriptors: %w", err)
			}
			if len(desc) > max {
				max = len(desc)
			}
			return nil
		})
	})
	return max, err
}

// WriteCamera and WriteImage and WriteDescriptors are not part of the
// external contract the matching core consumes — the extraction stage that
// populates the database is out of scope here — but the in-memory test
// Database needs a way to seed fixtures, so they're exposed on the concrete
// type via a narrow Seeder interface rather than the Database contract.
type Seeder interface {
	SeedCamera(types.Camera) error
	SeedImage(types.Image) error
	SeedDescriptors(types.ImageID, types.FeatureDescriptors) error
}

func (db *boltDatabase) SeedCamera(cam types.Camera) error {
	return db.withTx(true, func(tx store.Tx) error {
		return tx.Bucket(bucketCameras).Put(idKey(uint64(cam.CameraID)), encodeRow(cam))
	})
}

func (db *boltDatabase) SeedImage(img types.Image) error {
	return db.withTx(true, func(tx store.Tx) error {
		return tx.Bucket(bucketImages).Put(idKey(uint64(img.ImageID)), encodeRow(img))
	})
}

func (db *boltDatabase) SeedDescriptors(imageID types.ImageID, desc types.FeatureDescriptors) error {
	return db.withTx(true, func(tx store.Tx) error {
		return tx.Bucket(bucketDescriptors).Put(idKey(uint64(imageID)), encodeRow(desc))
	})
}
