package store

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"
)

type boltStore struct {
	db   *bbolt.DB
	lock *flock.Flock
}

// Open opens (creating if necessary) a bbolt-backed store at path, guarded
// by an advisory file lock on path+".lock" so a second process started
// against the same data directory fails fast instead of corrupting state.
func Open(path string) (Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: already held by another process", path)
	}

	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 1 * time.Minute})
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &boltStore{db: db, lock: lock}, nil
}

func (s *boltStore) Path() string { return s.db.Path() }

func (s *boltStore) Begin(writable bool) (Tx, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("begin transaction (writable=%v): %w", writable, err)
	}
	return &boltTx{tx: tx, writable: writable}, nil
}

func (s *boltStore) SizeInBytes() (int64, error) {
	var size int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

func (s *boltStore) Close() error {
	closeErr := s.db.Close()
	if err := s.lock.Unlock(); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

type boltTx struct {
	tx       *bbolt.Tx
	writable bool
}

func (t *boltTx) Bucket(name string) Bucket {
	if t.writable {
		b, err := t.tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			// CreateBucketIfNotExists only fails outside a writable
			// transaction or with an invalid name; neither can happen here.
			panic(fmt.Errorf("create bucket %s: %w", name, err))
		}
		return boltBucket{b: b}
	}
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return emptyBucket{}
	}
	return boltBucket{b: b}
}

func (t *boltTx) Commit() error   { return t.tx.Commit() }
func (t *boltTx) Rollback() error { return t.tx.Rollback() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(k []byte) []byte { return b.b.Get(k) }
func (b boltBucket) Put(k, v []byte) error {
	return b.b.Put(k, v)
}
func (b boltBucket) Delete(k []byte) error { return b.b.Delete(k) }
func (b boltBucket) ForEach(f func(k, v []byte) error) error {
	return b.b.ForEach(f)
}
func (b boltBucket) PrefixScan(prefix []byte, f func(k, v []byte) error) error {
	cursor := b.b.Cursor()
	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		if err := f(k, v); err != nil {
			return err
		}
	}
	return nil
}

type emptyBucket struct{}

func (emptyBucket) Get([]byte) []byte                                { return nil }
func (emptyBucket) Put([]byte, []byte) error                         { return fmt.Errorf("put into missing bucket") }
func (emptyBucket) Delete([]byte) error                               { return fmt.Errorf("delete from missing bucket") }
func (emptyBucket) ForEach(func(k, v []byte) error) error             { return nil }
func (emptyBucket) PrefixScan(_ []byte, f func(k, v []byte) error) error { return nil }
