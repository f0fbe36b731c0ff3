package store

import (
	"bytes"
	"fmt"
	"sync"
)

// memStore is an in-memory Store used by tests that don't need a real bbolt
// file on disk. It serializes all transactions through a single RWMutex,
// matching bbolt's "one writer, many readers" discipline closely enough for
// unit tests.
type memStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// OpenMem returns an in-memory Store.
func OpenMem() Store {
	return &memStore{buckets: make(map[string]map[string][]byte)}
}

func (s *memStore) Path() string { return ":memory:" }

func (s *memStore) Begin(writable bool) (Tx, error) {
	if writable {
		s.mu.Lock()
	} else {
		s.mu.RLock()
	}
	tx := &memTx{store: s, writable: writable}
	if writable {
		// Stage writes in a shadow copy so Rollback can discard them without
		// having touched the real store, mirroring bbolt's transaction
		// isolation closely enough for tests.
		tx.staged = make(map[string]map[string][]byte, len(s.buckets))
		for name, b := range s.buckets {
			cp := make(map[string][]byte, len(b))
			for k, v := range b {
				cp[k] = v
			}
			tx.staged[name] = cp
		}
	}
	return tx, nil
}

func (s *memStore) SizeInBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, b := range s.buckets {
		for k, v := range b {
			n += int64(len(k) + len(v))
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

type memTx struct {
	store    *memStore
	writable bool
	done     bool
	staged   map[string]map[string][]byte
}

func (t *memTx) Bucket(name string) Bucket {
	if t.writable {
		b, ok := t.staged[name]
		if !ok {
			b = make(map[string][]byte)
			t.staged[name] = b
		}
		return &memBucket{data: b, writable: true}
	}
	b, ok := t.store.buckets[name]
	if !ok {
		return emptyBucket{}
	}
	return &memBucket{data: b, writable: false}
}

func (t *memTx) Commit() error {
	if t.done {
		return nil
	}
	if t.writable {
		t.store.buckets = t.staged
	}
	return t.unlock()
}

func (t *memTx) Rollback() error {
	return t.unlock()
}

func (t *memTx) unlock() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.writable {
		t.store.mu.Unlock()
	} else {
		t.store.mu.RUnlock()
	}
	return nil
}

type memBucket struct {
	data     map[string][]byte
	writable bool
}

func (b *memBucket) Get(k []byte) []byte { return b.data[string(k)] }

func (b *memBucket) Put(k, v []byte) error {
	if !b.writable {
		return fmt.Errorf("put into read-only memory bucket")
	}
	b.data[string(k)] = append([]byte(nil), v...)
	return nil
}

func (b *memBucket) Delete(k []byte) error {
	if !b.writable {
		return fmt.Errorf("delete from read-only memory bucket")
	}
	delete(b.data, string(k))
	return nil
}

func (b *memBucket) ForEach(f func(k, v []byte) error) error {
	for k, v := range b.data {
		if err := f([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBucket) PrefixScan(prefix []byte, f func(k, v []byte) error) error {
	for k, v := range b.data {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if err := f([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}
