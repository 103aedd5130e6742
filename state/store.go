// Package state tracks provisioned resources on disk so apply can skip
// what exists and destroy knows what to remove.
package state

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/perusta/types"
)

// Bucket names in bbolt
var (
	bucketResources = []byte("resources")
	bucketMeta      = []byte("meta")
)

// Store persists provisioned resources in bbolt with an in-memory
// btree index for ordered iteration.
type Store struct {
	mu sync.RWMutex

	// In-memory index for fast lookups
	index *btree.BTreeG[*entry]

	// On-disk storage
	db *bbolt.DB

	// Path to storage directory
	dir string
}

// entry is the index record for one resource
type entry struct {
	Key      string
	Resource *types.Resource
}

// Open creates or opens the state store in the given directory
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "perusta.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketResources, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		index: btree.NewG[*entry](32, func(a, b *entry) bool {
			return a.Key < b.Key
		}),
		db:  db,
		dir: dir,
	}

	if err := store.loadIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load state index: %w", err)
	}

	return store, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// loadIndex rebuilds the in-memory index from disk
func (s *Store) loadIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)
		return bucket.ForEach(func(k, v []byte) error {
			var resource types.Resource
			if err := json.Unmarshal(v, &resource); err != nil {
				return fmt.Errorf("corrupt state record %s: %w", string(k), err)
			}
			s.index.ReplaceOrInsert(&entry{Key: string(k), Resource: &resource})
			return nil
		})
	})
}

// Record stores or replaces a provisioned resource
func (s *Store) Record(resource *types.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("failed to marshal resource: %w", err)
	}

	key := resource.Key()
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResources).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store resource %s: %w", key, err)
	}

	s.index.ReplaceOrInsert(&entry{Key: key, Resource: resource})
	return nil
}

// Get returns a recorded resource, if present
func (s *Store) Get(stack string, kind types.Kind) (*types.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.index.Get(&entry{Key: types.ResourceKey(stack, kind)})
	if !ok {
		return nil, false
	}
	return item.Resource, true
}

// ListStack returns all recorded resources of a stack in provision order
func (s *Store) ListStack(stack string) []types.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind := make(map[types.Kind]*types.Resource)
	prefix := stack + "/"
	s.index.AscendGreaterOrEqual(&entry{Key: prefix}, func(item *entry) bool {
		if len(item.Key) < len(prefix) || item.Key[:len(prefix)] != prefix {
			return false
		}
		byKind[item.Resource.Kind] = item.Resource
		return true
	})

	var resources []types.Resource
	for _, kind := range types.ProvisionOrder {
		if r, ok := byKind[kind]; ok {
			resources = append(resources, *r)
		}
	}
	return resources
}

// Remove deletes a recorded resource
func (s *Store) Remove(stack string, kind types.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := types.ResourceKey(stack, kind)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResources).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove resource %s: %w", key, err)
	}

	s.index.Delete(&entry{Key: key})
	return nil
}
