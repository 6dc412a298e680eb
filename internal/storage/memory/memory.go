// Package memory provides an in-memory Store implementation with the same
// contract as the PostgreSQL backend. It backs engine tests and the
// development storage mode.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/phorest/code-push-server/internal/common"
	"github.com/phorest/code-push-server/internal/storage"
)

type record struct {
	revision int64
	data     []byte
}

// Store keeps every collection in a map guarded by one mutex. Revisions
// start at 1 and bump on each successful write, which is all
// CompareAndSwap needs.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]*record
}

func New() *Store {
	s := &Store{collections: make(map[string]map[string]*record)}
	for _, schema := range storage.Schemas {
		s.collections[schema.Collection] = make(map[string]*record)
	}
	return s
}

func (s *Store) collection(name string) map[string]*record {
	c, ok := s.collections[name]
	if !ok {
		panic(fmt.Sprintf("memory: unknown collection %q", name))
	}
	return c
}

// indexValue extracts the index field from a JSON payload as a string.
func indexValue(data []byte, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// uniqueViolated scans the collection for another record holding the same
// value under any unique index of the collection.
func (s *Store) uniqueViolated(collection, key string, data []byte) bool {
	for _, schema := range storage.Schemas {
		if schema.Collection != collection {
			continue
		}
		for _, idx := range schema.Indexes {
			if !idx.Unique {
				continue
			}
			value := indexValue(data, idx.Field)
			if value == "" {
				continue
			}
			for otherKey, rec := range s.collection(collection) {
				if otherKey == key {
					continue
				}
				if indexValue(rec.data, idx.Field) == value {
					return true
				}
			}
		}
	}
	return false
}

func (s *Store) Get(ctx context.Context, collection, key string) (*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collection(collection)[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, common.ErrNotFound)
	}
	data := make([]byte, len(rec.data))
	copy(data, rec.data)
	return &storage.Record{Key: key, Revision: rec.revision, Data: data}, nil
}

func (s *Store) Insert(ctx context.Context, collection, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, ok := c[key]; ok {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrAlreadyExists)
	}
	if s.uniqueViolated(collection, key, data) {
		return fmt.Errorf("%s/%s: unique index: %w", collection, key, common.ErrAlreadyExists)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	c[key] = &record{revision: 1, data: stored}
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, collection, key string, data []byte, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	rec, ok := c[key]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrNotFound)
	}
	if rec.revision != expectedRevision {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrConflict)
	}
	if s.uniqueViolated(collection, key, data) {
		return fmt.Errorf("%s/%s: unique index: %w", collection, key, common.ErrAlreadyExists)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	rec.data = stored
	rec.revision++
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, ok := c[key]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, key, common.ErrNotFound)
	}
	delete(c, key)
	return nil
}

func (s *Store) QueryByIndex(ctx context.Context, collection, index, value string) ([]*storage.Record, error) {
	idx := storage.LookupIndex(collection, index)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*storage.Record
	for key, rec := range s.collection(collection) {
		if indexValue(rec.data, idx.Field) != value {
			continue
		}
		data := make([]byte, len(rec.data))
		copy(data, rec.data)
		out = append(out, &storage.Record{Key: key, Revision: rec.revision, Data: data})
	}
	// map iteration order is random; keep results stable for callers
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
