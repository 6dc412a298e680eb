// Package storage defines the entity-store contract shared by all backends
// and the conditional-update primitive built on top of it.
//
// A backend offers typed-by-collection, single-record conditional reads and
// writes and nothing more: no multi-record transactions, no locks. Every
// record carries a revision token the backend bumps on each successful
// write; CompareAndSwap succeeds only when the caller proves it saw the
// current revision. All collection mutations in the engines go through
// Update, never through separate read/write calls.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection names. The set is fixed; backends may rely on it.
const (
	CollectionAccounts   = "accounts"
	CollectionApps       = "apps"
	CollectionHistories  = "histories"
	CollectionAccessKeys = "accessKeys"
)

// Secondary index names.
const (
	IndexAccountEmail  = "email"
	IndexAppAccount    = "accountId"
	IndexDeploymentKey = "deploymentKey"
	IndexHistoryApp    = "appId"
	IndexKeyAccount    = "accountId"
)

// Index describes one secondary index: the JSON field of the record payload
// it is computed from, and whether the backend must reject duplicates.
type Index struct {
	Name   string
	Field  string
	Unique bool
}

// Schema lists the indexes of one collection.
type Schema struct {
	Collection string
	Indexes    []Index
}

// Schemas is the fixed registry of collections and their secondary
// indexes. Backends derive index values from the canonical JSON payload,
// so index fields must match the model JSON tags.
var Schemas = []Schema{
	{Collection: CollectionAccounts, Indexes: []Index{
		{Name: IndexAccountEmail, Field: "email", Unique: true},
	}},
	{Collection: CollectionApps, Indexes: []Index{
		{Name: IndexAppAccount, Field: "accountId"},
	}},
	{Collection: CollectionHistories, Indexes: []Index{
		{Name: IndexDeploymentKey, Field: "deploymentKey", Unique: true},
		{Name: IndexHistoryApp, Field: "appId"},
	}},
	{Collection: CollectionAccessKeys, Indexes: []Index{
		{Name: IndexKeyAccount, Field: "accountId"},
	}},
}

// LookupIndex resolves an index by collection and name. An unknown pair is
// a programming error, not a runtime condition, so it panics.
func LookupIndex(collection, index string) Index {
	for _, s := range Schemas {
		if s.Collection != collection {
			continue
		}
		for _, idx := range s.Indexes {
			if idx.Name == index {
				return idx
			}
		}
	}
	panic(fmt.Sprintf("storage: no index %q on collection %q", index, collection))
}

// Record is one stored entity: its canonical JSON payload plus the opaque
// revision token used by CompareAndSwap.
type Record struct {
	Key      string
	Revision int64
	Data     []byte
}

// Store is the entity-store contract. Implementations: the in-memory
// backend (tests, development) and the PostgreSQL backend.
//
// Error kinds, matched with errors.Is against internal/common sentinels:
//   - Get/Delete: ErrNotFound when the key is absent.
//   - Insert: ErrAlreadyExists when the key or a unique index value is taken.
//   - CompareAndSwap: ErrNotFound when the key is absent, ErrConflict when
//     the stored revision no longer equals expectedRevision, and
//     ErrAlreadyExists when the new payload violates a unique index.
//   - QueryByIndex: an empty slice is a valid result; an unknown index name
//     panics.
type Store interface {
	Get(ctx context.Context, collection, key string) (*Record, error)
	Insert(ctx context.Context, collection, key string, data []byte) error
	CompareAndSwap(ctx context.Context, collection, key string, data []byte, expectedRevision int64) error
	Delete(ctx context.Context, collection, key string) error
	QueryByIndex(ctx context.Context, collection, index, value string) ([]*Record, error)
}

// GetAs reads and decodes one record.
func GetAs[T any](ctx context.Context, st Store, collection, key string) (*T, error) {
	rec, err := st.Get(ctx, collection, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return &v, nil
}

// InsertAs encodes and creates one record.
func InsertAs[T any](ctx context.Context, st Store, collection, key string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	return st.Insert(ctx, collection, key, data)
}

// QueryAs runs a secondary-index query and decodes each result.
func QueryAs[T any](ctx context.Context, st Store, collection, index, value string) ([]*T, error) {
	recs, err := st.QueryByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, rec.Key, err)
		}
		out = append(out, &v)
	}
	return out, nil
}
