package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/phorest/code-push-server/internal/common"
)

// Conditional-update retry defaults. Contention on one record is resolved
// by re-reading and retrying with jittered exponential backoff; retries are
// bounded so sustained contention surfaces as ErrConflict instead of
// spinning.
const (
	DefaultMaxRetries = 5
	DefaultRetryBase  = 20 * time.Millisecond

	// maxRetryDelay caps the exponential growth so a generous retry bound
	// cannot translate into multi-second sleeps.
	maxRetryDelay = 500 * time.Millisecond
)

type updateOptions struct {
	maxRetries uint64
	retryBase  time.Duration
}

// UpdateOption customizes one Update call.
type UpdateOption func(*updateOptions)

// WithMaxRetries bounds the number of compare-and-swap retries.
func WithMaxRetries(n int) UpdateOption {
	return func(o *updateOptions) {
		if n >= 0 {
			o.maxRetries = uint64(n)
		}
	}
}

// WithRetryBase sets the base backoff between retries.
func WithRetryBase(d time.Duration) UpdateOption {
	return func(o *updateOptions) {
		if d > 0 {
			o.retryBase = d
		}
	}
}

// Update is the conditional mutation primitive: read the record, decode,
// apply transform to the decoded value, encode, and write back with a
// compare-and-swap on the revision read. On a revision conflict the whole
// cycle repeats against fresh state, up to the retry bound.
//
// transform must be pure: it may mutate the value it is handed but must
// not touch anything outside it, because it runs once per attempt. An
// error returned by transform aborts the update and is returned unchanged.
//
// Returns the value as written, or ErrNotFound when the key is absent,
// or ErrConflict once retries are exhausted.
func Update[T any](ctx context.Context, st Store, collection, key string, transform func(*T) error, opts ...UpdateOption) (*T, error) {
	o := updateOptions{maxRetries: DefaultMaxRetries, retryBase: DefaultRetryBase}
	for _, opt := range opts {
		opt(&o)
	}

	backoff := retry.NewExponential(o.retryBase)
	backoff = retry.WithCappedDuration(maxRetryDelay, backoff)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(o.maxRetries, backoff)

	var result *T
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec, err := st.Get(ctx, collection, key)
		if err != nil {
			return err
		}

		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", collection, key, err)
		}

		if err := transform(&v); err != nil {
			return err
		}

		data, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", collection, key, err)
		}

		if err := st.CompareAndSwap(ctx, collection, key, data, rec.Revision); err != nil {
			if errors.Is(err, common.ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}

		result = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
