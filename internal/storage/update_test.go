package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phorest/code-push-server/internal/common"
	"github.com/phorest/code-push-server/internal/model"
	"github.com/phorest/code-push-server/internal/storage"
	"github.com/phorest/code-push-server/internal/storage/memory"
)

func seedApp(t *testing.T, st storage.Store, id string) {
	t.Helper()
	app := &model.App{ID: id, Name: "app", Collaborators: map[string]model.Collaborator{}, Deployments: []model.Deployment{}}
	require.NoError(t, storage.InsertAs(context.Background(), st, storage.CollectionApps, id, app))
}

func TestUpdate_AppliesTransform(t *testing.T) {
	st := memory.New()
	seedApp(t, st, "app1")

	got, err := storage.Update(context.Background(), st, storage.CollectionApps, "app1", func(a *model.App) error {
		a.Name = "renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	stored, err := storage.GetAs[model.App](context.Background(), st, storage.CollectionApps, "app1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
}

func TestUpdate_NotFound(t *testing.T) {
	st := memory.New()
	_, err := storage.Update(context.Background(), st, storage.CollectionApps, "missing", func(a *model.App) error {
		return nil
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdate_TransformErrorAbortsWithoutWrite(t *testing.T) {
	st := memory.New()
	seedApp(t, st, "app1")

	boom := fmt.Errorf("boom: %w", common.ErrInvalid)
	_, err := storage.Update(context.Background(), st, storage.CollectionApps, "app1", func(a *model.App) error {
		a.Name = "must not persist"
		return boom
	})
	assert.ErrorIs(t, err, common.ErrInvalid)

	stored, err := storage.GetAs[model.App](context.Background(), st, storage.CollectionApps, "app1")
	require.NoError(t, err)
	assert.Equal(t, "app", stored.Name)
}

// Concurrent updaters on one record must all land; the CAS loop resolves
// the races without losing any write.
func TestUpdate_ConcurrentWritersAllLand(t *testing.T) {
	st := memory.New()
	seedApp(t, st, "app1")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dep := model.Deployment{ID: fmt.Sprintf("d%d", i), Name: fmt.Sprintf("dep-%d", i), Key: fmt.Sprintf("k%d", i)}
			_, errs[i] = storage.Update(context.Background(), st, storage.CollectionApps, "app1", func(a *model.App) error {
				a.Deployments = append(a.Deployments, dep)
				return nil
			}, storage.WithMaxRetries(50), storage.WithRetryBase(time.Millisecond))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	stored, err := storage.GetAs[model.App](context.Background(), st, storage.CollectionApps, "app1")
	require.NoError(t, err)
	assert.Len(t, stored.Deployments, writers)
}

// conflictStore always rejects the swap, simulating sustained contention.
type conflictStore struct {
	mu       sync.Mutex
	attempts int
}

func (c *conflictStore) Get(ctx context.Context, collection, key string) (*storage.Record, error) {
	data, _ := json.Marshal(&model.App{ID: key})
	return &storage.Record{Key: key, Revision: 1, Data: data}, nil
}

func (c *conflictStore) CompareAndSwap(ctx context.Context, collection, key string, data []byte, rev int64) error {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
	return common.ErrConflict
}

func (c *conflictStore) Insert(ctx context.Context, collection, key string, data []byte) error {
	return nil
}

func (c *conflictStore) Delete(ctx context.Context, collection, key string) error {
	return nil
}

func (c *conflictStore) QueryByIndex(ctx context.Context, collection, index, value string) ([]*storage.Record, error) {
	return nil, nil
}

func TestUpdate_RetriesAreBounded(t *testing.T) {
	st := &conflictStore{}

	start := time.Now()
	_, err := storage.Update(context.Background(), st, storage.CollectionApps, "app1", func(a *model.App) error {
		return nil
	}, storage.WithMaxRetries(3), storage.WithRetryBase(time.Millisecond))

	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, 4, st.attempts) // initial try + 3 retries
	assert.Less(t, time.Since(start), 2*time.Second)
}
