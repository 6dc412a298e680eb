package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phorest/code-push-server/internal/config"
	"github.com/phorest/code-push-server/internal/logging"
	"github.com/phorest/code-push-server/internal/model"
	"github.com/phorest/code-push-server/internal/storage/memory"
)

// testServices wires all three engines over one in-memory backend, the
// same substitution an embedding host performs for development mode.
type testServices struct {
	store    *memory.Store
	accounts *AccountService
	releases *ReleaseService
	access   *AccessService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	cfg := &config.Config{
		UpdateMaxRetries: 50,
		UpdateRetryBase:  time.Millisecond,
	}
	store := memory.New()
	log := logging.NewJSONLogger(io.Discard)
	accounts := NewAccountService(store, log, cfg)

	return &testServices{
		store:    store,
		accounts: accounts,
		releases: NewReleaseService(store, log, cfg),
		access:   NewAccessService(store, accounts, log, cfg),
	}
}

func (ts *testServices) mustAccount(t *testing.T, email string) *model.Account {
	t.Helper()
	account, err := ts.accounts.AddAccount(context.Background(), email, "Test User")
	require.NoError(t, err)
	return account
}

func (ts *testServices) mustApp(t *testing.T, accountID, name string) *model.App {
	t.Helper()
	app, err := ts.accounts.AddApp(context.Background(), accountID, name)
	require.NoError(t, err)
	return app
}

func (ts *testServices) mustDeployment(t *testing.T, appID, name string) *model.Deployment {
	t.Helper()
	dep, err := ts.releases.AddDeployment(context.Background(), appID, name)
	require.NoError(t, err)
	return dep
}

// withFixedNow pins the service clock for the duration of the test.
func withFixedNow(t *testing.T, millis int64) {
	t.Helper()
	prev := nowMillis
	nowMillis = func() int64 { return millis }
	t.Cleanup(func() { nowMillis = prev })
}
