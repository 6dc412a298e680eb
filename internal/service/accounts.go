// Package service implements the engines of the metadata store: accounts
// and apps, release history, and membership/access keys. Engines hold no
// state besides the injected Store handle; every collection mutation goes
// through the storage conditional-update primitive.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/phorest/code-push-server/internal/common"
	"github.com/phorest/code-push-server/internal/config"
	"github.com/phorest/code-push-server/internal/logging"
	"github.com/phorest/code-push-server/internal/model"
	"github.com/phorest/code-push-server/internal/storage"
)

// nowMillis is swapped out by tests that need a fixed clock.
var nowMillis = common.NowMillis

func updateOptions(cfg *config.Config) []storage.UpdateOption {
	if cfg == nil {
		return nil
	}
	return []storage.UpdateOption{
		storage.WithMaxRetries(cfg.UpdateMaxRetries),
		storage.WithRetryBase(cfg.UpdateRetryBase),
	}
}

// AccountService owns account and app lifecycle, including the cascade
// that reclaims package histories when an app is removed.
type AccountService struct {
	store      storage.Store
	log        logging.Logger
	updateOpts []storage.UpdateOption
}

func NewAccountService(store storage.Store, log logging.Logger, cfg *config.Config) *AccountService {
	return &AccountService{store: store, log: log, updateOpts: updateOptions(cfg)}
}

// AddAccount creates an account. Email is the unique natural key; a
// duplicate fails with ErrAlreadyExists.
func (s *AccountService) AddAccount(ctx context.Context, email, name string) (*model.Account, error) {
	account := &model.Account{
		ID:          uuid.NewString(),
		Email:       email,
		Name:        name,
		CreatedTime: nowMillis(),
	}
	if err := storage.InsertAs(ctx, s.store, storage.CollectionAccounts, account.ID, account); err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := storage.GetAs[model.Account](ctx, s.store, storage.CollectionAccounts, accountID)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return account, nil
}

// GetAccountByEmail resolves an account via the email index. An empty
// query result is a missing single item here, so it maps to ErrNotFound.
func (s *AccountService) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	accounts, err := storage.QueryAs[model.Account](ctx, s.store, storage.CollectionAccounts, storage.IndexAccountEmail, email)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("account %q: %w", email, common.ErrNotFound)
	}
	return accounts[0], nil
}

// AddApp creates an app owned by the given account. The collaborator map
// is seeded with the single Owner entry; that entry can never be removed.
func (s *AccountService) AddApp(ctx context.Context, accountID, name string) (*model.App, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetApps(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, app := range existing {
		if app.Name == name {
			return nil, fmt.Errorf("app %q: %w", name, common.ErrAlreadyExists)
		}
	}

	app := &model.App{
		ID:        uuid.NewString(),
		Name:      name,
		AccountID: account.ID,
		Collaborators: map[string]model.Collaborator{
			account.Email: {AccountID: account.ID, Permission: model.PermissionOwner},
		},
		Deployments: []model.Deployment{},
		CreatedTime: nowMillis(),
	}
	if err := storage.InsertAs(ctx, s.store, storage.CollectionApps, app.ID, app); err != nil {
		return nil, fmt.Errorf("error creating app: %w", err)
	}
	return app, nil
}

func (s *AccountService) GetApp(ctx context.Context, appID string) (*model.App, error) {
	app, err := storage.GetAs[model.App](ctx, s.store, storage.CollectionApps, appID)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return app, nil
}

// GetApps lists the apps owned by an account. An account with no apps gets
// an empty list, not an error.
func (s *AccountService) GetApps(ctx context.Context, accountID string) ([]*model.App, error) {
	return storage.QueryAs[model.App](ctx, s.store, storage.CollectionApps, storage.IndexAppAccount, accountID)
}

// RemoveApp deletes the app record and then reaps the package histories of
// its deployments via the appId index. The app record goes first so no
// deployment ever references a live parent with no parent record; a
// history left behind by a crash is unreachable garbage the next reap
// pass picks up.
func (s *AccountService) RemoveApp(ctx context.Context, appID string) error {
	if err := s.store.Delete(ctx, storage.CollectionApps, appID); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return s.reapHistories(ctx, appID)
}

// ReapOrphanHistories reclaims histories whose owning app is gone, e.g.
// after a crash between an app delete and its cascade.
func (s *AccountService) ReapOrphanHistories(ctx context.Context, appID string) error {
	_, err := s.GetApp(ctx, appID)
	if err == nil {
		return fmt.Errorf("app %s still exists: %w", appID, common.ErrInvalid)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return s.reapHistories(ctx, appID)
}

func (s *AccountService) reapHistories(ctx context.Context, appID string) error {
	histories, err := s.store.QueryByIndex(ctx, storage.CollectionHistories, storage.IndexHistoryApp, appID)
	if err != nil {
		return err
	}
	for _, rec := range histories {
		if err := s.store.Delete(ctx, storage.CollectionHistories, rec.Key); err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("history cascade: %w", err)
		}
	}
	if len(histories) > 0 {
		s.log.Info(ctx, "reaped package histories", "appId", appID, "count", len(histories))
	}
	return nil
}

// TransferApp moves ownership of an app to the account behind email. The
// previous owner is demoted to Collaborator in the same conditional
// update, so the exactly-one-Owner invariant holds at every revision.
func (s *AccountService) TransferApp(ctx context.Context, appID, email string) error {
	target, err := s.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}

	_, err = storage.Update(ctx, s.store, storage.CollectionApps, appID, func(app *model.App) error {
		ownerEmail := app.OwnerEmail()
		if ownerEmail == email {
			return fmt.Errorf("account %q already owns app: %w", email, common.ErrAlreadyExists)
		}
		app.Collaborators[ownerEmail] = model.Collaborator{
			AccountID:  app.Collaborators[ownerEmail].AccountID,
			Permission: model.PermissionCollaborator,
		}
		app.Collaborators[email] = model.Collaborator{AccountID: target.ID, Permission: model.PermissionOwner}
		app.AccountID = target.ID
		return nil
	}, s.updateOpts...)
	if err != nil {
		return fmt.Errorf("transfer app: %w", err)
	}

	s.log.Info(ctx, "app transferred", "appId", appID, "newOwner", email)
	return nil
}
