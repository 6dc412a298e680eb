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

// accessKeyBytes sizes the random access-key secret (hex-encoded).
const accessKeyBytes = 20

// AccessService owns the collaborator map on apps and the access-key
// lifecycle per account. It never validates credentials; the caller
// arrives with an already-authenticated account id.
type AccessService struct {
	store      storage.Store
	accounts   *AccountService
	log        logging.Logger
	updateOpts []storage.UpdateOption
}

func NewAccessService(store storage.Store, accounts *AccountService, log logging.Logger, cfg *config.Config) *AccessService {
	return &AccessService{store: store, accounts: accounts, log: log, updateOpts: updateOptions(cfg)}
}

// AddCollaborator grants an existing account collaborator access to an
// app. Fails with ErrNotFound when no account holds the email and with
// ErrAlreadyExists when the email is already on the app.
func (s *AccessService) AddCollaborator(ctx context.Context, appID, email string) error {
	account, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return err
	}

	_, err = storage.Update(ctx, s.store, storage.CollectionApps, appID, func(app *model.App) error {
		if _, ok := app.Collaborators[email]; ok {
			return fmt.Errorf("collaborator %q: %w", email, common.ErrAlreadyExists)
		}
		app.Collaborators[email] = model.Collaborator{
			AccountID:  account.ID,
			Permission: model.PermissionCollaborator,
		}
		return nil
	}, s.updateOpts...)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}

	s.log.Info(ctx, "collaborator added", "appId", appID, "email", email)
	return nil
}

// RemoveCollaborator removes a collaborator entry. Removing the Owner is
// rejected with ErrInvalid; ownership moves only through TransferApp.
func (s *AccessService) RemoveCollaborator(ctx context.Context, appID, email string) error {
	_, err := storage.Update(ctx, s.store, storage.CollectionApps, appID, func(app *model.App) error {
		entry, ok := app.Collaborators[email]
		if !ok {
			return fmt.Errorf("collaborator %q: %w", email, common.ErrNotFound)
		}
		if entry.Permission == model.PermissionOwner {
			return fmt.Errorf("cannot remove owner: %w", common.ErrInvalid)
		}
		delete(app.Collaborators, email)
		return nil
	}, s.updateOpts...)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}

	s.log.Info(ctx, "collaborator removed", "appId", appID, "email", email)
	return nil
}

// GetCollaborators returns the app's collaborator map rendered for the
// calling account: the caller's own entry carries IsCurrentAccount.
func (s *AccessService) GetCollaborators(ctx context.Context, appID, currentEmail string) (map[string]model.Collaborator, error) {
	app, err := s.accounts.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Collaborator, len(app.Collaborators))
	for email, c := range app.Collaborators {
		c.IsCurrentAccount = email == currentEmail
		out[email] = c
	}
	return out, nil
}

// AddAccessKey creates an access key for an account. When key.Name is
// empty a fresh secret is generated. The key record is written before the
// account's legacy single-key pointer is updated, so a crash between the
// two leaves an unreferenced-but-valid key, never a dangling pointer. The
// pointer update itself is best-effort.
func (s *AccessService) AddAccessKey(ctx context.Context, accountID string, key model.AccessKey) (*model.AccessKey, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	if key.Name == "" {
		name, err := common.MakeRandHexString(accessKeyBytes)
		if err != nil {
			return nil, err
		}
		key.Name = name
	}
	key.ID = uuid.NewString()
	key.AccountID = accountID
	key.CreatedTime = nowMillis()

	if err := storage.InsertAs(ctx, s.store, storage.CollectionAccessKeys, key.Name, &key); err != nil {
		return nil, fmt.Errorf("error creating access key: %w", err)
	}

	_, err := storage.Update(ctx, s.store, storage.CollectionAccounts, accountID, func(a *model.Account) error {
		a.AccessKeyID = key.ID
		return nil
	}, s.updateOpts...)
	if err != nil {
		s.log.Warn(ctx, "access key pointer update failed", "accountId", accountID, "error", err)
	}

	s.log.Info(ctx, "access key added", "accountId", accountID, "keyId", key.ID)
	return &key, nil
}

// GetAccessKey looks a key up by its secret for authorization. A key past
// its expiry surfaces as ErrExpired, distinct from ErrNotFound, even
// though the record still exists.
func (s *AccessService) GetAccessKey(ctx context.Context, name string) (*model.AccessKey, error) {
	key, err := storage.GetAs[model.AccessKey](ctx, s.store, storage.CollectionAccessKeys, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("access key: %w", common.ErrNotFound)
		}
		return nil, err
	}
	if key.ExpiredAt(nowMillis()) {
		return nil, fmt.Errorf("access key: %w", common.ErrExpired)
	}
	return key, nil
}

// GetAccessKeys lists an account's keys, expired ones included so they can
// be managed. An account with no keys gets an empty list.
func (s *AccessService) GetAccessKeys(ctx context.Context, accountID string) ([]*model.AccessKey, error) {
	return storage.QueryAs[model.AccessKey](ctx, s.store, storage.CollectionAccessKeys, storage.IndexKeyAccount, accountID)
}

// RefreshAccessKey rotates the secret of an existing key, keeping its
// identity. The replacement is inserted before the old record is deleted:
// the crash window leaves two valid secrets for one key, never zero.
func (s *AccessService) RefreshAccessKey(ctx context.Context, name string) (*model.AccessKey, error) {
	key, err := s.GetAccessKey(ctx, name)
	if err != nil {
		return nil, err
	}

	newName, err := common.MakeRandHexString(accessKeyBytes)
	if err != nil {
		return nil, err
	}
	rotated := *key
	rotated.Name = newName

	if err := storage.InsertAs(ctx, s.store, storage.CollectionAccessKeys, rotated.Name, &rotated); err != nil {
		return nil, fmt.Errorf("error rotating access key: %w", err)
	}
	if err := s.store.Delete(ctx, storage.CollectionAccessKeys, name); err != nil && !errors.Is(err, common.ErrNotFound) {
		s.log.Warn(ctx, "stale access key record left behind", "keyId", key.ID, "error", err)
	}

	s.log.Info(ctx, "access key refreshed", "accountId", key.AccountID, "keyId", key.ID)
	return &rotated, nil
}

// RemoveAccessKey hard-deletes a key by its secret. Removing an absent key
// is ErrNotFound.
func (s *AccessService) RemoveAccessKey(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, storage.CollectionAccessKeys, name); err != nil {
		return fmt.Errorf("access key: %w", err)
	}
	return nil
}
