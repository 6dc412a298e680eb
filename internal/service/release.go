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

const (
	// deploymentKeyBytes sizes the random deployment key (hex-encoded, so
	// the client-facing string is twice this long).
	deploymentKeyBytes = 20

	// maxKeyAttempts bounds regeneration when a fresh key collides with an
	// existing one.
	maxKeyAttempts = 5
)

// ReleaseService owns the deployment list per app and the package history
// per deployment.
type ReleaseService struct {
	store      storage.Store
	log        logging.Logger
	updateOpts []storage.UpdateOption
}

func NewReleaseService(store storage.Store, log logging.Logger, cfg *config.Config) *ReleaseService {
	return &ReleaseService{store: store, log: log, updateOpts: updateOptions(cfg)}
}

// AddDeployment creates a deployment on an app together with its paired
// empty package history.
//
// Order of operations: the deployment is appended to the app's list via a
// conditional update, then the history record is inserted under the
// system-wide-unique deploymentKey index. If the insert fails, the append
// is rolled back with a compensating removal so no deployment is ever left
// without a history; a key collision then retries with a fresh key.
func (s *ReleaseService) AddDeployment(ctx context.Context, appID, name string) (*model.Deployment, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := common.MakeRandHexString(deploymentKeyBytes)
		if err != nil {
			return nil, err
		}

		// Cheap pre-check; the unique index is the authority.
		taken, err := s.store.QueryByIndex(ctx, storage.CollectionHistories, storage.IndexDeploymentKey, key)
		if err != nil {
			return nil, err
		}
		if len(taken) > 0 {
			continue
		}

		dep := model.Deployment{
			ID:          uuid.NewString(),
			Name:        name,
			Key:         key,
			CreatedTime: nowMillis(),
		}

		app, err := storage.Update(ctx, s.store, storage.CollectionApps, appID, func(a *model.App) error {
			for _, d := range a.Deployments {
				if d.Name == name {
					return fmt.Errorf("deployment %q: %w", name, common.ErrAlreadyExists)
				}
			}
			a.Deployments = append(a.Deployments, dep)
			return nil
		}, s.updateOpts...)
		if err != nil {
			return nil, fmt.Errorf("add deployment: %w", err)
		}

		history := &model.PackageHistory{
			DeploymentID:  dep.ID,
			DeploymentKey: key,
			AppID:         app.ID,
			Packages:      []model.Package{},
		}
		err = storage.InsertAs(ctx, s.store, storage.CollectionHistories, dep.ID, history)
		if err == nil {
			s.log.Info(ctx, "deployment added", "appId", appID, "deploymentId", dep.ID, "name", name)
			return &dep, nil
		}

		// Compensate: the list append committed but the history did not.
		if rbErr := s.removeFromDeploymentList(ctx, appID, dep.ID); rbErr != nil {
			s.log.Error(ctx, "deployment rollback failed", "appId", appID, "deploymentId", dep.ID, "error", rbErr)
			return nil, fmt.Errorf("history create failed (%v), rollback failed: %w", err, rbErr)
		}
		if errors.Is(err, common.ErrAlreadyExists) {
			// Lost the race on the deployment key; try a new one.
			continue
		}
		return nil, fmt.Errorf("create history: %w", err)
	}
	return nil, fmt.Errorf("deployment key generation exhausted: %w", common.ErrConflict)
}

func (s *ReleaseService) removeFromDeploymentList(ctx context.Context, appID, deploymentID string) error {
	_, err := storage.Update(ctx, s.store, storage.CollectionApps, appID, func(a *model.App) error {
		kept := a.Deployments[:0]
		found := false
		for _, d := range a.Deployments {
			if d.ID == deploymentID {
				found = true
				continue
			}
			kept = append(kept, d)
		}
		if !found {
			return fmt.Errorf("deployment %s: %w", deploymentID, common.ErrNotFound)
		}
		a.Deployments = kept
		return nil
	}, s.updateOpts...)
	return err
}

// RemoveDeployment removes the deployment from the app's list first and
// deletes the paired history after, so no reader ever resolves a listed
// deployment to a missing history.
func (s *ReleaseService) RemoveDeployment(ctx context.Context, appID, deploymentID string) error {
	if err := s.removeFromDeploymentList(ctx, appID, deploymentID); err != nil {
		return fmt.Errorf("remove deployment: %w", err)
	}
	if err := s.store.Delete(ctx, storage.CollectionHistories, deploymentID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("remove history: %w", err)
	}
	s.log.Info(ctx, "deployment removed", "appId", appID, "deploymentId", deploymentID)
	return nil
}

func (s *ReleaseService) GetDeployments(ctx context.Context, appID string) ([]model.Deployment, error) {
	app, err := storage.GetAs[model.App](ctx, s.store, storage.CollectionApps, appID)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return app.Deployments, nil
}

func (s *ReleaseService) GetDeployment(ctx context.Context, appID, deploymentID string) (*model.Deployment, error) {
	deployments, err := s.GetDeployments(ctx, appID)
	if err != nil {
		return nil, err
	}
	for _, d := range deployments {
		if d.ID == deploymentID {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("deployment %s: %w", deploymentID, common.ErrNotFound)
}

func validateRollout(rollout *int) error {
	if rollout != nil && (*rollout < 1 || *rollout > 100) {
		return fmt.Errorf("rollout %d out of range: %w", *rollout, common.ErrInvalid)
	}
	return nil
}

// assignLabel gives the candidate the next label and prepends it. The
// counter never goes backwards, so labels stay unique even across a
// history clear.
func assignLabel(h *model.PackageHistory, p *model.Package) {
	next := h.LabelCounter
	for _, existing := range h.Packages {
		if n := model.LabelNumber(existing.Label); n > next {
			next = n
		}
	}
	next++
	p.Label = model.FormatLabel(next)
	h.LabelCounter = next
	h.Packages = append([]model.Package{*p}, h.Packages...)
}

// CommitPackage appends a release to the deployment's history. Label
// assignment and the prepend happen inside one conditional update, so two
// racing commits can never mint the same label.
func (s *ReleaseService) CommitPackage(ctx context.Context, deploymentID string, candidate model.Package) (*model.Package, error) {
	if candidate.AppVersion == "" {
		return nil, fmt.Errorf("appVersion is required: %w", common.ErrInvalid)
	}
	if err := validateRollout(candidate.Rollout); err != nil {
		return nil, err
	}
	if candidate.ReleaseMethod == "" {
		candidate.ReleaseMethod = model.ReleaseMethodUpload
	}
	candidate.UploadTime = nowMillis()

	history, err := storage.Update(ctx, s.store, storage.CollectionHistories, deploymentID, func(h *model.PackageHistory) error {
		pkg := candidate
		assignLabel(h, &pkg)
		return nil
	}, s.updateOpts...)
	if err != nil {
		return nil, fmt.Errorf("commit package: %w", err)
	}

	committed := history.Packages[0]
	s.log.Info(ctx, "package committed", "deploymentId", deploymentID, "label", committed.Label, "appVersion", committed.AppVersion)
	return &committed, nil
}

// PackageUpdate carries the editable fields of a committed package. Nil
// fields are left unchanged. Label selects the target entry; empty means
// the latest one.
type PackageUpdate struct {
	Label       string
	AppVersion  *string
	Description *string
	IsDisabled  *bool
	IsMandatory *bool
	Rollout     *int
}

// UpdatePackage edits one history entry in place. Rollout may only grow:
// shrinking the audience of a release that clients already received makes
// no sense and is rejected as ErrInvalid.
func (s *ReleaseService) UpdatePackage(ctx context.Context, deploymentID string, update PackageUpdate) (*model.Package, error) {
	if err := validateRollout(update.Rollout); err != nil {
		return nil, err
	}

	var edited model.Package
	_, err := storage.Update(ctx, s.store, storage.CollectionHistories, deploymentID, func(h *model.PackageHistory) error {
		if len(h.Packages) == 0 {
			return fmt.Errorf("no releases: %w", common.ErrNotFound)
		}
		target := -1
		if update.Label == "" {
			target = 0
		} else {
			for i := range h.Packages {
				if h.Packages[i].Label == update.Label {
					target = i
					break
				}
			}
		}
		if target < 0 {
			return fmt.Errorf("release %q: %w", update.Label, common.ErrNotFound)
		}

		pkg := &h.Packages[target]
		if update.Rollout != nil {
			if pkg.IsFullRollout() || *update.Rollout < *rolloutOrFull(pkg) {
				return fmt.Errorf("rollout can only increase: %w", common.ErrInvalid)
			}
			pkg.Rollout = update.Rollout
		}
		if update.AppVersion != nil {
			pkg.AppVersion = *update.AppVersion
		}
		if update.Description != nil {
			pkg.Description = *update.Description
		}
		if update.IsDisabled != nil {
			pkg.IsDisabled = *update.IsDisabled
		}
		if update.IsMandatory != nil {
			pkg.IsMandatory = *update.IsMandatory
		}
		edited = *pkg
		return nil
	}, s.updateOpts...)
	if err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return &edited, nil
}

func rolloutOrFull(p *model.Package) *int {
	if p.Rollout == nil {
		full := 100
		return &full
	}
	return p.Rollout
}

// PromotePackage commits a copy of the source deployment's latest enabled
// release into the destination deployment's history under a fresh label.
func (s *ReleaseService) PromotePackage(ctx context.Context, srcDeploymentID, destDeploymentID string) (*model.Package, error) {
	src, err := s.GetPackageHistory(ctx, srcDeploymentID)
	if err != nil {
		return nil, err
	}

	var source *model.Package
	for i := range src.Packages {
		if !src.Packages[i].IsDisabled {
			source = &src.Packages[i]
			break
		}
	}
	if source == nil {
		return nil, fmt.Errorf("no enabled release to promote: %w", common.ErrNotFound)
	}

	candidate := *source
	candidate.IsDisabled = false
	candidate.Rollout = nil
	candidate.ReleaseMethod = model.ReleaseMethodPromote
	candidate.OriginalLabel = source.Label
	candidate.OriginalDeployment = srcDeploymentID
	return s.CommitPackage(ctx, destDeploymentID, candidate)
}

// RollbackPackage re-commits an earlier release under a fresh label.
// targetLabel selects the release to return to; empty picks the one
// released just before the latest.
func (s *ReleaseService) RollbackPackage(ctx context.Context, deploymentID, targetLabel string) (*model.Package, error) {
	var candidate model.Package

	history, err := storage.Update(ctx, s.store, storage.CollectionHistories, deploymentID, func(h *model.PackageHistory) error {
		if len(h.Packages) == 0 {
			return fmt.Errorf("no releases: %w", common.ErrNotFound)
		}

		var target *model.Package
		if targetLabel == "" {
			if len(h.Packages) < 2 {
				return fmt.Errorf("nothing to roll back to: %w", common.ErrInvalid)
			}
			target = &h.Packages[1]
		} else {
			if h.Packages[0].Label == targetLabel {
				return fmt.Errorf("already at %q: %w", targetLabel, common.ErrInvalid)
			}
			for i := range h.Packages {
				if h.Packages[i].Label == targetLabel {
					target = &h.Packages[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("release %q: %w", targetLabel, common.ErrNotFound)
			}
		}

		pkg := *target
		pkg.IsDisabled = false
		pkg.Rollout = nil
		pkg.ReleaseMethod = model.ReleaseMethodRollback
		pkg.OriginalLabel = target.Label
		pkg.UploadTime = nowMillis()
		assignLabel(h, &pkg)
		candidate = h.Packages[0]
		return nil
	}, s.updateOpts...)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}

	s.log.Info(ctx, "package rolled back", "deploymentId", deploymentID, "label", history.Packages[0].Label, "originalLabel", candidate.OriginalLabel)
	return &candidate, nil
}

// ClearPackageHistory empties the release list. The label counter is kept,
// so the next commit continues numbering instead of reusing old labels.
func (s *ReleaseService) ClearPackageHistory(ctx context.Context, deploymentID string) error {
	_, err := storage.Update(ctx, s.store, storage.CollectionHistories, deploymentID, func(h *model.PackageHistory) error {
		for _, p := range h.Packages {
			if n := model.LabelNumber(p.Label); n > h.LabelCounter {
				h.LabelCounter = n
			}
		}
		h.Packages = []model.Package{}
		return nil
	}, s.updateOpts...)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *ReleaseService) GetPackageHistory(ctx context.Context, deploymentID string) (*model.PackageHistory, error) {
	history, err := storage.GetAs[model.PackageHistory](ctx, s.store, storage.CollectionHistories, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return history, nil
}

// GetPackageHistoryFromDeploymentKey resolves a history by the client-facing
// deployment key. The owning app id is stripped from the result: possession
// of a key proves nothing about the app, and the update-check path must not
// learn it here.
func (s *ReleaseService) GetPackageHistoryFromDeploymentKey(ctx context.Context, key string) (*model.PackageHistory, error) {
	histories, err := storage.QueryAs[model.PackageHistory](ctx, s.store, storage.CollectionHistories, storage.IndexDeploymentKey, key)
	if err != nil {
		return nil, err
	}
	if len(histories) == 0 {
		return nil, fmt.Errorf("deployment key: %w", common.ErrNotFound)
	}
	history := histories[0]
	history.AppID = ""
	return history, nil
}
