package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"

	"go.uber.org/zap"
)

// Janitor finishes reconciliations that were interrupted after the verified profile
// was written but before the placeholder was deleted.
type Janitor struct {
	repo     userRepo.UserRepository
	migrator *Migrator
	opts     JanitorOptions
	now      func() time.Time
	logger   *zap.Logger
}

type JanitorOptions struct {
	// Grace leaves alone pairs where either document changed this recently; a
	// reconciliation may still be running and could yet be undone.
	Grace time.Duration
}

func NewJanitor(repo userRepo.UserRepository, migrator *Migrator, logger *zap.Logger, opts JanitorOptions) *Janitor {
	return &Janitor{repo: repo, migrator: migrator, opts: opts, now: time.Now, logger: logger}
}

// Sweep migrates the remaining references of every pre-record whose phone already has
// a verified profile of the same role, then deletes the pre-record. It returns the
// number of pre-records removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	placeholders, err := j.repo.FindByField(ctx, models.FieldOrigin, string(models.OriginAdmin))
	if err != nil {
		return 0, fmt.Errorf("failed to list pre-records: %w", err)
	}

	removed := 0
	for i := range placeholders {
		pre := &placeholders[i]
		target, err := j.verifiedTwin(ctx, pre)
		if err != nil {
			return removed, err
		}
		if target == nil {
			continue
		}
		if j.recent(pre) || j.recent(target) {
			j.logger.Debug("pre-record left for a later sweep", zap.String("placeholderId", pre.ID))
			continue
		}

		refs, err := j.migrator.Dependents(ctx, pre.ID, pre.PhoneNumber)
		if err != nil {
			return removed, err
		}
		if _, err := j.migrator.Migrate(ctx, refs, pre.ID, target.ID); err != nil {
			j.logger.Error("janitor migration failed", zap.String("placeholderId", pre.ID), zap.Error(err))
			continue
		}
		if err := j.repo.Delete(ctx, pre.ID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
			j.logger.Error("janitor failed to delete pre-record", zap.String("placeholderId", pre.ID), zap.Error(err))
			continue
		}
		removed++
		j.logger.Info("stale pre-record reconciled", zap.String("placeholderId", pre.ID), zap.String("profileId", target.ID))
	}
	return removed, nil
}

func (j *Janitor) verifiedTwin(ctx context.Context, pre *models.UserProfile) (*models.UserProfile, error) {
	if pre.PhoneNumber == "" {
		return nil, nil
	}
	profiles, err := userRepo.FindByPhone(ctx, j.repo, pre.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", pre.PhoneNumber, err)
	}
	for i := range profiles {
		p := &profiles[i]
		if p.ID != pre.ID && !p.IsPreRecord() && p.Role == pre.Role {
			return p, nil
		}
	}
	return nil, nil
}

func (j *Janitor) recent(p *models.UserProfile) bool {
	return j.opts.Grace > 0 && j.now().Sub(p.UpdatedAt) < j.opts.Grace
}
