package registration

import (
	"context"
	"errors"
	"fmt"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/services/reconcile"
	"carelink/services/resolver"

	"go.uber.org/zap"
)

type undoFunc func(ctx context.Context) error

// undoStack collects compensating actions and runs them last-in first-out.
type undoStack struct {
	steps []namedUndo
}

type namedUndo struct {
	name string
	fn   undoFunc
}

func (u *undoStack) push(name string, fn undoFunc) {
	u.steps = append(u.steps, namedUndo{name: name, fn: fn})
}

func (u *undoStack) run(ctx context.Context, logger *zap.Logger) {
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i].fn(ctx); err != nil {
			logger.Error("compensation failed", zap.String("step", u.steps[i].name), zap.Error(err))
		}
	}
}

// reconcile writes the senior profile, the family edge and the linking code, migrates
// references away from any profile the senior's phone held under another key (an
// administrative pre-record or an earlier verified profile) and deletes it. The
// verified profile is written first and the old profiles deleted last; on error every
// write made so far is undone.
func (c *Coordinator) reconcile(ctx context.Context, wf *Workflow, pending *pendingVerification, identity models.VerifiedIdentity) (result *Result, err error) {
	seniorID := identity.SubjectID
	details := pending.details
	var undo undoStack
	defer func() {
		if err != nil {
			undo.run(ctx, c.logger)
		}
	}()

	seniorRole := models.RoleSenior
	res, err := c.resolver.ResolveVerified(ctx, identity, &seniorRole)
	if err != nil {
		return nil, err
	}
	if res.Outcome == resolver.RoleMismatch {
		return nil, errRoleConflict
	}

	// a. profiles for the senior's phone keyed by something other than the subject
	olds, err := c.displaced(ctx, res, identity)
	if err != nil {
		return nil, err
	}

	// b. references to them
	refs := make([][]reconcile.Ref, len(olds))
	for i, old := range olds {
		refs[i], err = c.migrator.Dependents(ctx, old.ID, old.PhoneNumber)
		if err != nil {
			return nil, err
		}
	}

	// c. upsert the senior keyed by the verified subject
	existing, err := c.repo.GetByID(ctx, seniorID)
	if err != nil {
		return nil, err
	}
	fresh := existing.Clone()
	if fresh == nil {
		fresh = &models.UserProfile{ID: seniorID, Role: models.RoleSenior}
	}
	fresh.PhoneNumber = identity.PhoneNumber
	fresh.Origin = models.OriginVerified
	reconcile.FillBlanks(fresh, details.Name, details.Gender, details.DateOfBirth, details.Email, details.Address)
	senior := fresh
	for _, old := range olds {
		senior = reconcile.Merge(old, senior)
	}
	if !models.Contains(senior.LinkedFamilyIDs, wf.FamilyID) {
		senior.LinkedFamilyIDs = append(senior.LinkedFamilyIDs, wf.FamilyID)
	}
	if senior.CreatedBy == "" {
		senior.CreatedBy = wf.FamilyID
	}

	// A code already handed out for an old profile keeps working. The unique code
	// index rejects the senior while the old document still holds it.
	released := map[string]bool{}
	if senior.LinkingCode == "" {
		for _, old := range olds {
			if old.LinkingCode == "" {
				continue
			}
			if err := c.releaseCode(ctx, &undo, old); err != nil {
				return nil, err
			}
			released[old.ID] = true
			senior.LinkingCode = old.LinkingCode
			senior.LinkingCodeIssuedAt = old.LinkingCodeIssuedAt
			break
		}
	}

	if err := c.repo.Set(ctx, senior); err != nil {
		return nil, fmt.Errorf("failed to write senior profile: %w", err)
	}
	if existing == nil {
		undo.push("delete senior", func(ctx context.Context) error {
			return c.repo.Delete(ctx, seniorID)
		})
	} else {
		snapshot := existing.Clone()
		undo.push("restore senior", func(ctx context.Context) error {
			return c.repo.Set(ctx, snapshot)
		})
	}

	// d. linking code, reusing one the senior already holds
	code := senior.LinkingCode
	if code == "" {
		code, err = c.registry.Assign(ctx, seniorID)
		if err != nil {
			return nil, err
		}
	}

	// e. family side of the edge, dependents, then the old profiles
	family, err := c.repo.GetByID(ctx, wf.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, fmt.Errorf("family profile %s disappeared", wf.FamilyID)
	}
	if !models.Contains(family.LinkedSeniorIDs, seniorID) {
		if err := c.repo.ArrayUnion(ctx, wf.FamilyID, models.FieldLinkedSeniorIDs, seniorID); err != nil {
			return nil, fmt.Errorf("failed to link family: %w", err)
		}
		undo.push("unlink family", func(ctx context.Context) error {
			return c.repo.ArrayRemove(ctx, wf.FamilyID, models.FieldLinkedSeniorIDs, seniorID)
		})
	}

	for i, old := range olds {
		oldID := old.ID
		applied, err := c.migrator.Migrate(ctx, refs[i], oldID, seniorID)
		if len(applied) > 0 {
			undo.push("revert dependents", func(ctx context.Context) error {
				return c.migrator.Revert(ctx, applied, oldID, seniorID)
			})
		}
		if err != nil {
			return nil, err
		}
	}
	for _, old := range olds {
		if err := c.repo.Delete(ctx, old.ID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
			return nil, fmt.Errorf("failed to delete displaced profile %s: %w", old.ID, err)
		}
		snapshot := old.Clone()
		if released[old.ID] {
			// The code returns to it once the senior is gone.
			snapshot.LinkingCode = ""
			snapshot.LinkingCodeIssuedAt = nil
		}
		undo.push("restore displaced profile", func(ctx context.Context) error {
			return c.repo.Set(ctx, snapshot)
		})
		c.logger.Info("displaced profile reconciled",
			zap.String("profileId", old.ID), zap.String("origin", string(old.Origin)), zap.String("seniorId", seniorID))
	}

	c.notifyCareManager(ctx, senior)
	return &Result{SeniorID: seniorID, LinkingCode: code}, nil
}

// displaced lists the senior profiles for the verified phone that are not keyed by
// the verified subject: an earlier verified profile first, then the pre-record.
func (c *Coordinator) displaced(ctx context.Context, res *resolver.Resolution, identity models.VerifiedIdentity) ([]*models.UserProfile, error) {
	var olds []*models.UserProfile
	if res.Outcome == resolver.Found && res.Profile.ID != identity.SubjectID && !res.Profile.IsPreRecord() {
		olds = append(olds, res.Profile.Clone())
	}
	pre, err := c.resolver.FindPreRecord(ctx, identity.PhoneNumber, models.RoleSenior, identity.SubjectID)
	if err != nil {
		return nil, err
	}
	if pre != nil {
		olds = append(olds, pre)
	}
	return olds, nil
}

// releaseCode blanks old's linking code and registers its restoration.
func (c *Coordinator) releaseCode(ctx context.Context, undo *undoStack, old *models.UserProfile) error {
	if err := c.repo.Merge(ctx, old.ID, map[string]interface{}{models.FieldLinkingCode: ""}); err != nil {
		return fmt.Errorf("failed to release linking code of %s: %w", old.ID, err)
	}
	code := old.LinkingCode
	id := old.ID
	undo.push("restore linking code", func(ctx context.Context) error {
		return c.repo.Merge(ctx, id, map[string]interface{}{models.FieldLinkingCode: code})
	})
	return nil
}
