package reconcile

import (
	"context"
	"errors"
	"fmt"

	userRepo "carelink/database/repository/user"
	"carelink/models"

	"go.uber.org/zap"
)

// Ref is one foreign key pointing at a placeholder profile.
type Ref struct {
	ProfileID string
	Field     string
	// Previous is the scalar value before migration; Values the array before migration.
	Previous string
	Values   []string
}

func (r Ref) isArray() bool {
	return r.Field != models.FieldCareManagerID
}

// Migrator re-points foreign keys from a placeholder key to a verified one.
type Migrator struct {
	repo   userRepo.UserRepository
	logger *zap.Logger
}

func NewMigrator(repo userRepo.UserRepository, logger *zap.Logger) *Migrator {
	return &Migrator{repo: repo, logger: logger}
}

// Dependents finds every profile referencing oldID: families through linkedSeniorIds,
// care managers through assignedSeniorIds and seniors through careManagerId. Seniors
// with no careManagerId whose careManagerPhone equals phone are included as well.
func (m *Migrator) Dependents(ctx context.Context, oldID, phone string) ([]Ref, error) {
	var refs []Ref
	seen := map[string]bool{}
	add := func(p models.UserProfile, field string, previous string, values []string) {
		key := p.ID + "/" + field
		if p.ID == oldID || seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, Ref{ProfileID: p.ID, Field: field, Previous: previous, Values: values})
	}

	for _, field := range []string{models.FieldLinkedSeniorIDs, models.FieldAssignedSeniorIDs} {
		profiles, err := m.repo.FindByArrayContains(ctx, field, oldID)
		if err != nil {
			return nil, fmt.Errorf("failed to find %s dependents: %w", field, err)
		}
		for _, p := range profiles {
			add(p, field, "", arrayField(&p, field))
		}
	}

	seniors, err := m.repo.FindByField(ctx, models.FieldCareManagerID, oldID)
	if err != nil {
		return nil, fmt.Errorf("failed to find careManagerId dependents: %w", err)
	}
	for _, p := range seniors {
		add(p, models.FieldCareManagerID, p.CareManagerID, nil)
	}

	if phone != "" {
		byPhone, err := m.repo.FindByField(ctx, models.FieldCareManagerPhone, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to find careManagerPhone dependents: %w", err)
		}
		for _, p := range byPhone {
			if p.Role == models.RoleSenior && p.CareManagerID == "" {
				add(p, models.FieldCareManagerID, "", nil)
			}
		}
	}
	return refs, nil
}

// Migrate re-points refs from oldID to newID. It returns the refs it changed so a
// caller can Revert them after a later failure.
func (m *Migrator) Migrate(ctx context.Context, refs []Ref, oldID, newID string) ([]Ref, error) {
	var applied []Ref
	for _, ref := range refs {
		var err error
		if ref.isArray() {
			err = m.repo.ArrayUnion(ctx, ref.ProfileID, ref.Field, newID)
			if err == nil {
				err = m.repo.ArrayRemove(ctx, ref.ProfileID, ref.Field, oldID)
			}
		} else {
			err = m.repo.Merge(ctx, ref.ProfileID, map[string]interface{}{ref.Field: newID})
		}
		if err != nil {
			if errors.Is(err, userRepo.ErrNotFound) {
				// Deleted since it was found; nothing left to re-point.
				continue
			}
			// A half-applied array ref still needs reverting.
			applied = append(applied, ref)
			return applied, fmt.Errorf("failed to migrate %s on %s: %w", ref.Field, ref.ProfileID, err)
		}
		applied = append(applied, ref)
	}
	if len(applied) > 0 {
		m.logger.Info("foreign keys migrated", zap.String("from", oldID), zap.String("to", newID), zap.Int("refs", len(applied)))
	}
	return applied, nil
}

// Revert undoes Migrate for applied. Values newID already held before migration are kept.
func (m *Migrator) Revert(ctx context.Context, applied []Ref, oldID, newID string) error {
	var firstErr error
	for i := len(applied) - 1; i >= 0; i-- {
		ref := applied[i]
		var err error
		if ref.isArray() {
			err = m.repo.ArrayUnion(ctx, ref.ProfileID, ref.Field, oldID)
			if err == nil && !models.Contains(ref.Values, newID) {
				err = m.repo.ArrayRemove(ctx, ref.ProfileID, ref.Field, newID)
			}
		} else {
			err = m.repo.Merge(ctx, ref.ProfileID, map[string]interface{}{ref.Field: ref.Previous})
		}
		if err != nil {
			m.logger.Error("failed to revert foreign key",
				zap.String("profileId", ref.ProfileID), zap.String("field", ref.Field), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func arrayField(p *models.UserProfile, field string) []string {
	switch field {
	case models.FieldLinkedSeniorIDs:
		return append([]string(nil), p.LinkedSeniorIDs...)
	case models.FieldAssignedSeniorIDs:
		return append([]string(nil), p.AssignedSeniorIDs...)
	case models.FieldLinkedFamilyIDs:
		return append([]string(nil), p.LinkedFamilyIDs...)
	default:
		return nil
	}
}
