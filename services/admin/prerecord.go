package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/services/verification"
	"carelink/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreatePreRecord stores a placeholder profile for someone who has not authenticated
// yet. Phones that already hold any profile are refused.
func (a *DefaultAdminService) CreatePreRecord(ctx context.Context, adminID string, input models.PreRecordInput) (*models.UserProfile, error) {
	role, err := models.ParseRole(string(input.Role))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrBadRequest, err)
	}
	switch role {
	case models.RoleSenior, models.RoleCareManager:
	case models.RoleFamily:
		return nil, fmt.Errorf("%w: family members register themselves", utils.ErrBadRequest)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", utils.ErrBadRequest)
	}

	phone, err := verification.NormalizePhone(input.PhoneNumber, a.opts.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	existing, err := userRepo.FindByPhone(ctx, a.repo, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s already has a %s profile", utils.ErrConflict, phone, existing[0].Role)
	}

	var manager *models.UserProfile
	if input.CareManagerID != "" {
		if role != models.RoleSenior {
			return nil, fmt.Errorf("%w: only seniors are assigned a care manager", utils.ErrBadRequest)
		}
		manager, err = a.careManager(ctx, input.CareManagerID)
		if err != nil {
			return nil, err
		}
	}

	p := &models.UserProfile{
		ID:          models.AdminKeyPrefix + uuid.NewString(),
		PhoneNumber: phone,
		Role:        role,
		Origin:      models.OriginAdmin,
		Name:        name,
		Gender:      input.Gender,
		DateOfBirth: input.DateOfBirth,
		Address:     input.Address,
		CreatedBy:   adminID,
		CreatedAt:   time.Now(),
	}
	if err := a.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	a.logger.Info("pre-record created", zap.String("profileId", p.ID), zap.String("role", string(role)))

	if manager != nil {
		if _, err := a.assign(ctx, manager, p); err != nil {
			return nil, err
		}
		p.CareManagerID = manager.ID
		p.CareManagerPhone = manager.PhoneNumber
	}
	return p, nil
}

// AssignSenior points the senior at the care manager and adds the senior to the care
// manager's assigned set. A previous care manager loses the senior.
func (a *DefaultAdminService) AssignSenior(ctx context.Context, careManagerID, seniorID string) (*models.AssignmentResult, error) {
	manager, err := a.careManager(ctx, careManagerID)
	if err != nil {
		return nil, err
	}
	senior, err := a.senior(ctx, seniorID)
	if err != nil {
		return nil, err
	}
	return a.assign(ctx, manager, senior)
}

func (a *DefaultAdminService) assign(ctx context.Context, manager, senior *models.UserProfile) (*models.AssignmentResult, error) {
	result := &models.AssignmentResult{SeniorID: senior.ID, CareManagerID: manager.ID}
	if senior.CareManagerID == manager.ID && models.Contains(manager.AssignedSeniorIDs, senior.ID) {
		return result, nil
	}

	previous := senior.CareManagerID
	err := a.repo.Merge(ctx, senior.ID, map[string]interface{}{
		models.FieldCareManagerID:    manager.ID,
		models.FieldCareManagerPhone: manager.PhoneNumber,
	})
	if err != nil {
		return nil, translate(err)
	}
	if err := a.repo.ArrayUnion(ctx, manager.ID, models.FieldAssignedSeniorIDs, senior.ID); err != nil {
		return nil, translate(err)
	}
	if previous != "" && previous != manager.ID {
		if err := a.repo.ArrayRemove(ctx, previous, models.FieldAssignedSeniorIDs, senior.ID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
			a.logger.Warn("failed to detach senior from previous care manager",
				zap.String("careManagerId", previous), zap.String("seniorId", senior.ID), zap.Error(err))
		}
	}
	result.Changed = true

	a.logger.Info("senior assigned", zap.String("seniorId", senior.ID), zap.String("careManagerId", manager.ID))
	a.notifyAssigned(ctx, manager, senior)
	return result, nil
}

// UnassignSenior clears the senior's care manager on both sides.
func (a *DefaultAdminService) UnassignSenior(ctx context.Context, seniorID string) error {
	senior, err := a.senior(ctx, seniorID)
	if err != nil {
		return err
	}
	if senior.CareManagerID == "" {
		return nil
	}
	err = a.repo.Merge(ctx, senior.ID, map[string]interface{}{
		models.FieldCareManagerID:    "",
		models.FieldCareManagerPhone: "",
	})
	if err != nil {
		return translate(err)
	}
	if err := a.repo.ArrayRemove(ctx, senior.CareManagerID, models.FieldAssignedSeniorIDs, senior.ID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
		return translate(err)
	}
	return nil
}

// ListPreRecords returns every administrative pre-record still awaiting its owner.
func (a *DefaultAdminService) ListPreRecords(ctx context.Context) ([]models.UserProfile, error) {
	records, err := a.repo.FindByField(ctx, models.FieldOrigin, string(models.OriginAdmin))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	return records, nil
}

func (a *DefaultAdminService) careManager(ctx context.Context, id string) (*models.UserProfile, error) {
	return a.profileWithRole(ctx, id, models.RoleCareManager)
}

func (a *DefaultAdminService) senior(ctx context.Context, id string) (*models.UserProfile, error) {
	return a.profileWithRole(ctx, id, models.RoleSenior)
}

func (a *DefaultAdminService) profileWithRole(ctx context.Context, id string, role models.Role) (*models.UserProfile, error) {
	p, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s %s", utils.ErrNotFound, role, id)
	}
	if p.Role != role {
		return nil, fmt.Errorf("%w: %s is a %s", utils.ErrRoleMismatch, id, p.Role)
	}
	return p, nil
}

func (a *DefaultAdminService) notifyAssigned(ctx context.Context, manager, senior *models.UserProfile) {
	if a.notifier == nil {
		return
	}
	name := senior.Name
	if name == "" {
		name = senior.PhoneNumber
	}
	err := a.notifier.Enqueue(ctx, models.PushPayload{
		SubjectID: manager.ID,
		Type:      models.PushSeniorAssigned,
		Title:     "New senior assigned",
		Body:      fmt.Sprintf("%s has been assigned to you.", name),
		Data:      map[string]string{"seniorId": senior.ID},
	})
	if err != nil {
		a.logger.Warn("failed to enqueue assignment notification", zap.String("seniorId", senior.ID), zap.Error(err))
	}
}

func translate(err error) error {
	if errors.Is(err, userRepo.ErrNotFound) {
		return fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
}
