package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/services/reconcile"
	"carelink/services/resolver"
	"carelink/services/session"
	"carelink/services/verification"
	"carelink/utils"

	"go.uber.org/zap"
)

// LoginResult is returned after a successful OTP login.
type LoginResult struct {
	Profile           *models.UserProfile  `json:"profile,omitempty"`
	Session           *models.SessionGrant `json:"session"`
	NeedsProfileSetup bool                 `json:"needsProfileSetup"`
}

type Options struct {
	DefaultCountryCode string
}

// Service handles per-role phone login and profile setup.
type Service struct {
	repo     userRepo.UserRepository
	gateway  verification.Gateway
	sessions session.Store
	resolver *resolver.Resolver
	migrator *reconcile.Migrator
	opts     Options
	logger   *zap.Logger
}

func NewService(
	repo userRepo.UserRepository,
	gateway verification.Gateway,
	sessions session.Store,
	res *resolver.Resolver,
	migrator *reconcile.Migrator,
	logger *zap.Logger,
	opts Options,
) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		sessions: sessions,
		resolver: res,
		migrator: migrator,
		opts:     opts,
		logger:   logger,
	}
}

// BeginLogin runs the pre-OTP role check and starts the phone challenge. Seniors and
// care managers must already be known, either verified or as a pre-record.
func (s *Service) BeginLogin(ctx context.Context, deviceID, phone string, role models.Role) (*verification.ChallengeHandle, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", utils.ErrBadRequest, role)
	}
	number, err := verification.NormalizePhone(phone, s.opts.DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, number, &role)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case resolver.RoleMismatch:
		return nil, fmt.Errorf("%w: %s is registered under another role", utils.ErrRoleMismatch, number)
	case resolver.NotFound:
		if err := requireKnown(role); err != nil {
			return nil, err
		}
	case resolver.Found:
	}

	return s.gateway.BeginVerification(ctx, deviceID, number)
}

func requireKnown(role models.Role) error {
	switch role {
	case models.RoleFamily:
		return nil
	case models.RoleSenior:
		return fmt.Errorf("%w: seniors are registered by a family member", utils.ErrNotFound)
	case models.RoleCareManager:
		return fmt.Errorf("%w: care managers are registered by an administrator", utils.ErrNotFound)
	default:
		return fmt.Errorf("%w: unknown role %q", utils.ErrBadRequest, role)
	}
}

// CompleteLogin confirms the code and checks the role again against the verified
// identity. On any rejection the device session the challenge just established is
// cleared.
func (s *Service) CompleteLogin(ctx context.Context, handleID, code string, role models.Role) (*LoginResult, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", utils.ErrBadRequest, role)
	}
	v, err := s.gateway.CompleteVerification(ctx, handleID, code)
	if err != nil {
		return nil, err
	}

	profile, err := s.classify(ctx, v.VerifiedIdentity, role)
	if err != nil {
		if clearErr := s.sessions.Clear(ctx, v.DeviceID); clearErr != nil {
			s.logger.Error("failed to clear device session", zap.String("deviceId", v.DeviceID), zap.Error(clearErr))
		}
		return nil, err
	}

	result := &LoginResult{Profile: profile, Session: v.Grant}
	result.NeedsProfileSetup = profile == nil || profile.Name == ""
	s.logger.Info("login completed",
		zap.String("subjectId", v.SubjectID), zap.String("role", string(role)), zap.Bool("needsSetup", result.NeedsProfileSetup))
	return result, nil
}

func (s *Service) classify(ctx context.Context, identity models.VerifiedIdentity, role models.Role) (*models.UserProfile, error) {
	res, err := s.resolver.ResolveVerified(ctx, identity, &role)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case resolver.RoleMismatch:
		return nil, fmt.Errorf("%w: verified identity holds another role", utils.ErrRoleMismatch)
	case resolver.NotFound:
		return nil, requireKnown(role)
	case resolver.Found:
		if res.Profile.ID == identity.SubjectID {
			return res.Profile, nil
		}
		return s.adopt(ctx, res.Profile, identity)
	default:
		return nil, fmt.Errorf("unexpected resolution %s", res.Outcome)
	}
}

// adopt moves a profile keyed by something other than the verified subject (an
// administrative pre-record) onto the subject. The verified profile is written first,
// references migrated second and the old document deleted last.
func (s *Service) adopt(ctx context.Context, old *models.UserProfile, identity models.VerifiedIdentity) (*models.UserProfile, error) {
	ctx = context.WithoutCancel(ctx)

	fresh := &models.UserProfile{
		ID:          identity.SubjectID,
		PhoneNumber: identity.PhoneNumber,
		Role:        old.Role,
		Origin:      models.OriginVerified,
		LinkingCode: old.LinkingCode,
	}
	adopted := reconcile.Merge(old, fresh)

	refs, err := s.migrator.Dependents(ctx, old.ID, old.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}

	// The unique code index would reject the copy while the old document holds it.
	if adopted.LinkingCode != "" {
		if err := s.repo.Merge(ctx, old.ID, map[string]interface{}{models.FieldLinkingCode: ""}); err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
		}
	}
	if err := s.repo.Create(ctx, adopted); err != nil {
		s.restoreCode(ctx, old)
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}

	applied, err := s.migrator.Migrate(ctx, refs, old.ID, adopted.ID)
	if err != nil {
		if revertErr := s.migrator.Revert(ctx, applied, old.ID, adopted.ID); revertErr != nil {
			s.logger.Error("failed to revert migration", zap.String("profileId", old.ID), zap.Error(revertErr))
		}
		if delErr := s.repo.Delete(ctx, adopted.ID); delErr != nil {
			s.logger.Error("failed to remove adopted profile", zap.String("profileId", adopted.ID), zap.Error(delErr))
		}
		s.restoreCode(ctx, old)
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}

	// A lingering old document is harmless; the janitor removes it later.
	if err := s.repo.Delete(ctx, old.ID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
		s.logger.Warn("failed to delete adopted pre-record", zap.String("profileId", old.ID), zap.Error(err))
	}

	s.logger.Info("profile adopted", zap.String("from", old.ID), zap.String("to", adopted.ID), zap.String("role", string(adopted.Role)))
	return adopted, nil
}

func (s *Service) restoreCode(ctx context.Context, old *models.UserProfile) {
	if old.LinkingCode == "" {
		return
	}
	if err := s.repo.Merge(ctx, old.ID, map[string]interface{}{models.FieldLinkingCode: old.LinkingCode}); err != nil {
		s.logger.Error("failed to restore linking code", zap.String("profileId", old.ID), zap.Error(err))
	}
}

// SetupProfile creates or completes the family profile of a freshly verified identity.
func (s *Service) SetupProfile(ctx context.Context, identity models.VerifiedIdentity, input models.ProfileInput) (*models.UserProfile, error) {
	existing, err := s.repo.GetByID(ctx, identity.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if existing != nil {
		if existing.Role != models.RoleFamily {
			return nil, fmt.Errorf("%w: profile setup is for family members", utils.ErrRoleMismatch)
		}
		fields := map[string]interface{}{models.FieldName: input.Name}
		if input.Gender != "" {
			fields["gender"] = input.Gender
		}
		if input.DateOfBirth != "" {
			fields["dateOfBirth"] = input.DateOfBirth
		}
		if input.Email != "" {
			fields["email"] = input.Email
		}
		if !input.Address.IsZero() {
			fields["address"] = input.Address
		}
		if err := s.repo.Merge(ctx, existing.ID, fields); err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
		}
		return s.repo.GetByID(ctx, existing.ID)
	}

	family := models.RoleFamily
	res, err := s.resolver.Resolve(ctx, identity.PhoneNumber, &family)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case resolver.RoleMismatch:
		return nil, fmt.Errorf("%w: phone belongs to another account type", utils.ErrRoleMismatch)
	case resolver.Found:
		return nil, fmt.Errorf("%w: phone already has a family profile", utils.ErrConflict)
	case resolver.NotFound:
	}

	now := time.Now()
	p := &models.UserProfile{
		ID:          identity.SubjectID,
		PhoneNumber: identity.PhoneNumber,
		Role:        models.RoleFamily,
		Origin:      models.OriginVerified,
		Name:        input.Name,
		Gender:      input.Gender,
		DateOfBirth: input.DateOfBirth,
		Email:       input.Email,
		Address:     input.Address,
		CreatedBy:   identity.SubjectID,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, userRepo.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %v", utils.ErrConflict, err)
		}
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	s.logger.Info("family profile created", zap.String("subjectId", p.ID))
	return p, nil
}

// Profile returns the caller's own profile.
func (s *Service) Profile(ctx context.Context, subjectID string) (*models.UserProfile, error) {
	p, err := s.repo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: profile %s", utils.ErrNotFound, subjectID)
	}
	return p, nil
}

func (s *Service) Logout(ctx context.Context, deviceID string) error {
	return s.sessions.Clear(ctx, deviceID)
}
