package resolver

import (
	"context"
	"fmt"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/utils"

	"go.uber.org/zap"
)

// Outcome classifies a phone number against the profile store.
type Outcome int

const (
	NotFound Outcome = iota
	Found
	RoleMismatch
)

func (o Outcome) String() string {
	switch o {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	case RoleMismatch:
		return "role_mismatch"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Resolution carries the outcome and, for Found, the profile.
type Resolution struct {
	Outcome Outcome
	Profile *models.UserProfile
}

// Resolver classifies identities and phone numbers against existing profiles.
type Resolver struct {
	repo   userRepo.UserRepository
	logger *zap.Logger
}

func NewResolver(repo userRepo.UserRepository, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve looks phone up by exact match. When expectedRole is set and any profile for
// the phone carries another role the result is RoleMismatch, never Found. Verified
// profiles take precedence over administrative pre-records.
func (r *Resolver) Resolve(ctx context.Context, phone string, expectedRole *models.Role) (*Resolution, error) {
	profiles, err := userRepo.FindByPhone(ctx, r.repo, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: profile lookup: %v", utils.ErrNetworkFailure, err)
	}
	if len(profiles) == 0 {
		return &Resolution{Outcome: NotFound}, nil
	}

	if expectedRole != nil {
		for _, p := range profiles {
			if p.Role != *expectedRole {
				r.logger.Info("role mismatch",
					zap.String("expected", string(*expectedRole)),
					zap.String("actual", string(p.Role)),
					zap.String("profileId", p.ID))
				return &Resolution{Outcome: RoleMismatch}, nil
			}
		}
	}
	return &Resolution{Outcome: Found, Profile: primary(profiles)}, nil
}

// ResolveVerified classifies a freshly verified identity: the profile keyed by its
// subject wins, otherwise whatever Resolve finds for the phone. A Found profile whose
// key differs from the subject still has to be adopted by the caller.
func (r *Resolver) ResolveVerified(ctx context.Context, identity models.VerifiedIdentity, expectedRole *models.Role) (*Resolution, error) {
	p, err := r.repo.GetByID(ctx, identity.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: profile lookup: %v", utils.ErrNetworkFailure, err)
	}
	if p != nil {
		if expectedRole != nil && p.Role != *expectedRole {
			return &Resolution{Outcome: RoleMismatch}, nil
		}
		return &Resolution{Outcome: Found, Profile: p}, nil
	}
	return r.Resolve(ctx, identity.PhoneNumber, expectedRole)
}

// FindPreRecord returns the administrative pre-record of the given role for phone
// whose key differs from verifiedSubjectID, or nil.
func (r *Resolver) FindPreRecord(ctx context.Context, phone string, role models.Role, verifiedSubjectID string) (*models.UserProfile, error) {
	profiles, err := userRepo.FindByPhone(ctx, r.repo, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: profile lookup: %v", utils.ErrNetworkFailure, err)
	}
	for i := range profiles {
		p := &profiles[i]
		if p.IsPreRecord() && p.Role == role && p.ID != verifiedSubjectID {
			return p, nil
		}
	}
	return nil, nil
}

func primary(profiles []models.UserProfile) *models.UserProfile {
	for i := range profiles {
		if !profiles[i].IsPreRecord() {
			return &profiles[i]
		}
	}
	return &profiles[0]
}
