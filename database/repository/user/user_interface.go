package userRepo

import (
	"context"
	"errors"

	"carelink/models"
)

var (
	// ErrNotFound is returned by writes that target a missing document.
	ErrNotFound = errors.New("user profile not found")
	// ErrDuplicateKey is returned when a write collides with a unique key (id or linkingCode).
	ErrDuplicateKey = errors.New("duplicate key")
)

// UserRepository is the document store for user profiles. Every method is a
// single-document atomic operation; no multi-document transactions are offered.
type UserRepository interface {
	// GetByID returns the profile keyed by id, or nil when none exists.
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	// FindByField returns every profile whose field equals value.
	FindByField(ctx context.Context, field, value string) ([]models.UserProfile, error)
	// FindByArrayContains returns every profile whose array field contains value.
	FindByArrayContains(ctx context.Context, field, value string) ([]models.UserProfile, error)
	// Create inserts a new profile and fails with ErrDuplicateKey if the id exists.
	Create(ctx context.Context, p *models.UserProfile) error
	// Set writes the full profile, creating it when absent.
	Set(ctx context.Context, p *models.UserProfile) error
	// Merge sets the given top-level fields on an existing profile.
	Merge(ctx context.Context, id string, fields map[string]interface{}) error
	// ArrayUnion adds values to an array field, skipping ones already present.
	ArrayUnion(ctx context.Context, id, field string, values ...string) error
	// ArrayRemove removes every occurrence of values from an array field.
	ArrayRemove(ctx context.Context, id, field string, values ...string) error
	// Delete removes the profile keyed by id.
	Delete(ctx context.Context, id string) error
}

// FindByPhone returns every profile registered under phone.
func FindByPhone(ctx context.Context, r UserRepository, phone string) ([]models.UserProfile, error) {
	return r.FindByField(ctx, models.FieldPhoneNumber, phone)
}

// FindByLinkingCode returns the seniors holding code.
func FindByLinkingCode(ctx context.Context, r UserRepository, code string) ([]models.UserProfile, error) {
	return r.FindByField(ctx, models.FieldLinkingCode, code)
}
