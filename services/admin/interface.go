package admin

import (
	"context"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"

	"go.uber.org/zap"
)

type AdminService interface {
	CreatePreRecord(ctx context.Context, adminID string, input models.PreRecordInput) (*models.UserProfile, error)
	AssignSenior(ctx context.Context, careManagerID, seniorID string) (*models.AssignmentResult, error)
	UnassignSenior(ctx context.Context, seniorID string) error
	ListPreRecords(ctx context.Context) ([]models.UserProfile, error)
	GetLegalSections() []models.LegalSection
	GetLegalSectionsFor(role models.Role) []models.LegalSection
}

// Notifier receives best-effort pushes about assignments.
type Notifier interface {
	Enqueue(ctx context.Context, push models.PushPayload) error
}

type Options struct {
	DefaultCountryCode string
}

// DefaultAdminService is the production implementation.
type DefaultAdminService struct {
	repo         userRepo.UserRepository
	notifier     Notifier
	opts         Options
	logger       *zap.Logger
	legalUpdated time.Time
}

func NewDefaultAdminService(repo userRepo.UserRepository, notifier Notifier, logger *zap.Logger, opts Options) *DefaultAdminService {
	return &DefaultAdminService{
		repo:         repo,
		notifier:     notifier,
		opts:         opts,
		logger:       logger,
		legalUpdated: time.Now(),
	}
}
