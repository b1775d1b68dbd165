package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/utils"

	"go.uber.org/zap"
)

const (
	// Alphabet excludes the confusable 0/O and 1/I.
	Alphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength = 6

	maxGenerateAttempts = 10
)

// ErrCodeSpaceExhausted is returned when every generated candidate collided.
var ErrCodeSpaceExhausted = errors.New("could not generate a unique linking code")

// Notifier is told about new links so the senior's devices can be informed.
type Notifier interface {
	Enqueue(ctx context.Context, push models.PushPayload) error
}

// Registry issues and redeems linking codes and maintains the senior/family edge.
type Registry struct {
	repo     userRepo.UserRepository
	notifier Notifier
	random   io.Reader
	logger   *zap.Logger
}

func NewRegistry(repo userRepo.UserRepository, notifier Notifier, logger *zap.Logger) *Registry {
	return &Registry{repo: repo, notifier: notifier, random: rand.Reader, logger: logger}
}

// WithRandom replaces the randomness source; tests use it to force collisions.
func (r *Registry) WithRandom(random io.Reader) *Registry {
	r.random = random
	return r
}

// NormalizeCode uppercases and trims a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Generate draws a code that no stored profile holds yet.
func (r *Registry) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		code, err := utils.RandomString(r.random, Alphabet, CodeLength)
		if err != nil {
			return "", err
		}
		holders, err := userRepo.FindByLinkingCode(ctx, r.repo, code)
		if err != nil {
			return "", fmt.Errorf("failed to check linking code: %w", err)
		}
		if len(holders) == 0 {
			return code, nil
		}
		r.logger.Debug("linking code collision", zap.Int("attempt", attempt))
	}
	return "", ErrCodeSpaceExhausted
}

// Assign generates a code and stores it on the senior. A unique-index race with a
// concurrent writer is retried with a fresh code.
func (r *Registry) Assign(ctx context.Context, seniorID string) (string, error) {
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		code, err := r.Generate(ctx)
		if err != nil {
			return "", err
		}
		now := time.Now().UTC()
		err = r.repo.Merge(ctx, seniorID, map[string]interface{}{
			models.FieldLinkingCode:         code,
			models.FieldLinkingCodeIssuedAt: now,
		})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, userRepo.ErrDuplicateKey) {
			return "", fmt.Errorf("failed to store linking code: %w", err)
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Regenerate replaces a senior's code. It is the only way a code stops working.
func (r *Registry) Regenerate(ctx context.Context, seniorID string) (string, error) {
	senior, err := r.repo.GetByID(ctx, seniorID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if senior == nil || senior.Role != models.RoleSenior {
		return "", fmt.Errorf("%w: senior %s", utils.ErrNotFound, seniorID)
	}
	code, err := r.Assign(ctx, seniorID)
	if err != nil {
		return "", err
	}
	r.logger.Info("linking code regenerated", zap.String("seniorId", seniorID))
	return code, nil
}

// Redeem links the family member to the senior holding code. Codes compare
// case-insensitively; a second redemption of a completed edge is ErrAlreadyLinked.
func (r *Registry) Redeem(ctx context.Context, code, familyID string) (*models.UserProfile, error) {
	code = NormalizeCode(code)
	if !wellFormed(code) {
		return nil, fmt.Errorf("%w: malformed linking code", utils.ErrNotFound)
	}

	holders, err := userRepo.FindByLinkingCode(ctx, r.repo, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	var senior *models.UserProfile
	for i := range holders {
		if holders[i].Role == models.RoleSenior {
			senior = &holders[i]
			break
		}
	}
	if senior == nil {
		return nil, fmt.Errorf("%w: linking code", utils.ErrNotFound)
	}

	family, err := r.repo.GetByID(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if family == nil {
		return nil, fmt.Errorf("%w: family profile %s", utils.ErrNotFound, familyID)
	}
	if family.Role != models.RoleFamily {
		return nil, fmt.Errorf("%w: only family members redeem linking codes", utils.ErrRoleMismatch)
	}

	seniorSide := models.Contains(senior.LinkedFamilyIDs, familyID)
	familySide := models.Contains(family.LinkedSeniorIDs, senior.ID)
	if seniorSide && familySide {
		return nil, utils.ErrAlreadyLinked
	}

	if err := r.writeEdge(ctx, senior.ID, familyID, !seniorSide, !familySide); err != nil {
		return nil, err
	}
	if seniorSide != familySide {
		r.logger.Warn("repaired half-written link", zap.String("seniorId", senior.ID), zap.String("familyId", familyID))
	}

	updated, err := r.repo.GetByID(ctx, senior.ID)
	if err != nil || updated == nil {
		updated = senior
		if !seniorSide {
			updated.LinkedFamilyIDs = append(updated.LinkedFamilyIDs, familyID)
		}
	}

	r.notify(ctx, senior.ID, family)
	r.logger.Info("linking code redeemed", zap.String("seniorId", senior.ID), zap.String("familyId", familyID))
	return updated, nil
}

// Link writes both sides of the senior/family edge. It is idempotent.
func (r *Registry) Link(ctx context.Context, seniorID, familyID string) error {
	return r.writeEdge(ctx, seniorID, familyID, true, true)
}

// Unlink removes both sides of the edge.
func (r *Registry) Unlink(ctx context.Context, seniorID, familyID string) error {
	if err := r.repo.ArrayRemove(ctx, seniorID, models.FieldLinkedFamilyIDs, familyID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
		return fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if err := r.repo.ArrayRemove(ctx, familyID, models.FieldLinkedSeniorIDs, seniorID); err != nil && !errors.Is(err, userRepo.ErrNotFound) {
		return fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	r.logger.Info("link removed", zap.String("seniorId", seniorID), zap.String("familyId", familyID))
	return nil
}

// writeEdge writes the senior side first, then the family side. If the family side
// fails the senior side written here is removed again.
func (r *Registry) writeEdge(ctx context.Context, seniorID, familyID string, writeSenior, writeFamily bool) error {
	if writeSenior {
		if err := r.repo.ArrayUnion(ctx, seniorID, models.FieldLinkedFamilyIDs, familyID); err != nil {
			return edgeError(err, "senior", seniorID)
		}
	}
	if writeFamily {
		if err := r.repo.ArrayUnion(ctx, familyID, models.FieldLinkedSeniorIDs, seniorID); err != nil {
			if writeSenior {
				if undoErr := r.repo.ArrayRemove(ctx, seniorID, models.FieldLinkedFamilyIDs, familyID); undoErr != nil {
					r.logger.Error("failed to compensate senior side of link",
						zap.String("seniorId", seniorID), zap.String("familyId", familyID), zap.Error(undoErr))
				}
			}
			return edgeError(err, "family", familyID)
		}
	}
	return nil
}

func edgeError(err error, side, id string) error {
	if errors.Is(err, userRepo.ErrNotFound) {
		return fmt.Errorf("%w: %s profile %s", utils.ErrNotFound, side, id)
	}
	return fmt.Errorf("%w: link %s side: %v", utils.ErrNetworkFailure, side, err)
}

func (r *Registry) notify(ctx context.Context, seniorID string, family *models.UserProfile) {
	if r.notifier == nil {
		return
	}
	name := family.Name
	if name == "" {
		name = "A family member"
	}
	push := models.PushPayload{
		SubjectID: seniorID,
		Type:      models.PushSeniorLinked,
		Title:     "New family connection",
		Body:      fmt.Sprintf("%s is now connected to your CareLink account.", name),
		Data:      map[string]string{"familyId": family.ID},
	}
	if err := r.notifier.Enqueue(ctx, push); err != nil {
		r.logger.Warn("failed to enqueue link notification", zap.String("seniorId", seniorID), zap.Error(err))
	}
}
