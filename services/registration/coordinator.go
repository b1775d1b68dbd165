package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/services/linking"
	"carelink/services/reconcile"
	"carelink/services/resolver"
	"carelink/services/session"
	"carelink/services/verification"
	"carelink/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier receives best-effort pushes about completed registrations.
type Notifier interface {
	Enqueue(ctx context.Context, push models.PushPayload) error
}

type Options struct {
	DefaultCountryCode string
}

// Coordinator runs the "family registers senior" workflow. Workflows are held in
// memory by the instance that created them and are lost on restart.
type Coordinator struct {
	mu        sync.Mutex
	workflows map[string]*Workflow

	repo     userRepo.UserRepository
	gateway  verification.Gateway
	sessions session.Store
	resolver *resolver.Resolver
	registry *linking.Registry
	migrator *reconcile.Migrator
	notifier Notifier
	opts     Options
	logger   *zap.Logger
}

func NewCoordinator(
	repo userRepo.UserRepository,
	gateway verification.Gateway,
	sessions session.Store,
	res *resolver.Resolver,
	registry *linking.Registry,
	migrator *reconcile.Migrator,
	notifier Notifier,
	logger *zap.Logger,
	opts Options,
) *Coordinator {
	return &Coordinator{
		workflows: make(map[string]*Workflow),
		repo:      repo,
		gateway:   gateway,
		sessions:  sessions,
		resolver:  res,
		registry:  registry,
		migrator:  migrator,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

// Start opens a workflow for the family member whose session occupies deviceID.
func (c *Coordinator) Start(ctx context.Context, familyID, deviceID string) (*Workflow, error) {
	if err := c.requireAmbient(ctx, familyID, deviceID); err != nil {
		return nil, err
	}
	family, err := c.repo.GetByID(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	if family == nil {
		return nil, fmt.Errorf("%w: family profile %s", utils.ErrNotFound, familyID)
	}
	if family.Role != models.RoleFamily {
		return nil, fmt.Errorf("%w: only family members register seniors", utils.ErrRoleMismatch)
	}

	now := time.Now()
	wf := &Workflow{
		ID:        uuid.NewString(),
		FamilyID:  familyID,
		DeviceID:  deviceID,
		State:     StateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.workflows[wf.ID] = wf
	c.mu.Unlock()

	c.logger.Info("registration started", zap.String("workflowId", wf.ID), zap.String("familyId", familyID))
	return wf.snapshot(), nil
}

// Submit checks the senior's phone, captures the family credential and starts the
// senior's phone challenge.
func (c *Coordinator) Submit(ctx context.Context, workflowID string, details models.SeniorDetails) (*Workflow, error) {
	wf, err := c.claim(workflowID, StateCollecting, StateFailed)
	if err != nil {
		return nil, err
	}
	defer c.release(wf)

	phone, err := verification.NormalizePhone(details.PhoneNumber, c.opts.DefaultCountryCode)
	if err != nil {
		return nil, err
	}
	details.PhoneNumber = phone

	seniorRole := models.RoleSenior
	res, err := c.resolver.Resolve(ctx, phone, &seniorRole)
	if err != nil {
		return nil, utils.AsNetworkFailure(err)
	}
	if res.Outcome == resolver.RoleMismatch {
		return nil, fmt.Errorf("%w: %s belongs to another account type", utils.ErrRoleMismatch, phone)
	}

	// The family credential must be captured before the senior's challenge can
	// complete and evict it.
	if err := c.requireAmbient(ctx, wf.FamilyID, wf.DeviceID); err != nil {
		return nil, err
	}
	cred, err := c.sessions.Capture(ctx, wf.DeviceID)
	if err != nil {
		return nil, utils.AsNetworkFailure(err)
	}
	handle, err := c.gateway.BeginVerification(ctx, wf.DeviceID, phone)
	if err != nil {
		return nil, utils.AsNetworkFailure(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	wf.Senior = details
	wf.ChallengeID = handle.ID
	wf.Result = nil
	wf.LastError = ""
	wf.pending = &pendingVerification{credential: cred, handle: handle, details: details}
	wf.transition(StateVerifying)
	c.logger.Info("senior verification started", zap.String("workflowId", wf.ID))
	return wf.snapshot(), nil
}

// Resend issues a new challenge for the senior's phone.
func (c *Coordinator) Resend(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := c.claim(workflowID, StateVerifying)
	if err != nil {
		return nil, err
	}
	defer c.release(wf)

	handle, err := c.gateway.BeginVerification(ctx, wf.DeviceID, wf.pending.details.PhoneNumber)
	if err != nil {
		return nil, utils.AsNetworkFailure(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	wf.pending.handle = handle
	wf.ChallengeID = handle.ID
	wf.UpdatedAt = time.Now()
	return wf.snapshot(), nil
}

// Verify completes the senior's challenge and reconciles. Gateway errors leave the
// workflow in Verifying so the code can be re-entered.
func (c *Coordinator) Verify(ctx context.Context, workflowID, code string) (*Workflow, error) {
	wf, err := c.claim(workflowID, StateVerifying)
	if err != nil {
		return nil, err
	}
	defer c.release(wf)
	pending := wf.pending

	verified, err := c.gateway.CompleteVerification(ctx, pending.handle.ID, code)
	if err != nil {
		return nil, utils.AsNetworkFailure(err)
	}

	c.mu.Lock()
	wf.transition(StateReconciling)
	c.mu.Unlock()

	// Past this point the senior owns the device slot; reconciliation must run to
	// completion or be undone even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	result, err := c.reconcile(ctx, wf, pending, verified.VerifiedIdentity)
	if err != nil {
		c.restoreAfterFailure(ctx, wf, pending)
		c.mu.Lock()
		wf.pending = nil
		wf.LastError = utils.ErrorCode(utils.ErrRegistrationFailed)
		wf.transition(StateFailed)
		c.mu.Unlock()
		c.logger.Error("registration failed", zap.String("workflowId", wf.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", utils.ErrRegistrationFailed, err)
	}

	state := StateLinked
	grant, err := c.sessions.Replay(ctx, wf.DeviceID, pending.credential)
	if err != nil {
		c.logger.Warn("family session not restored", zap.String("workflowId", wf.ID), zap.Error(err))
		if clearErr := c.sessions.Clear(ctx, wf.DeviceID); clearErr != nil {
			c.logger.Error("failed to clear device session", zap.String("workflowId", wf.ID), zap.Error(clearErr))
		}
		result.ReauthRequired = true
		state = StateLinkedPendingReauth
	} else {
		result.Grant = grant
	}

	c.mu.Lock()
	wf.pending = nil
	wf.Result = result
	wf.transition(state)
	snap := wf.snapshot()
	c.mu.Unlock()

	c.logger.Info("registration finished",
		zap.String("workflowId", wf.ID), zap.String("state", string(state)), zap.String("seniorId", result.SeniorID))
	return snap, nil
}

// Abandon drops the workflow's pending state. No external calls are made; an
// outstanding challenge simply expires.
func (c *Coordinator) Abandon(workflowID string) (*Workflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wf, ok := c.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", utils.ErrNotFound, workflowID)
	}
	if wf.busy || wf.State == StateReconciling {
		return nil, fmt.Errorf("%w: workflow is being processed", utils.ErrWorkflowState)
	}
	switch wf.State {
	case StateCollecting, StateVerifying, StateFailed:
		wf.pending = nil
		wf.transition(StateAbandoned)
	case StateLinked, StateLinkedPendingReauth, StateAbandoned, StateReconciling:
	}
	return wf.snapshot(), nil
}

// Get returns a snapshot of the workflow.
func (c *Coordinator) Get(workflowID string) (*Workflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wf, ok := c.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", utils.ErrNotFound, workflowID)
	}
	return wf.snapshot(), nil
}

// Sweep forgets workflows idle for longer than olderThan. A workflow awaiting the
// senior's code is only forgotten once its captured family credential has expired,
// since it can no longer finish cleanly. Workflows mid-reconciliation are kept.
func (c *Coordinator) Sweep(olderThan time.Duration) int {
	now := time.Now()
	cutoff := now.Add(-olderThan)
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, wf := range c.workflows {
		if wf.busy || wf.State == StateReconciling {
			continue
		}
		if wf.State == StateVerifying && wf.pending != nil && wf.pending.credential != nil &&
			now.Before(wf.pending.credential.ExpiresAt) {
			continue
		}
		if wf.UpdatedAt.Before(cutoff) {
			delete(c.workflows, id)
			removed++
		}
	}
	return removed
}

// claim marks the workflow busy if it is in one of the allowed states.
func (c *Coordinator) claim(workflowID string, allowed ...State) (*Workflow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wf, ok := c.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", utils.ErrNotFound, workflowID)
	}
	if wf.busy {
		return nil, fmt.Errorf("%w: workflow is being processed", utils.ErrWorkflowState)
	}
	for _, s := range allowed {
		if wf.State == s {
			wf.busy = true
			return wf, nil
		}
	}
	return nil, fmt.Errorf("%w: workflow is %s", utils.ErrWorkflowState, wf.State)
}

func (c *Coordinator) release(wf *Workflow) {
	c.mu.Lock()
	wf.busy = false
	c.mu.Unlock()
}

func (c *Coordinator) requireAmbient(ctx context.Context, familyID, deviceID string) error {
	cur, err := c.sessions.Current(ctx, deviceID)
	if err != nil {
		return utils.AsNetworkFailure(err)
	}
	if cur.SubjectID != familyID {
		return fmt.Errorf("%w: device is signed in as another account", utils.ErrUnauthorized)
	}
	return nil
}

// restoreAfterFailure puts the family member back on the device after an aborted
// reconciliation, or signs the device out rather than leave the senior signed in.
func (c *Coordinator) restoreAfterFailure(ctx context.Context, wf *Workflow, pending *pendingVerification) {
	if _, err := c.sessions.Replay(ctx, wf.DeviceID, pending.credential); err == nil {
		return
	}
	if err := c.sessions.Clear(ctx, wf.DeviceID); err != nil {
		c.logger.Error("failed to clear device session", zap.String("workflowId", wf.ID), zap.Error(err))
	}
}

func (c *Coordinator) notifyCareManager(ctx context.Context, senior *models.UserProfile) {
	if c.notifier == nil || senior.CareManagerID == "" {
		return
	}
	name := senior.Name
	if name == "" {
		name = senior.PhoneNumber
	}
	err := c.notifier.Enqueue(ctx, models.PushPayload{
		SubjectID: senior.CareManagerID,
		Type:      models.PushSeniorRegistered,
		Title:     "Senior registered",
		Body:      fmt.Sprintf("%s has completed CareLink registration.", name),
		Data:      map[string]string{"seniorId": senior.ID},
	})
	if err != nil {
		c.logger.Warn("failed to enqueue registration notification", zap.String("seniorId", senior.ID), zap.Error(err))
	}
}

var errRoleConflict = errors.New("verified subject already holds a non-senior profile")
