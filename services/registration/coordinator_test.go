package registration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/services/linking"
	"carelink/services/reconcile"
	"carelink/services/resolver"
	"carelink/services/session"
	"carelink/services/verification"
	"carelink/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	familyPhone = "+919800000001"
	seniorPhone = "+919800000002"
	deviceID    = "dev-1"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) Send(ctx context.Context, phone, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	fields := strings.Fields(body)
	s.codes[phone] = fields[len(fields)-1]
	return nil
}

func (s *captureSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

// brokenReplay makes step (f) fail.
type brokenReplay struct {
	session.Store
}

func (b brokenReplay) Replay(ctx context.Context, deviceID string, cred *session.Credential) (*models.SessionGrant, error) {
	return nil, utils.ErrReauthRequired
}

// failingDelete fails deletes of one profile.
type failingDelete struct {
	userRepo.UserRepository
	id string
}

func (f failingDelete) Delete(ctx context.Context, id string) error {
	if id == f.id {
		return errors.New("store unavailable")
	}
	return f.UserRepository.Delete(ctx, id)
}

// failingCapture fails like an unreachable KV store.
type failingCapture struct {
	session.Store
}

func (f failingCapture) Capture(ctx context.Context, deviceID string) (*session.Credential, error) {
	return nil, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

type harness struct {
	repo     *userRepo.MemoryUserRepo
	sessions *session.Manager
	sender   *captureSender
	coord    *Coordinator
}

type harnessOption func(repo userRepo.UserRepository, sessions session.Store) (userRepo.UserRepository, session.Store)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	mem := userRepo.NewMemoryUserRepo()
	kv := utils.NewMemoryKVStore()
	sessions := session.NewManager(kv, utils.NewSigner("test-secret"), logger, session.Options{
		SessionTTL: time.Hour, ReplayTTL: time.Minute,
	})

	var repo userRepo.UserRepository = mem
	var store session.Store = sessions
	for _, o := range opts {
		repo, store = o(repo, store)
	}

	sender := &captureSender{}
	gateway := verification.NewPhoneGateway(kv, sender, verification.DerivedIdentities{}, store, logger, verification.Options{
		DefaultCountryCode: "+91", ChallengeTTL: time.Minute, PerMinute: 10,
	})
	coord := NewCoordinator(
		repo, gateway, store,
		resolver.NewResolver(repo, logger),
		linking.NewRegistry(repo, nil, logger),
		reconcile.NewMigrator(repo, logger),
		nil, logger, Options{DefaultCountryCode: "+91"},
	)

	require.NoError(t, mem.Create(ctx, &models.UserProfile{
		ID: "fam-1", PhoneNumber: familyPhone, Role: models.RoleFamily, Origin: models.OriginVerified, Name: "Ravi",
	}))
	_, err := sessions.Establish(ctx, deviceID, models.VerifiedIdentity{SubjectID: "fam-1", PhoneNumber: familyPhone})
	require.NoError(t, err)

	return &harness{repo: mem, sessions: sessions, sender: sender, coord: coord}
}

func seniorSubject(t *testing.T) string {
	t.Helper()
	id, err := verification.DerivedIdentities{}.SubjectFor(context.Background(), seniorPhone)
	require.NoError(t, err)
	return id
}

func (h *harness) runToVerifying(t *testing.T, details models.SeniorDetails) *Workflow {
	t.Helper()
	ctx := context.Background()
	wf, err := h.coord.Start(ctx, "fam-1", deviceID)
	require.NoError(t, err)
	require.Equal(t, StateCollecting, wf.State)

	wf, err = h.coord.Submit(ctx, wf.ID, details)
	require.NoError(t, err)
	require.Equal(t, StateVerifying, wf.State)
	return wf
}

func TestScenarioNewSenior(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: "98000 00002", Name: "Asha"})
	wf, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, StateLinked, wf.State)
	require.False(t, wf.Result.ReauthRequired)
	require.NotNil(t, wf.Result.Grant)
	require.Len(t, wf.Result.LinkingCode, linking.CodeLength)

	seniorID := seniorSubject(t)
	require.Equal(t, seniorID, wf.Result.SeniorID)

	senior, err := h.repo.GetByID(ctx, seniorID)
	require.NoError(t, err)
	require.Equal(t, models.RoleSenior, senior.Role)
	require.Equal(t, models.OriginVerified, senior.Origin)
	require.Equal(t, "Asha", senior.Name)
	require.Equal(t, wf.Result.LinkingCode, senior.LinkingCode)
	require.Equal(t, []string{"fam-1"}, senior.LinkedFamilyIDs)

	family, err := h.repo.GetByID(ctx, "fam-1")
	require.NoError(t, err)
	require.Contains(t, family.LinkedSeniorIDs, seniorID)

	// The family member is back in the device slot with a fresh token.
	slot, err := h.sessions.Validate(ctx, wf.Result.Grant.Token, deviceID)
	require.NoError(t, err)
	require.Equal(t, "fam-1", slot.SubjectID)
}

func TestScenarioPreRecordReconciled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "adm_jane", PhoneNumber: seniorPhone, Role: models.RoleSenior, Origin: models.OriginAdmin,
		Name: "Jane Doe", CareManagerID: "cm-1",
	}))
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "cm-1", PhoneNumber: "+919800000009", Role: models.RoleCareManager, Origin: models.OriginVerified,
		AssignedSeniorIDs: []string{"adm_jane"},
	}))

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	wf, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, StateLinked, wf.State)

	seniorID := seniorSubject(t)
	senior, err := h.repo.GetByID(ctx, seniorID)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", senior.Name)
	require.Equal(t, "cm-1", senior.CareManagerID)

	gone, err := h.repo.GetByID(ctx, "adm_jane")
	require.NoError(t, err)
	require.Nil(t, gone)

	cm, err := h.repo.GetByID(ctx, "cm-1")
	require.NoError(t, err)
	require.Equal(t, []string{seniorID}, cm.AssignedSeniorIDs)
}

func TestScenarioReplayFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(repo userRepo.UserRepository, s session.Store) (userRepo.UserRepository, session.Store) {
		return repo, brokenReplay{Store: s}
	})

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone, Name: "Asha"})
	wf, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, StateLinkedPendingReauth, wf.State)
	require.True(t, wf.Result.ReauthRequired)
	require.Len(t, wf.Result.LinkingCode, linking.CodeLength)
	require.Nil(t, wf.Result.Grant)

	// The device is not left signed in as the senior.
	_, err = h.sessions.Current(ctx, deviceID)
	require.ErrorIs(t, err, utils.ErrUnauthorized)

	senior, err := h.repo.GetByID(ctx, seniorSubject(t))
	require.NoError(t, err)
	require.Equal(t, wf.Result.LinkingCode, senior.LinkingCode)
}

func TestReconciliationFailureIsUndone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(repo userRepo.UserRepository, s session.Store) (userRepo.UserRepository, session.Store) {
		return failingDelete{UserRepository: repo, id: "adm_jane"}, s
	})
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "adm_jane", PhoneNumber: seniorPhone, Role: models.RoleSenior, Origin: models.OriginAdmin, Name: "Jane Doe",
	}))
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "cm-1", PhoneNumber: "+919800000009", Role: models.RoleCareManager, Origin: models.OriginVerified,
		AssignedSeniorIDs: []string{"adm_jane"},
	}))

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	_, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.ErrorIs(t, err, utils.ErrRegistrationFailed)

	got, err := h.coord.Get(wf.ID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)

	senior, err := h.repo.GetByID(ctx, seniorSubject(t))
	require.NoError(t, err)
	require.Nil(t, senior)

	family, err := h.repo.GetByID(ctx, "fam-1")
	require.NoError(t, err)
	require.Empty(t, family.LinkedSeniorIDs)

	cm, err := h.repo.GetByID(ctx, "cm-1")
	require.NoError(t, err)
	require.Equal(t, []string{"adm_jane"}, cm.AssignedSeniorIDs)

	pre, err := h.repo.GetByID(ctx, "adm_jane")
	require.NoError(t, err)
	require.NotNil(t, pre)

	slot, err := h.sessions.Current(ctx, deviceID)
	require.NoError(t, err)
	require.Equal(t, "fam-1", slot.SubjectID)
}

func TestWrongCodeStaysVerifying(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	_, err := h.coord.Verify(ctx, wf.ID, "bad")
	require.ErrorIs(t, err, utils.ErrInvalidCode)

	got, err := h.coord.Get(wf.ID)
	require.NoError(t, err)
	require.Equal(t, StateVerifying, got.State)

	// The family member is still signed in.
	slot, err := h.sessions.Current(ctx, deviceID)
	require.NoError(t, err)
	require.Equal(t, "fam-1", slot.SubjectID)

	got, err = h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, StateLinked, got.State)
}

func TestResendIssuesNewChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	resent, err := h.coord.Resend(ctx, wf.ID)
	require.NoError(t, err)
	require.NotEqual(t, wf.ChallengeID, resent.ChallengeID)

	got, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, StateLinked, got.State)
}

func TestSubmitRejectsNonSeniorPhone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf, err := h.coord.Start(ctx, "fam-1", deviceID)
	require.NoError(t, err)
	_, err = h.coord.Submit(ctx, wf.ID, models.SeniorDetails{PhoneNumber: familyPhone})
	require.ErrorIs(t, err, utils.ErrRoleMismatch)

	_, err = h.coord.Submit(ctx, wf.ID, models.SeniorDetails{PhoneNumber: "abc"})
	require.ErrorIs(t, err, utils.ErrInvalidPhoneNumber)

	got, err := h.coord.Get(wf.ID)
	require.NoError(t, err)
	require.Equal(t, StateCollecting, got.State)
}

func TestStartRequiresAmbientFamilySession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.coord.Start(ctx, "fam-1", "other-device")
	require.ErrorIs(t, err, utils.ErrUnauthorized)

	_, err = h.coord.Start(ctx, "someone-else", deviceID)
	require.ErrorIs(t, err, utils.ErrUnauthorized)
}

func TestExistingSeniorKeepsCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	seniorID := seniorSubject(t)
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: seniorID, PhoneNumber: seniorPhone, Role: models.RoleSenior, Origin: models.OriginVerified,
		Name: "Asha", LinkingCode: "KEEP22", LinkedFamilyIDs: []string{"fam-0"},
	}))

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone, Name: "Other"})
	wf, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, "KEEP22", wf.Result.LinkingCode)

	senior, err := h.repo.GetByID(ctx, seniorID)
	require.NoError(t, err)
	require.Equal(t, "Asha", senior.Name)
	require.ElementsMatch(t, []string{"fam-0", "fam-1"}, senior.LinkedFamilyIDs)
}

func TestAbandonAndSweep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	verifying := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	collecting, err := h.coord.Start(ctx, "fam-1", deviceID)
	require.NoError(t, err)
	abandoned, err := h.coord.Start(ctx, "fam-1", deviceID)
	require.NoError(t, err)

	got, err := h.coord.Abandon(abandoned.ID)
	require.NoError(t, err)
	require.Equal(t, StateAbandoned, got.State)
	_, err = h.coord.Submit(ctx, abandoned.ID, models.SeniorDetails{PhoneNumber: seniorPhone})
	require.ErrorIs(t, err, utils.ErrWorkflowState)
	require.Equal(t, "workflow_inactive", utils.ErrorCode(err))
	require.NotContains(t, utils.UserMessage(err), "phone number")

	removed := h.coord.Sweep(-time.Minute)
	require.Equal(t, 2, removed)

	_, err = h.coord.Get(verifying.ID)
	require.NoError(t, err)
	_, err = h.coord.Get(collecting.ID)
	require.ErrorIs(t, err, utils.ErrNotFound)
	_, err = h.coord.Get(abandoned.ID)
	require.ErrorIs(t, err, utils.ErrNotFound)
}

func TestRegistrationAdoptsEarlierVerifiedSenior(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "old-senior", PhoneNumber: seniorPhone, Role: models.RoleSenior, Origin: models.OriginVerified,
		Name: "Asha", LinkingCode: "OLD222", LinkedFamilyIDs: []string{"fam-0"},
	}))
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "fam-0", PhoneNumber: "+919800000007", Role: models.RoleFamily, Origin: models.OriginVerified,
		LinkedSeniorIDs: []string{"old-senior"},
	}))

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	wf, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, StateLinked, wf.State)
	require.Equal(t, "OLD222", wf.Result.LinkingCode)

	seniorID := seniorSubject(t)
	profiles, err := userRepo.FindByPhone(ctx, h.repo, seniorPhone)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.Equal(t, seniorID, profiles[0].ID)
	require.Equal(t, "Asha", profiles[0].Name)
	require.ElementsMatch(t, []string{"fam-0", "fam-1"}, profiles[0].LinkedFamilyIDs)

	earlier, err := h.repo.GetByID(ctx, "fam-0")
	require.NoError(t, err)
	require.Equal(t, []string{seniorID}, earlier.LinkedSeniorIDs)

	holders, err := userRepo.FindByLinkingCode(ctx, h.repo, "OLD222")
	require.NoError(t, err)
	require.Len(t, holders, 1)
	require.Equal(t, seniorID, holders[0].ID)
}

func TestPreRecordCodeCarriedOver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "adm_jane", PhoneNumber: seniorPhone, Role: models.RoleSenior, Origin: models.OriginAdmin,
		Name: "Jane Doe", LinkingCode: "ADM222",
	}))

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	wf, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.NoError(t, err)
	require.Equal(t, "ADM222", wf.Result.LinkingCode)

	holders, err := userRepo.FindByLinkingCode(ctx, h.repo, "ADM222")
	require.NoError(t, err)
	require.Len(t, holders, 1)
	require.Equal(t, seniorSubject(t), holders[0].ID)
}

func TestFailedReconciliationReturnsPreRecordCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(repo userRepo.UserRepository, s session.Store) (userRepo.UserRepository, session.Store) {
		return failingDelete{UserRepository: repo, id: "adm_jane"}, s
	})
	require.NoError(t, h.repo.Create(ctx, &models.UserProfile{
		ID: "adm_jane", PhoneNumber: seniorPhone, Role: models.RoleSenior, Origin: models.OriginAdmin,
		Name: "Jane Doe", LinkingCode: "ADM222",
	}))

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	_, err := h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.ErrorIs(t, err, utils.ErrRegistrationFailed)

	holders, err := userRepo.FindByLinkingCode(ctx, h.repo, "ADM222")
	require.NoError(t, err)
	require.Len(t, holders, 1)
	require.Equal(t, "adm_jane", holders[0].ID)

	senior, err := h.repo.GetByID(ctx, seniorSubject(t))
	require.NoError(t, err)
	require.Nil(t, senior)
}

func TestStoreFailureIsNetworkFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(repo userRepo.UserRepository, s session.Store) (userRepo.UserRepository, session.Store) {
		return repo, failingCapture{Store: s}
	})

	wf, err := h.coord.Start(ctx, "fam-1", deviceID)
	require.NoError(t, err)
	_, err = h.coord.Submit(ctx, wf.ID, models.SeniorDetails{PhoneNumber: seniorPhone})
	require.ErrorIs(t, err, utils.ErrNetworkFailure)
	require.Equal(t, "network_failure", utils.ErrorCode(err))

	got, err := h.coord.Get(wf.ID)
	require.NoError(t, err)
	require.Equal(t, StateCollecting, got.State)
}

func TestBusyWorkflowReportsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})
	claimed, err := h.coord.claim(wf.ID, StateVerifying)
	require.NoError(t, err)

	_, err = h.coord.Verify(ctx, wf.ID, h.sender.code(seniorPhone))
	require.ErrorIs(t, err, utils.ErrWorkflowState)
	_, err = h.coord.Abandon(wf.ID)
	require.ErrorIs(t, err, utils.ErrWorkflowState)

	h.coord.release(claimed)
	_, err = h.coord.Abandon(wf.ID)
	require.NoError(t, err)
}

func TestSweepForgetsStaleVerifying(t *testing.T) {
	h := newHarness(t)
	wf := h.runToVerifying(t, models.SeniorDetails{PhoneNumber: seniorPhone})

	require.Zero(t, h.coord.Sweep(-time.Minute))

	h.coord.mu.Lock()
	h.coord.workflows[wf.ID].pending.credential.ExpiresAt = time.Now().Add(-time.Second)
	h.coord.mu.Unlock()

	require.Equal(t, 1, h.coord.Sweep(-time.Minute))
	_, err := h.coord.Get(wf.ID)
	require.ErrorIs(t, err, utils.ErrNotFound)
}
