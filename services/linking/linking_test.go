package linking

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []models.PushPayload
}

func (n *recordingNotifier) Enqueue(ctx context.Context, push models.PushPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, push)
	return nil
}

// flakyRepo fails ArrayUnion on one document.
type flakyRepo struct {
	userRepo.UserRepository
	failUnionOn string
}

func (f *flakyRepo) ArrayUnion(ctx context.Context, id, field string, values ...string) error {
	if id == f.failUnionOn {
		return errors.New("store unavailable")
	}
	return f.UserRepository.ArrayUnion(ctx, id, field, values...)
}

func seed(t *testing.T, repo userRepo.UserRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "sen-1", PhoneNumber: "+919000000001", Role: models.RoleSenior, Origin: models.OriginVerified,
		Name: "Asha", LinkingCode: "AB12CD",
	}))
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "fam-1", PhoneNumber: "+919000000002", Role: models.RoleFamily, Origin: models.OriginVerified, Name: "Ravi",
	}))
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "fam-2", PhoneNumber: "+919000000003", Role: models.RoleFamily, Origin: models.OriginVerified,
	}))
}

func TestGenerateUsesAlphabet(t *testing.T) {
	reg := NewRegistry(userRepo.NewMemoryUserRepo(), nil, zap.NewNop())
	for i := 0; i < 50; i++ {
		code, err := reg.Generate(context.Background())
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, c := range code {
			require.Contains(t, Alphabet, string(c))
		}
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "sen-1", PhoneNumber: "+919000000001", Role: models.RoleSenior, Origin: models.OriginVerified, LinkingCode: "AAAAAA",
	}))

	// First draw is AAAAAA (taken), second is BBBBBB.
	random := bytes.NewReader(append(make([]byte, CodeLength), bytes.Repeat([]byte{1}, CodeLength)...))
	reg := NewRegistry(repo, nil, zap.NewNop()).WithRandom(random)

	code, err := reg.Generate(ctx)
	require.NoError(t, err)
	require.Equal(t, "BBBBBB", code)
}

func TestGenerateGivesUp(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "sen-1", PhoneNumber: "+919000000001", Role: models.RoleSenior, Origin: models.OriginVerified, LinkingCode: "AAAAAA",
	}))
	reg := NewRegistry(repo, nil, zap.NewNop()).WithRandom(zeroReader{})

	_, err := reg.Generate(ctx)
	require.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestAssignedCodesAreUnique(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	reg := NewRegistry(repo, nil, zap.NewNop())

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := string(rune('a'+i)) + "-senior"
		require.NoError(t, repo.Create(ctx, &models.UserProfile{ID: id, Role: models.RoleSenior, Origin: models.OriginVerified}))
		code, err := reg.Assign(ctx, id)
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true

		holders, err := userRepo.FindByLinkingCode(ctx, repo, code)
		require.NoError(t, err)
		require.Len(t, holders, 1)
		require.NotNil(t, holders[0].LinkingCodeIssuedAt)
	}
}

func TestRedeemLinksBothSides(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	notifier := &recordingNotifier{}
	reg := NewRegistry(repo, notifier, zap.NewNop())

	senior, err := reg.Redeem(ctx, "AB12CD", "fam-1")
	require.NoError(t, err)
	require.Equal(t, "sen-1", senior.ID)
	require.Equal(t, []string{"fam-1"}, senior.LinkedFamilyIDs)

	fam, err := repo.GetByID(ctx, "fam-1")
	require.NoError(t, err)
	require.Equal(t, []string{"sen-1"}, fam.LinkedSeniorIDs)

	require.Len(t, notifier.pushes, 1)
	require.Equal(t, "sen-1", notifier.pushes[0].SubjectID)
	require.Equal(t, models.PushSeniorLinked, notifier.pushes[0].Type)
}

func TestRedeemIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	reg := NewRegistry(repo, nil, zap.NewNop())

	_, err := reg.Redeem(ctx, "AB12CD", "fam-1")
	require.NoError(t, err)
	_, err = reg.Redeem(ctx, "AB12CD", "fam-1")
	require.ErrorIs(t, err, utils.ErrAlreadyLinked)

	senior, err := repo.GetByID(ctx, "sen-1")
	require.NoError(t, err)
	require.Len(t, senior.LinkedFamilyIDs, 1)
	fam, err := repo.GetByID(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, fam.LinkedSeniorIDs, 1)
}

func TestRedeemIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()

	lowerRepo := userRepo.NewMemoryUserRepo()
	seed(t, lowerRepo)
	lower, err := NewRegistry(lowerRepo, nil, zap.NewNop()).Redeem(ctx, "ab12cd", "fam-1")
	require.NoError(t, err)

	upperRepo := userRepo.NewMemoryUserRepo()
	seed(t, upperRepo)
	upper, err := NewRegistry(upperRepo, nil, zap.NewNop()).Redeem(ctx, "AB12CD", "fam-1")
	require.NoError(t, err)

	require.Equal(t, upper.ID, lower.ID)
	require.Equal(t, upper.LinkedFamilyIDs, lower.LinkedFamilyIDs)

	_, err = NewRegistry(lowerRepo, nil, zap.NewNop()).Redeem(ctx, "  ab12cd ", "fam-2")
	require.NoError(t, err)
}

func TestRedeemNotFound(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	reg := NewRegistry(repo, nil, zap.NewNop())

	for _, code := range []string{"ZZZZZZ", "AB12C", "AB-12C", ""} {
		_, err := reg.Redeem(ctx, code, "fam-1")
		require.ErrorIs(t, err, utils.ErrNotFound, code)
	}
}

func TestRedeemUnboundedFamilies(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	reg := NewRegistry(repo, nil, zap.NewNop())

	_, err := reg.Redeem(ctx, "AB12CD", "fam-1")
	require.NoError(t, err)
	senior, err := reg.Redeem(ctx, "AB12CD", "fam-2")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"fam-1", "fam-2"}, senior.LinkedFamilyIDs)
}

func TestRedeemCompensatesFailedFamilyWrite(t *testing.T) {
	ctx := context.Background()
	mem := userRepo.NewMemoryUserRepo()
	seed(t, mem)
	reg := NewRegistry(&flakyRepo{UserRepository: mem, failUnionOn: "fam-1"}, nil, zap.NewNop())

	_, err := reg.Redeem(ctx, "AB12CD", "fam-1")
	require.ErrorIs(t, err, utils.ErrNetworkFailure)

	senior, err := mem.GetByID(ctx, "sen-1")
	require.NoError(t, err)
	require.Empty(t, senior.LinkedFamilyIDs)
}

func TestRedeemRepairsHalfEdge(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	require.NoError(t, repo.ArrayUnion(ctx, "sen-1", models.FieldLinkedFamilyIDs, "fam-1"))
	reg := NewRegistry(repo, nil, zap.NewNop())

	_, err := reg.Redeem(ctx, "AB12CD", "fam-1")
	require.NoError(t, err)

	fam, err := repo.GetByID(ctx, "fam-1")
	require.NoError(t, err)
	require.Equal(t, []string{"sen-1"}, fam.LinkedSeniorIDs)

	_, err = reg.Redeem(ctx, "AB12CD", "fam-1")
	require.ErrorIs(t, err, utils.ErrAlreadyLinked)
}

func TestRedeemRejectsNonFamily(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	reg := NewRegistry(repo, nil, zap.NewNop())

	_, err := reg.Redeem(ctx, "AB12CD", "sen-1")
	require.ErrorIs(t, err, utils.ErrRoleMismatch)
}

func TestRegenerateAndUnlink(t *testing.T) {
	ctx := context.Background()
	repo := userRepo.NewMemoryUserRepo()
	seed(t, repo)
	reg := NewRegistry(repo, nil, zap.NewNop())

	code, err := reg.Regenerate(ctx, "sen-1")
	require.NoError(t, err)
	require.NotEqual(t, "AB12CD", code)

	_, err = reg.Redeem(ctx, "AB12CD", "fam-1")
	require.ErrorIs(t, err, utils.ErrNotFound)
	_, err = reg.Redeem(ctx, code, "fam-1")
	require.NoError(t, err)

	require.NoError(t, reg.Unlink(ctx, "sen-1", "fam-1"))
	senior, err := repo.GetByID(ctx, "sen-1")
	require.NoError(t, err)
	require.Empty(t, senior.LinkedFamilyIDs)

	_, err = reg.Regenerate(ctx, "fam-1")
	require.ErrorIs(t, err, utils.ErrNotFound)
}
