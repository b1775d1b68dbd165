package resolver

import (
	"context"
	"testing"

	userRepo "carelink/database/repository/user"
	"carelink/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rolePtr(r models.Role) *models.Role { return &r }

func newTestResolver(t *testing.T) (*Resolver, *userRepo.MemoryUserRepo) {
	t.Helper()
	repo := userRepo.NewMemoryUserRepo()
	return NewResolver(repo, zap.NewNop()), repo
}

func TestResolveNotFoundThenFound(t *testing.T) {
	ctx := context.Background()
	r, repo := newTestResolver(t)

	res, err := r.Resolve(ctx, "+910000000000", nil)
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Outcome)
	require.Nil(t, res.Profile)

	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "fam-1", PhoneNumber: "+910000000000", Role: models.RoleFamily, Origin: models.OriginVerified,
	}))

	res, err = r.Resolve(ctx, "+910000000000", rolePtr(models.RoleFamily))
	require.NoError(t, err)
	require.Equal(t, Found, res.Outcome)
	require.Equal(t, "fam-1", res.Profile.ID)
}

func TestResolveRoleMismatchNeverFound(t *testing.T) {
	ctx := context.Background()
	r, repo := newTestResolver(t)

	phones := map[models.Role]string{
		models.RoleSenior:      "+919000000001",
		models.RoleFamily:      "+919000000002",
		models.RoleCareManager: "+919000000003",
	}
	for role, phone := range phones {
		require.NoError(t, repo.Create(ctx, &models.UserProfile{
			ID: string(role) + "-id", PhoneNumber: phone, Role: role, Origin: models.OriginVerified,
		}))
	}

	all := []models.Role{models.RoleSenior, models.RoleFamily, models.RoleCareManager}
	for stored, phone := range phones {
		for _, expected := range all {
			res, err := r.Resolve(ctx, phone, rolePtr(expected))
			require.NoError(t, err)
			if expected == stored {
				require.Equal(t, Found, res.Outcome)
				continue
			}
			require.Equal(t, RoleMismatch, res.Outcome, "stored %s expected %s", stored, expected)
			require.Nil(t, res.Profile)
		}
	}
}

func TestResolvePrefersVerifiedProfile(t *testing.T) {
	ctx := context.Background()
	r, repo := newTestResolver(t)

	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "adm_1", PhoneNumber: "+919111111111", Role: models.RoleSenior, Origin: models.OriginAdmin, Name: "Jane Doe",
	}))
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "sub-1", PhoneNumber: "+919111111111", Role: models.RoleSenior, Origin: models.OriginVerified,
	}))

	res, err := r.Resolve(ctx, "+919111111111", rolePtr(models.RoleSenior))
	require.NoError(t, err)
	require.Equal(t, Found, res.Outcome)
	require.Equal(t, "sub-1", res.Profile.ID)
}

func TestFindPreRecord(t *testing.T) {
	ctx := context.Background()
	r, repo := newTestResolver(t)

	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "adm_cm", PhoneNumber: "+919222222222", Role: models.RoleCareManager, Origin: models.OriginAdmin,
	}))

	p, err := r.FindPreRecord(ctx, "+919222222222", models.RoleCareManager, "verified-cm")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "adm_cm", p.ID)

	p, err = r.FindPreRecord(ctx, "+919222222222", models.RoleSenior, "verified-cm")
	require.NoError(t, err)
	require.Nil(t, p)

	// A record already keyed by the verified subject is not a pending pre-record.
	p, err = r.FindPreRecord(ctx, "+919222222222", models.RoleCareManager, "adm_cm")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestResolveVerified(t *testing.T) {
	ctx := context.Background()
	r, repo := newTestResolver(t)

	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "sub-fam", PhoneNumber: "+919333333333", Role: models.RoleFamily, Origin: models.OriginVerified,
	}))
	require.NoError(t, repo.Create(ctx, &models.UserProfile{
		ID: "adm_cm", PhoneNumber: "+919444444444", Role: models.RoleCareManager, Origin: models.OriginAdmin,
	}))

	res, err := r.ResolveVerified(ctx, models.VerifiedIdentity{SubjectID: "sub-fam", PhoneNumber: "+919333333333"}, rolePtr(models.RoleFamily))
	require.NoError(t, err)
	require.Equal(t, Found, res.Outcome)

	res, err = r.ResolveVerified(ctx, models.VerifiedIdentity{SubjectID: "sub-fam", PhoneNumber: "+919333333333"}, rolePtr(models.RoleSenior))
	require.NoError(t, err)
	require.Equal(t, RoleMismatch, res.Outcome)

	res, err = r.ResolveVerified(ctx, models.VerifiedIdentity{SubjectID: "sub-cm", PhoneNumber: "+919444444444"}, rolePtr(models.RoleCareManager))
	require.NoError(t, err)
	require.Equal(t, Found, res.Outcome)
	require.Equal(t, "adm_cm", res.Profile.ID)

	res, err = r.ResolveVerified(ctx, models.VerifiedIdentity{SubjectID: "sub-new", PhoneNumber: "+919555555555"}, nil)
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Outcome)
}
