package user

import (
	"context"
	"testing"
	"time"

	"github.com/astrodesk/sessiongate/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id string) error {
	r.ids = append(r.ids, id)
	return nil
}

func setupService(t *testing.T) (Service, Repository, *recordingInvalidator) {
	db := utils.SetupTestDB(t, &User{})
	repo := NewRepository(db)
	inv := &recordingInvalidator{}
	return NewService(repo, inv), repo, inv
}

func TestService_Register(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	u, created, err := svc.Register(ctx, RegisterRequest{
		SubjectID:   "firebase-uid-1",
		Email:       "leo@example.com",
		DisplayName: "Leo",
		Roles:       []string{"member", " ", "astrologer"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "firebase-uid-1", u.ID)
	assert.Equal(t, []string{"member", "astrologer"}, []string(u.Roles))

	again, created, err := svc.Register(ctx, RegisterRequest{SubjectID: "firebase-uid-1", Email: "other@example.com"})
	require.NoError(t, err)
	assert.False(t, created, "second registration keeps the existing entry")
	assert.Equal(t, "leo@example.com", again.Email)
	assert.True(t, again.HasRole("astrologer"))

	_, _, err = svc.Register(ctx, RegisterRequest{SubjectID: "  "})
	assert.ErrorIs(t, err, ErrSubjectRequired)
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_Mutations(t *testing.T) {
	svc, repo, inv := setupService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterRequest{SubjectID: "u-1"})
	require.NoError(t, err)

	require.NoError(t, svc.SetDisabled(ctx, "u-1", true))
	require.NoError(t, svc.SetRoles(ctx, "u-1", []string{"admin"}))

	stored, err := repo.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, stored.Disabled)
	assert.Equal(t, []string{"admin"}, []string(stored.Roles))
	assert.Equal(t, []string{"u-1", "u-1"}, inv.ids)

	assert.ErrorIs(t, svc.SetDisabled(ctx, "missing", true), ErrUserNotFound)
}

func TestService_RevokeTokens(t *testing.T) {
	db := utils.SetupTestDB(t, &User{})
	repo := NewRepository(db)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &service{repo: repo, now: func() time.Time { return fixed }}
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterRequest{SubjectID: "u-2"})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeTokens(ctx, "u-2"))

	stored, err := repo.GetByID(ctx, "u-2")
	require.NoError(t, err)
	require.NotNil(t, stored.TokensValidAfter)
	assert.True(t, stored.TokensValidAfter.Equal(fixed))

	assert.True(t, stored.IssuedBeforeRevocation(fixed.Add(-time.Minute)))
	assert.False(t, stored.IssuedBeforeRevocation(fixed))
	assert.False(t, stored.IssuedBeforeRevocation(fixed.Add(time.Minute)))
}

func TestUser_IssuedBeforeRevocation_NeverRevoked(t *testing.T) {
	u := &User{ID: "u-3"}
	assert.False(t, u.IssuedBeforeRevocation(time.Unix(0, 0)))
}
