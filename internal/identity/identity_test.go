package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"youth-mis/internal/apperr"
	"youth-mis/internal/auth"
	"youth-mis/internal/model"
	"youth-mis/internal/store"
)

func newService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewService(mem, auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}), mem
}

func TestSignUpSignInAuthenticate(t *testing.T) {
	ctx := context.Background()
	s, mem := newService(t)

	grant, err := s.SignUp(ctx, " Ada@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", grant.Identity.Email)
	assert.NotEmpty(t, grant.AccessToken)
	assert.True(t, grant.ExpiresAt.After(grant.IssuedAt))

	caller, err := s.Authenticate(ctx, grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, grant.Identity.ID, caller.UserID)
	assert.Equal(t, model.Role(""), caller.Role, "no profile yet")

	_, err = mem.Insert(ctx, model.TableProfiles, model.Row{"id": grant.Identity.ID, "role": "staff"})
	require.NoError(t, err)
	caller, err = s.Authenticate(ctx, grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, caller.Role, "role is read from the profile on every request")

	signedIn, err := s.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, grant.Identity.ID, signedIn.Identity.ID)
}

func TestSignUpErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.SignUp(ctx, "not-an-email", "correct horse")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, "email", apperr.FieldOf(err))

	_, err = s.SignUp(ctx, "ada@example.com", "short")
	assert.Equal(t, "password", apperr.FieldOf(err))

	_, err = s.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, err = s.SignUp(ctx, "ADA@example.com", "another password")
	assert.ErrorIs(t, err, apperr.Conflict)
}

func TestSignInBadCredentials(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	_, err := s.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, err = s.SignIn(ctx, "ada@example.com", "wrong horse!")
	assert.ErrorIs(t, err, apperr.Auth)
	_, err = s.SignIn(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, apperr.Auth)
}

func TestSignOutRevokesToken(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	grant, err := s.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	require.NoError(t, s.SignOut(ctx, grant.AccessToken))
	require.NoError(t, s.SignOut(ctx, grant.AccessToken), "second sign-out is a no-op")
	require.NoError(t, s.SignOut(ctx, "garbage"))

	_, err = s.Authenticate(ctx, grant.AccessToken)
	assert.ErrorIs(t, err, apperr.Auth)

	other, err := s.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, other.AccessToken)
	assert.NoError(t, err, "other sessions stay valid")
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	id, created, err := s.Upsert(ctx, "root@example.com", "first password")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.Upsert(ctx, "root@example.com", "second password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id.ID, again.ID)

	_, err = s.SignIn(ctx, "root@example.com", "second password")
	assert.NoError(t, err)
	_, err = s.SignIn(ctx, "root@example.com", "first password")
	assert.Error(t, err)
}

func TestUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	grant, err := s.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	got, err := s.User(ctx, grant.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	_, err = s.User(ctx, "missing")
	assert.ErrorIs(t, err, apperr.Auth)
}
