package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pta-hub/dues-engine/auth"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	a := auth.NewPasswordAuthenticator(auth.NewMemoryUserStore()).WithCost(bcrypt.MinCost)
	ctx := context.Background()

	u, err := a.Register(ctx, auth.RegisterInput{Email: " Jane@School.org ", Name: "Jane", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "jane@school.org", u.Email)
	assert.Equal(t, auth.RoleParent, u.Role)
	assert.NotEqual(t, "correct-horse", u.PasswordHash)

	got, err := a.Authenticate(ctx, "JANE@school.org", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = a.Authenticate(ctx, "jane@school.org", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, "nobody@school.org", "correct-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRegister_Rejections(t *testing.T) {
	a := auth.NewPasswordAuthenticator(auth.NewMemoryUserStore()).WithCost(bcrypt.MinCost)
	ctx := context.Background()

	_, err := a.Register(ctx, auth.RegisterInput{Email: "a@b.c", Password: "short"})
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	_, err = a.Register(ctx, auth.RegisterInput{Email: "a@b.c", Password: "long-enough"})
	require.NoError(t, err)
	_, err = a.Register(ctx, auth.RegisterInput{Email: "A@B.C", Password: "long-enough"})
	assert.ErrorIs(t, err, auth.ErrEmailExists)

	_, err = a.Register(ctx, auth.RegisterInput{Email: "x@b.c", Password: "long-enough", Role: "ROOT"})
	assert.Error(t, err)
}

func TestJWT_RoundTrip(t *testing.T) {
	m := auth.NewJWTManager("test-secret", time.Hour)
	user := &auth.User{ID: "u-1", Email: "admin@school.org", Role: auth.RoleAdmin}

	token, err := m.Generate(user)
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestJWT_Rejections(t *testing.T) {
	m := auth.NewJWTManager("test-secret", time.Hour)
	user := &auth.User{ID: "u-1", Email: "p@school.org", Role: auth.RoleParent}
	token, err := m.Generate(user)
	require.NoError(t, err)

	other := auth.NewJWTManager("other-secret", time.Hour)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = m.Validate("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	expired := auth.NewJWTManager("test-secret", -time.Minute)
	stale, err := expired.Generate(user)
	require.NoError(t, err)
	_, err = m.Validate(stale)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestMemoryUserStore_ListUsersByRole(t *testing.T) {
	s := auth.NewMemoryUserStore()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, auth.User{ID: "2", Email: "b@x.org", Name: "Bob", Role: auth.RoleParent}))
	require.NoError(t, s.CreateUser(ctx, auth.User{ID: "1", Email: "a@x.org", Name: "Alice", Role: auth.RoleParent}))
	require.NoError(t, s.CreateUser(ctx, auth.User{ID: "3", Email: "t@x.org", Name: "Treasurer", Role: auth.RoleAdmin}))
	assert.ErrorIs(t, s.CreateUser(ctx, auth.User{ID: "4", Email: "a@x.org"}), auth.ErrEmailExists)

	parent := auth.RoleParent
	parents, err := s.ListUsers(ctx, &parent)
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.Equal(t, "Alice", parents[0].Name)

	all, err := s.ListUsers(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
