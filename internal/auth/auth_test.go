package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sells-group/carrier-cli/internal/model"
	"github.com/sells-group/carrier-cli/internal/store"
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	s := NewService(st, WithCost(bcrypt.MinCost))
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, st
}

func TestRegister(t *testing.T) {
	t.Parallel()
	s, st := newService(t)
	ctx := context.Background()

	u, err := s.Register(ctx, "Dana", " Dana@Example.com ", "hunter22", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "dana@example.com", u.Email)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.Equal(t, model.PlanFree, u.Plan)
	assert.Equal(t, 100, u.DailyLimit)
	assert.NotEqual(t, "hunter22", u.PasswordHash)

	saved, err := st.GetUserByEmail(ctx, "dana@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, saved.ID)

	_, err = s.Register(ctx, "Dana 2", "DANA@example.com", "x", "")
	assert.ErrorIs(t, err, store.ErrDuplicateEmail)

	_, err = s.Register(ctx, "", "a@b.com", "x", "")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestLogin(t *testing.T) {
	t.Parallel()
	s, st := newService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "Dana", "dana@example.com", "hunter22", "10.0.0.1")
	require.NoError(t, err)

	_, err = s.Login(ctx, "dana@example.com", "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody@example.com", "hunter22", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	u, err := s.Login(ctx, "DANA@example.com", "hunter22", "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.Equal(t, "10.0.0.9", u.IPAddress)

	saved, err := st.GetUserByEmail(ctx, "dana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", saved.IPAddress)
	assert.Equal(t, 2026, saved.LastActive.Year())
}

func TestSeedAdmin(t *testing.T) {
	t.Parallel()
	s, st := newService(t)
	ctx := context.Background()

	created, err := s.SeedAdmin(ctx, "", "admin@example.com", "s3cret")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.SeedAdmin(ctx, "Other", "admin@example.com", "different")
	require.NoError(t, err)
	assert.False(t, created)

	admin, err := st.GetUserByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, model.PlanEnterprise, admin.Plan)
	assert.Equal(t, 100000, admin.DailyLimit)
	assert.Equal(t, "Administrator", admin.Name)

	u, err := s.Login(ctx, "admin@example.com", "s3cret", "127.0.0.1")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())

	assert.ErrorIs(t, st.DeleteUser(ctx, admin.ID), store.ErrAdminUndeletable)
}
