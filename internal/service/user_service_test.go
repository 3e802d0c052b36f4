package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
)

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.users.CreateUser(ctx, &models.CreateUserRequest{
		Name:     " Bob ",
		Email:    " Bob@Example.COM ",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bob", u.Name)
	assert.Equal(t, "bob@example.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.NotEqual(t, "secret1", u.Password)
	assert.True(t, auth.CheckPassword(u.Password, "secret1"))

	tests := []struct {
		name string
		req  models.CreateUserRequest
		want string
	}{
		{"missing name", models.CreateUserRequest{Email: "x@example.com", Password: "secret1"}, "Please provide all required fields"},
		{"missing password", models.CreateUserRequest{Name: "X", Email: "x@example.com"}, "Please provide all required fields"},
		{"short password", models.CreateUserRequest{Name: "X", Email: "x@example.com", Password: "12345"}, "Password must be at least 6 characters"},
		{"duplicate email", models.CreateUserRequest{Name: "X", Email: "BOB@example.com", Password: "secret1"}, "User already exists"},
		{"bad email", models.CreateUserRequest{Name: "X", Email: "not-an-email", Password: "secret1"}, "Invalid user data"},
		{"bad role", models.CreateUserRequest{Name: "X", Email: "x@example.com", Password: "secret1", Role: "root"}, "Invalid user data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.users.CreateUser(ctx, &tt.req)
			verr, ok := apperrors.IsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, tt.want, verr.Message)
		})
	}
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := f.seedUser(t, "Bob", "bob@example.com", models.RoleUser)

	role := models.RoleAdmin
	name := "Robert"
	updated, err := f.users.UpdateUser(ctx, bob.ID.Hex(), &models.UpdateUserRequest{Name: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "Robert", updated.Name)
	assert.Equal(t, models.RoleAdmin, updated.Role)
	assert.Equal(t, "bob@example.com", updated.Email)

	short := "123"
	_, err = f.users.UpdateUser(ctx, bob.ID.Hex(), &models.UpdateUserRequest{Password: &short})
	assert.Equal(t, errShortPassword, err)

	taken := "jane@example.com"
	_, err = f.users.UpdateUser(ctx, bob.ID.Hex(), &models.UpdateUserRequest{Email: &taken})
	assert.Equal(t, errUserExists, err)

	password := "newsecret"
	_, err = f.users.UpdateUser(ctx, bob.ID.Hex(), &models.UpdateUserRequest{Password: &password})
	require.NoError(t, err)
	stored, err := f.store.Users().GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(stored.Password, "newsecret"))

	_, err = f.users.UpdateUser(ctx, "missing", &models.UpdateUserRequest{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := f.seedUser(t, "Bob", "bob@example.com", models.RoleUser)

	err := f.users.DeleteUser(ctx, f.admin, f.admin.UserID.Hex())
	assert.Equal(t, errDeleteSelf, err)
	_, err = f.users.GetUser(ctx, f.admin.UserID.Hex())
	require.NoError(t, err)

	require.NoError(t, f.users.DeleteUser(ctx, f.admin, bob.ID.Hex()))
	_, err = f.users.GetUser(ctx, bob.ID.Hex())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.ErrorIs(t, f.users.DeleteUser(ctx, f.admin, bob.ID.Hex()), apperrors.ErrNotFound)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedUser(t, "Janet", "janet@example.com", models.RoleUser)
	f.seedUser(t, "Bob", "bob@janeway.io", models.RoleAdmin)

	page, err := f.users.ListUsers(ctx, params{"search": "JANE"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	page, err = f.users.ListUsers(ctx, params{"search": "jane", "role": "admin"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, "Bob", page.Items[0].Name)

	page, err = f.users.ListUsers(ctx, params{"pageSize": "2"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.Len(t, page.Items, 2)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := &models.User{
		Name:      "Old",
		Email:     "old@example.com",
		Role:      models.RoleUser,
		CreatedAt: time.Now().AddDate(0, -3, 0),
	}
	require.NoError(t, f.store.Users().Create(ctx, old))

	stats, err := f.users.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.UserStats{
		TotalUsers:     3,
		TotalAdmins:    1,
		TotalCustomers: 2,
		RecentUsers:    2,
	}, *stats)
}
