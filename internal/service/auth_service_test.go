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

func newAuthService(f *fixture) (*AuthService, *auth.TokenManager) {
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	return NewAuthService(f.users, tokens), tokens
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc, tokens := newAuthService(f)

	resp, err := svc.Register(ctx, &models.CreateUserRequest{
		Name:     "Sam",
		Email:    "Sam@Example.com",
		Password: "secret1",
		Role:     models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, resp.Role)
	assert.Equal(t, "sam@example.com", resp.Email)

	id, err := tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, id)

	_, err = svc.Register(ctx, &models.CreateUserRequest{Name: "Sam", Email: "sam@example.com", Password: "secret1"})
	assert.Equal(t, errUserExists, err)

	login, err := svc.Login(ctx, &models.LoginRequest{Email: "SAM@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, resp.ID, login.ID)

	for _, req := range []models.LoginRequest{
		{Email: "sam@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "secret1"},
	} {
		_, err := svc.Login(ctx, &req)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	}
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc, _ := newAuthService(f)

	name := "Janie"
	role := models.RoleAdmin
	resp, err := svc.UpdateProfile(ctx, f.customer, &models.UpdateUserRequest{Name: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "Janie", resp.Name)
	assert.Equal(t, models.RoleUser, resp.Role)
	assert.NotEmpty(t, resp.Token)

	profile, err := svc.Profile(ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, "Janie", profile.Name)
}
