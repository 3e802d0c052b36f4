package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	userID := primitive.NewObjectID()

	token, err := m.Issue(userID)
	require.NoError(t, err)

	got, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestTokenManager_RejectsInvalidTokens(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	userID := primitive.NewObjectID()
	token, err := m.Issue(userID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		manager *TokenManager
		token   string
	}{
		{"garbage", m, "not-a-token"},
		{"wrong secret", NewTokenManager("other", time.Hour), token},
		{"tampered", m, token + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.manager.Parse(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager("secret", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issuedAt }

	token, err := m.Issue(primitive.NewObjectID())
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Parse(token)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}

func TestIdentity_CanAccess(t *testing.T) {
	owner := primitive.NewObjectID()

	assert.True(t, Identity{UserID: owner, Role: models.RoleUser}.CanAccess(owner))
	assert.False(t, Identity{UserID: primitive.NewObjectID(), Role: models.RoleUser}.CanAccess(owner))
	assert.True(t, Identity{UserID: primitive.NewObjectID(), Role: models.RoleAdmin}.CanAccess(owner))
	assert.False(t, Identity{}.CanAccess(primitive.NilObjectID))
	assert.True(t, System().CanAccess(owner))
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id := Identity{UserID: primitive.NewObjectID(), Role: models.RoleAdmin}
	got, ok := FromContext(WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}
