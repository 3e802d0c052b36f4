package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/auth"
	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeUsers map[primitive.ObjectID]*models.User

func (f fakeUsers) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFound("User")
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/test", handlers...)
	return r
}

func TestRequestID(t *testing.T) {
	var fromCtx string
	r := newRouter(RequestID(), func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	generated := w.Header().Get(HeaderRequestID)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-123", fromCtx)
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewTokenManager("secret", time.Hour)
	admin := &models.User{ID: primitive.NewObjectID(), Name: "Admin", Role: models.RoleAdmin}
	users := fakeUsers{admin.ID: admin}

	adminToken, err := tokens.Issue(admin.ID)
	require.NoError(t, err)
	ghostToken, err := tokens.Issue(primitive.NewObjectID())
	require.NoError(t, err)

	var seen auth.Identity
	r := newRouter(Authenticate(tokens, users), func(c *gin.Context) {
		seen, _ = auth.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"deleted user", "Bearer " + ghostToken, http.StatusUnauthorized},
		{"valid", "Bearer " + adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	assert.Equal(t, admin.ID, seen.UserID)
	assert.True(t, seen.IsAdmin())
}

func TestRequireAdmin(t *testing.T) {
	withIdentity := func(id auth.Identity) gin.HandlerFunc {
		return func(c *gin.Context) { c.Set(identityKey, id) }
	}
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	tests := []struct {
		name  string
		chain []gin.HandlerFunc
		want  int
	}{
		{"admin", []gin.HandlerFunc{withIdentity(auth.Identity{Role: models.RoleAdmin}), RequireAdmin(), ok}, http.StatusOK},
		{"customer", []gin.HandlerFunc{withIdentity(auth.Identity{Role: models.RoleUser}), RequireAdmin(), ok}, http.StatusForbidden},
		{"anonymous", []gin.HandlerFunc{RequireAdmin(), ok}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tt.chain...).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type memoryCounter struct {
	mu   sync.Mutex
	hits map[string]int64
	err  error
}

func (m *memoryCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hits == nil {
		m.hits = make(map[string]int64)
	}
	m.hits[key]++
	return m.hits[key], nil
}

func TestRateLimit(t *testing.T) {
	r := newRouter(RateLimit(&memoryCounter{}, "login", 2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newRouter(RateLimit(&memoryCounter{err: errors.New("redis down")}, "login", 1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

// fakeRedis applies pipelined commands immediately. Only the commands used
// by RedisCounter are implemented.
type fakeRedis struct {
	redis.Cmdable
	values map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, fn(&fakePipeline{f: f})
}

type fakePipeline struct {
	redis.Pipeliner
	f *fakeRedis
}

func (p *fakePipeline) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx, "set", key, value, "ex", expiration, "nx")
	if _, ok := p.f.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	p.f.values[key] = 0
	p.f.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (p *fakePipeline) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "incr", key)
	p.f.values[key]++
	cmd.SetVal(p.f.values[key])
	return cmd
}

func TestRedisCounter_WindowAlwaysExpires(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	counter := NewRedisCounter(client)

	for want := int64(1); want <= 3; want++ {
		n, err := counter.Hit(ctx, "login:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Minute, client.ttls["ratelimit:login:10.0.0.1"])

	n, err := counter.Hit(ctx, "login:10.0.0.2", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 30*time.Second, client.ttls["ratelimit:login:10.0.0.2"])
}

func TestRedisCounter_ErrorIsReturned(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")

	_, err := NewRedisCounter(client).Hit(context.Background(), "login:10.0.0.1", time.Minute)
	assert.EqualError(t, err, "connection refused")
	assert.Empty(t, client.ttls)
}

func TestRedisCounter_Integration(t *testing.T) {
	t.Skip("Integration test - requires Redis")
}
