package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SlpAus/expert-rating-backend/internal/apperr"
	"github.com/SlpAus/expert-rating-backend/internal/platform/config"
	"github.com/SlpAus/expert-rating-backend/internal/platform/web"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newVKServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/secure.checkToken", r.URL.Path)
		assert.Equal(t, "service-key", r.URL.Query().Get("access_token"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("token") {
		case "good":
			_, _ = w.Write([]byte(`{"response":{"success":1,"user_id":42,"date":1,"expire":0}}`))
		case "limited":
			_, _ = w.Write([]byte(`{"error":{"error_code":10,"error_msg":"Internal error","error_reason":"rate limit reached"}}`))
		default:
			_, _ = w.Write([]byte(`{"error":{"error_code":15,"error_msg":"Access denied"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newResolver(url string) *VKResolver {
	return NewVKResolver(config.VKConfig{APIURL: url, APIVersion: "5.199", ServiceKey: "service-key"}, zap.NewNop())
}

func TestVKResolver(t *testing.T) {
	var calls atomic.Int32
	srv := newVKServer(t, &calls)
	r := newResolver(srv.URL)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = r.Resolve(ctx, "bad")
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = r.Resolve(ctx, "limited")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, apperr.KindContention, apperr.KindOf(err))
}

func TestVKResolverUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newResolver(srv.URL).Resolve(context.Background(), "good")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	// 连接被拒绝
	_, err = newResolver("http://127.0.0.1:1").Resolve(context.Background(), "good")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCachedResolverCachesOnlySuccess(t *testing.T) {
	var calls atomic.Int32
	srv := newVKServer(t, &calls)
	r, err := NewCachedResolver(newResolver(srv.URL), time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(ctx, "good")
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	}
	assert.Equal(t, int32(1), calls.Load())

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(ctx, "bad")
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = BearerToken("bearer  abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	for _, h := range []string{"Basic abc", "Bearer", "Bearer "} {
		_, err = BearerToken(h)
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), h)
	}
}

type staticResolver map[string]int64

func (s staticResolver) Resolve(_ context.Context, token string) (int64, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, ErrInvalidToken
}

func TestMiddlewareAndAdminOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	authed := router.Group("/", Middleware(staticResolver{"user": 7, "admin": 1}, zap.NewNop()))
	authed.GET("/me", func(c *gin.Context) {
		id, _ := web.UserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id})
	})
	authed.GET("/admin", AdminOnly(func(id int64) bool { return id == 1 }), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do("/me", "user")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":7}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", "nobody").Code)
	assert.Equal(t, http.StatusForbidden, do("/admin", "user").Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", "admin").Code)
}
