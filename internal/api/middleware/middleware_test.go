package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lexidraft-realtime/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func issue(t *testing.T, subject, role string, ttl time.Duration) string {
	t.Helper()
	token, err := auth.NewVerifier(testSecret).Issue(subject, role, ttl)
	require.NoError(t, err)
	return token
}

func serve(r *gin.Engine, method, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authEngine(roles ...string) *gin.Engine {
	am := NewAuthMiddleware(auth.NewVerifier(testSecret))
	r := gin.New()
	chain := []gin.HandlerFunc{am.RequireAuth()}
	if len(roles) > 0 {
		chain = append(chain, am.RequireRole(roles...))
	}
	chain = append(chain, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserID(c), "role": c.GetString(ContextRole)})
	})
	r.GET("/me", chain...)
	return r
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	w := serve(authEngine(), http.MethodGet, "/me", "Bearer "+issue(t, "42", "client", time.Hour))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"42","role":"client"}`, w.Body.String())
}

func TestRequireAuthRejects(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		details string
	}{
		{"missing header", "", "authorization header is required"},
		{"garbage", "Bearer not-a-jwt", "invalid token"},
		{"expired", "Bearer " + issue(t, "42", "", -time.Minute), "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(authEngine(), http.MethodGet, "/me", tt.header)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.details)
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := authEngine("admin", "service")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/me", "Bearer "+issue(t, "svc", "service", time.Hour)).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/me", "Bearer "+issue(t, "42", "client", time.Hour)).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/me", "Bearer "+issue(t, "42", "", time.Hour)).Code)
}

type fakeLimiter struct {
	remaining int
	keys      []string
	err       error
}

func (f *fakeLimiter) CheckRateLimit(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	if f.remaining <= 0 {
		return false, nil
	}
	f.remaining--
	return true, nil
}

func TestRateLimitIP(t *testing.T) {
	limiter := &fakeLimiter{remaining: 1}
	r := gin.New()
	r.GET("/ws", NewRateLimitMiddleware(limiter).RateLimitIP(1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ws", "").Code)
	w := serve(r, http.MethodGet, "/ws", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Limit: 1 per 1m0s")
	assert.Equal(t, "rate_limit_ip:192.0.2.1:/ws", limiter.keys[0])
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := &fakeLimiter{remaining: 5}
	r := gin.New()
	r.GET("/notifications",
		func(c *gin.Context) { c.Set(ContextUserID, "42"); c.Next() },
		NewRateLimitMiddleware(limiter).RateLimit(5, time.Minute),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/notifications", "").Code)
	assert.Equal(t, []string{"rate_limit:42:/notifications"}, limiter.keys)
}

func TestRateLimitWithoutUserIsUnauthorized(t *testing.T) {
	r := gin.New()
	r.GET("/x", NewRateLimitMiddleware(&fakeLimiter{remaining: 1}).RateLimit(1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/x", "").Code)
}

func TestRateLimitBackendFailure(t *testing.T) {
	r := gin.New()
	r.GET("/ws", NewRateLimitMiddleware(&fakeLimiter{err: errors.New("redis down")}).RateLimitIP(1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/ws", "").Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.lexidraft.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://app.lexidraft.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.lexidraft.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
