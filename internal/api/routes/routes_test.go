package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lexidraft-realtime/internal/auth"
	"lexidraft-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier := auth.NewVerifier("routes-secret")
	r := NewRouter(Dependencies{
		Hub:      websocket.NewHub(verifier, websocket.DefaultOptions(), nil),
		Verifier: verifier,
	})
	r.SetupRoutes()
	return r.GetEngine(), verifier
}

func get(engine *gin.Engine, path, token string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w.Code
}

func TestHealthIsPublic(t *testing.T) {
	engine, _ := newTestRouter(t)
	assert.Equal(t, http.StatusOK, get(engine, "/healthz", ""))
}

func TestSwaggerDocsAreServed(t *testing.T) {
	engine, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, get(engine, "/swagger/index.html", ""))

	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"/rooms/{id}/participants"`)
	assert.Contains(t, w.Body.String(), `"/notifications"`)
}

func TestGrantRoomAccessRequiresProducerRole(t *testing.T) {
	engine, verifier := newTestRouter(t)
	client, err := verifier.Issue("42", "client", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms/consult-1/participants", nil)
	req.Header.Set("Authorization", "Bearer "+client)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	engine, _ := newTestRouter(t)

	for _, path := range []string{"/api/v1/notifications", "/api/v1/messages/7", "/api/v1/ws/stats"} {
		assert.Equal(t, http.StatusUnauthorized, get(engine, path, ""), path)
	}
}

func TestStatsRequiresAdmin(t *testing.T) {
	engine, verifier := newTestRouter(t)

	client, err := verifier.Issue("42", "client", time.Hour)
	require.NoError(t, err)
	admin, err := verifier.Issue("ops", "admin", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, get(engine, "/api/v1/ws/stats", client))
	assert.Equal(t, http.StatusOK, get(engine, "/api/v1/ws/stats", admin))
}

func TestWebSocketRouteRejectsPlainHTTP(t *testing.T) {
	engine, _ := newTestRouter(t)
	assert.Equal(t, http.StatusBadRequest, get(engine, "/api/v1/ws", ""))
}
