package wstoken

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailfold/relay/internal/api/v1/middleware"
	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/services/session"
	"github.com/mailfold/relay/internal/services/wstoken"
)

func newTokenFixture(t *testing.T) (http.Handler, *session.Service, *wstoken.Service) {
	t.Helper()
	restoreWS := config.SetWSTokenSecret([]byte("test-channel-secret"))
	t.Cleanup(restoreWS)
	restoreSession := config.SetSessionSecret([]byte("test-session-secret"))
	t.Cleanup(restoreSession)

	sessions := session.NewService()
	wsTokens := wstoken.NewService(nil)

	handler := middleware.RequireSession(sessions)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			HandleToken(wsTokens, w, r)
		}),
	)
	return handler, sessions, wsTokens
}

func TestHandleTokenIssuesToken(t *testing.T) {
	handler, sessions, wsTokens := newTokenFixture(t)

	sessionToken, err := sessions.Issue("user-1", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/ws/token", nil)
	req.Header.Set(config.GetSessionHeaderName(), sessionToken)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	// The issued token is bound to the session's user and redeemable once.
	info, err := wsTokens.Consume(context.Background(), body.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.UserID)

	_, err = wsTokens.Consume(context.Background(), body.Token)
	assert.Error(t, err)
}

func TestHandleTokenEachCallMintsDistinctToken(t *testing.T) {
	handler, sessions, _ := newTokenFixture(t)

	sessionToken, err := sessions.Issue("user-1", time.Minute)
	require.NoError(t, err)

	issue := func() string {
		req := httptest.NewRequest(http.MethodPost, "/v1/ws/token", nil)
		req.Header.Set(config.GetSessionHeaderName(), sessionToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body.Token
	}

	assert.NotEqual(t, issue(), issue())
}

func TestHandleTokenRequiresSession(t *testing.T) {
	handler, _, _ := newTokenFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ws/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleTokenRejectsInvalidSession(t *testing.T) {
	handler, _, _ := newTokenFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/ws/token", nil)
	req.Header.Set(config.GetSessionHeaderName(), "not-a-session")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleTokenRejectsGet(t *testing.T) {
	handler, sessions, _ := newTokenFixture(t)

	sessionToken, err := sessions.Issue("user-1", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/ws/token", nil)
	req.Header.Set(config.GetSessionHeaderName(), sessionToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
