package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codesync/internal/auth"
	"codesync/internal/leaderboard"
	"codesync/internal/notify"
	"codesync/internal/presence"
	"codesync/internal/store"
	"codesync/internal/websocket"
	"codesync/pkg/types"
)

type testEnv struct {
	server      *Server
	verifier    *auth.HMACVerifier
	leaderboard *leaderboard.Engine
	notify      *notify.Service
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	registry := websocket.NewRegistry()
	coordinator := presence.NewCoordinator(mem, mem, registry, 5*time.Second)
	require.NoError(t, coordinator.Start(context.Background()))
	t.Cleanup(func() { _ = coordinator.Stop() })

	verifier := auth.NewHMACVerifier([]byte("test-secret"))
	lb := leaderboard.NewEngine(mem, coordinator, 50)
	notifySvc := notify.NewService(mem, coordinator, 100, time.Hour)

	return &testEnv{
		server:      NewServer(mem, verifier, registry, lb, notifySvc),
		verifier:    verifier,
		leaderboard: lb,
		notify:      notifySvc,
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 0, resp.Connections["connections"])
}

func TestGetLeaderboard(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := env.leaderboard.AddSubmission(ctx, "contest:1", "alice", "p1", true, at, 5)
	require.NoError(t, err)
	_, err = env.leaderboard.AddSubmission(ctx, "contest:1", "bob", "p1", true, at.Add(time.Minute), 10)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/contests/contest:1/leaderboard", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "contest:1", resp.ContestID)
	require.Len(t, resp.Rankings, 2)
	assert.Equal(t, "alice", resp.Rankings[0].UserID)
	assert.False(t, resp.Frozen)
}

func TestGetLeaderboardLimitAndFreeze(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, user := range []string{"a", "b", "c"} {
		_, err := env.leaderboard.AddSubmission(ctx, "contest:1", user, "p1", true, at.Add(time.Duration(i)*time.Minute), 0)
		require.NoError(t, err)
	}
	require.NoError(t, env.leaderboard.Freeze(ctx, "contest:1"))

	req := httptest.NewRequest(http.MethodGet, "/api/contests/contest:1/leaderboard?limit=2", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Rankings, 2)
	assert.True(t, resp.Frozen)
}

func TestGetLeaderboardEmptyContest(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/contests/contest:empty/leaderboard", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Rankings)
}

func TestGetNotificationsRequiresAuth(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetNotifications(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	_, err := env.notify.Send(ctx, &types.Notification{Title: "hello", TargetUsers: []string{"alice"}})
	require.NoError(t, err)

	token, err := env.verifier.Sign(&types.Claims{UserID: "alice"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp NotificationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "hello", resp.Notifications[0].Title)
}

func (env *testEnv) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, err := env.verifier.Sign(&types.Claims{UserID: userID, DisplayName: userID, Roles: roles})
	require.NoError(t, err)
	return token
}

func (env *testEnv) post(t *testing.T, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func TestPostSubmission(t *testing.T) {
	env := newTestServer(t)
	admin := env.token(t, "judge", types.RoleAdmin)

	rec := env.post(t, "/api/contests/contest:1/submissions", admin,
		`{"userId":"alice","problemId":"p1","accepted":true,"submittedAt":"2026-03-01T10:00:00Z","penalty":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rankings, 1)
	assert.Equal(t, "alice", resp.Rankings[0].UserID)
	assert.Equal(t, 1, resp.Rankings[0].SolvedProblems)

	// The write is visible on the read side too.
	req := httptest.NewRequest(http.MethodGet, "/api/contests/contest:1/leaderboard", nil)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rankings, 1)
}

func TestPostSubmissionValidation(t *testing.T) {
	env := newTestServer(t)
	admin := env.token(t, "judge", types.RoleAdmin)

	rec := env.post(t, "/api/contests/contest:1/submissions", admin, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, "/api/contests/contest:1/submissions", admin, `{"userId":"","problemId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, "/api/contests/contest:1/submissions", admin, `{"userId":"alice","problemId":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngressAuthorization(t *testing.T) {
	env := newTestServer(t)
	body := `{"userId":"alice","problemId":"p1","accepted":true}`

	rec := env.post(t, "/api/contests/contest:1/submissions", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.CodeAuthenticationFailure, resp.Error)

	user := env.token(t, "alice", types.RoleUser)
	rec = env.post(t, "/api/contests/contest:1/submissions", user, body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.CodeAccessDenied, resp.Error)

	rec = env.post(t, "/api/notifications", user, `{"title":"nope"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Moderators run contests but cannot submit on a user's behalf.
	mod := env.token(t, "mod", types.RoleModerator)
	rec = env.post(t, "/api/contests/contest:1/submissions", mod, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFreezeLifecycleOverHTTP(t *testing.T) {
	env := newTestServer(t)
	admin := env.token(t, "judge", types.RoleAdmin)
	mod := env.token(t, "mod", types.RoleModerator)

	rec := env.post(t, "/api/contests/contest:1/submissions", admin,
		`{"userId":"alice","problemId":"p1","accepted":true,"submittedAt":"2026-03-01T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.post(t, "/api/contests/contest:1/freeze", mod, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var frozen FreezeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frozen))
	assert.True(t, frozen.Frozen)

	// A submission during the freeze scores but stays unpublished.
	rec = env.post(t, "/api/contests/contest:1/submissions", admin,
		`{"userId":"bob","problemId":"p1","accepted":true,"submittedAt":"2026-03-01T10:05:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/contests/contest:1/leaderboard", nil)
	get := httptest.NewRecorder()
	env.server.ServeHTTP(get, req)
	var board LeaderboardResponse
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &board))
	assert.True(t, board.Frozen)
	require.Len(t, board.Rankings, 1)
	assert.Equal(t, "alice", board.Rankings[0].UserID)

	rec = env.post(t, "/api/contests/contest:1/unfreeze", mod, "")
	require.Equal(t, http.StatusOK, rec.Code)

	get = httptest.NewRecorder()
	env.server.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/contests/contest:1/leaderboard", nil))
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &board))
	assert.False(t, board.Frozen)
	assert.Len(t, board.Rankings, 2)
}

func TestFreezeUnknownContestOverHTTP(t *testing.T) {
	env := newTestServer(t)
	admin := env.token(t, "judge", types.RoleAdmin)

	rec := env.post(t, "/api/contests/contest:ghost/freeze", admin, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.CodeNotFound, resp.Error)
}

func TestPostNotification(t *testing.T) {
	env := newTestServer(t)
	admin := env.token(t, "ops", types.RoleAdmin)

	rec := env.post(t, "/api/notifications", admin,
		`{"title":"Scheduled maintenance","message":"back at noon","type":"warning"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sent types.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sent))
	assert.NotEmpty(t, sent.ID)

	// The broadcast lands in everyone's pull-side backlog.
	alice := env.token(t, "alice", types.RoleUser)
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	get := httptest.NewRecorder()
	env.server.ServeHTTP(get, req)
	require.Equal(t, http.StatusOK, get.Code)
	var resp NotificationsResponse
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, sent.ID, resp.Notifications[0].ID)

	rec = env.post(t, "/api/notifications", admin, `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
