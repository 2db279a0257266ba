package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/internal/repository"
	"github.com/chandlergims/shillster/internal/service"
	"github.com/chandlergims/shillster/internal/testutil"
	pkgjwt "github.com/chandlergims/shillster/pkg/jwt"
	"github.com/chandlergims/shillster/pkg/middleware"
)

// tokenAsID treats the bearer token as the caller's user id.
type tokenAsID struct{}

func (tokenAsID) Verify(token string) (*pkgjwt.Claims, error) {
	if token == "bad" {
		return nil, pkgjwt.ErrInvalidToken
	}
	return &pkgjwt.Claims{UserID: token, Username: token}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	router *gin.Engine
	users  *repository.GormUserRepository
	graph  *repository.GormGraphRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	users := repository.NewGormUserRepository(db)
	graph := repository.NewGormGraphRepository(db, users)

	h := NewHandler(
		service.NewFollowService(users, graph, service.FollowServiceConfig{Limits: service.DefaultLimits}),
		service.NewDiscoveryService(users, graph, nil, service.DefaultLimits, "https://cdn.example.com"),
		service.NewUserService(users, "https://cdn.example.com"),
		middleware.NewAuthMiddleware(tokenAsID{}),
	)
	r := gin.New()
	h.RegisterRoutes(r)
	return &testServer{router: r, users: users, graph: graph}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) register(t *testing.T, id, handle string, role domain.Role) {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/users", id, gin.H{"handle": handle, "role": role})
	require.Equal(t, http.StatusCreated, code, "%+v", env.Error)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestFollowFlow(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "1", "alice", domain.RoleUser)
	s.register(t, "2", "bob", domain.RoleShiller)

	code, env := s.do(t, http.MethodPost, "/api/v1/users/2/follow", "1", nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, domain.OutcomeRequested, decode[outcomeResponse](t, env).Outcome)

	code, env = s.do(t, http.MethodPost, "/api/v1/users/2/follow", "1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OutcomeAlreadyRequested, decode[outcomeResponse](t, env).Outcome)

	code, env = s.do(t, http.MethodGet, "/api/v1/follow-requests", "2", nil)
	require.Equal(t, http.StatusOK, code)
	pending := decode[struct {
		Requests []domain.PendingRequest `json:"requests"`
	}](t, env).Requests
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].RequesterHandle)

	path := "/api/v1/follow-requests/" + pending[0].RequestID
	code, env = s.do(t, http.MethodPut, path, "1", gin.H{"status": "accepted"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, env = s.do(t, http.MethodPut, path, "2", gin.H{"status": "accepted"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OutcomeAccepted, decode[outcomeResponse](t, env).Outcome)

	code, env = s.do(t, http.MethodPut, path, "2", gin.H{"status": "declined"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, CodeInvalidState, env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/api/v1/users/2/followers/count", "", nil)
	require.Equal(t, http.StatusOK, code)
	counts := decode[map[string]int64](t, env)
	assert.Equal(t, int64(1), counts["followers"])

	code, env = s.do(t, http.MethodGet, "/api/v1/users/2/relation", "1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[domain.RelationStatus](t, env).Following)

	code, env = s.do(t, http.MethodDelete, "/api/v1/users/2/follow", "1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OutcomeUnfollowed, decode[outcomeResponse](t, env).Outcome)

	code, _ = s.do(t, http.MethodDelete, "/api/v1/users/2/follow", "1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestFollowErrors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "1", "alice", domain.RoleUser)

	code, env := s.do(t, http.MethodPost, "/api/v1/users/1/follow", "1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeSelfFollow, env.Error.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/users/404/follow", "1", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/1/follow", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/1/follow", "bad", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/follow-requests/whatever", "1", gin.H{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/follow-requests/whatever", "1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPut, "/api/v1/follow-requests/whatever", "1", gin.H{"status": "accepted"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCancelFollowRequest(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "1", "alice", domain.RoleUser)
	s.register(t, "2", "bob", domain.RoleUser)

	_, _ = s.do(t, http.MethodPost, "/api/v1/users/2/follow", "1", nil)

	code, env := s.do(t, http.MethodDelete, "/api/v1/users/2/follow-request", "1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OutcomeCancelled, decode[outcomeResponse](t, env).Outcome)

	code, env = s.do(t, http.MethodDelete, "/api/v1/users/2/follow-request", "1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.OutcomeNothingPending, decode[outcomeResponse](t, env).Outcome)
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "1", "alice", domain.RoleUser)

	code, env := s.do(t, http.MethodPost, "/api/v1/users", "2", gin.H{"handle": "Alice"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, CodeHandleTaken, env.Error.Code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users", "2", gin.H{"handle": "x"})
	assert.Equal(t, http.StatusBadRequest, code, "handle too short")

	code, env = s.do(t, http.MethodPost, "/api/v1/users/me/shills", "1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, CodeInvalidRole, env.Error.Code)

	code, env = s.do(t, http.MethodPatch, "/api/v1/users/me", "1", gin.H{"role": "shiller", "profile_picture": "me.png"})
	require.Equal(t, http.StatusOK, code)
	user := decode[domain.UserSummary](t, env)
	assert.Equal(t, domain.RoleShiller, user.Role)
	assert.Equal(t, "https://cdn.example.com/me.png", user.ProfilePicture)

	code, env = s.do(t, http.MethodPost, "/api/v1/users/me/shills", "1", nil)
	require.Equal(t, http.StatusOK, code)
	user = decode[domain.UserSummary](t, env)
	require.NotNil(t, user.Shills)
	assert.Equal(t, int64(1), *user.Shills)

	code, env = s.do(t, http.MethodGet, "/api/v1/users/1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", decode[domain.UserSummary](t, env).Handle)

	code, _ = s.do(t, http.MethodGet, "/api/v1/users/404", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDiscoveryEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "1", "alice", domain.RoleUser)
	s.register(t, "2", "bob", domain.RoleShiller)
	s.register(t, "3", "carol", domain.RoleShiller)

	_, _ = s.do(t, http.MethodPost, "/api/v1/users/3/follow", "1", nil)
	req, err := s.graph.FindPendingRequest(context.Background(), "1", "3")
	require.NoError(t, err)
	_, _ = s.do(t, http.MethodPut, "/api/v1/follow-requests/"+req.ID, "3", gin.H{"status": "accepted"})

	type usersPayload struct {
		Users []domain.UserSummary `json:"users"`
	}

	code, env := s.do(t, http.MethodGet, "/api/v1/shillers/top?limit=1", "", nil)
	require.Equal(t, http.StatusOK, code)
	top := decode[usersPayload](t, env).Users
	require.Len(t, top, 1)
	assert.Equal(t, "carol", top[0].Handle)

	code, env = s.do(t, http.MethodGet, "/api/v1/users/new", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[usersPayload](t, env).Users, 3)

	code, _ = s.do(t, http.MethodGet, "/api/v1/users/new?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/discover?top_limit=5", "", nil)
	require.Equal(t, http.StatusOK, code)
	d := decode[domain.Discover](t, env)
	assert.Len(t, d.TopShillers, 2)
	assert.Len(t, d.NewUsers, 3)

	code, env = s.do(t, http.MethodGet, "/api/v1/users/3/followers", "", nil)
	require.Equal(t, http.StatusOK, code)
	followers := decode[usersPayload](t, env).Users
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].Handle)
}

func TestWriteError_Unexpected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.New("db on fire"), "failed to do the thing")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to do the thing")
	assert.NotContains(t, w.Body.String(), "db on fire")
}
