package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/httputil"
	"github.com/linkdesk/session-broker/internal/middleware"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/service"
)

type mockSessionManager struct {
	mock.Mock
}

func (m *mockSessionManager) Create(ctx context.Context, caller model.CallerIdentity, input service.CreateSessionInput) (*model.Session, error) {
	args := m.Called(ctx, caller, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionManager) Get(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, caller, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionManager) ListForCaller(ctx context.Context, caller model.CallerIdentity, limit, offset int) ([]model.Session, error) {
	args := m.Called(ctx, caller, limit, offset)
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessionManager) ListParticipants(ctx context.Context, caller model.CallerIdentity, sessionID string) ([]model.ParticipantView, error) {
	args := m.Called(ctx, caller, sessionID)
	return args.Get(0).([]model.ParticipantView), args.Error(1)
}

func (m *mockSessionManager) JoinByID(ctx context.Context, caller model.CallerIdentity, sessionID string, role model.ParticipantRole) (*service.JoinResult, error) {
	args := m.Called(ctx, caller, sessionID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JoinResult), args.Error(1)
}

func (m *mockSessionManager) JoinByCode(ctx context.Context, caller model.CallerIdentity, code string, role model.ParticipantRole) (*service.JoinResult, error) {
	args := m.Called(ctx, caller, code, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JoinResult), args.Error(1)
}

func (m *mockSessionManager) JoinByToken(ctx context.Context, caller model.CallerIdentity, token, sessionID string, role model.ParticipantRole) (*service.JoinResult, error) {
	args := m.Called(ctx, caller, token, sessionID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JoinResult), args.Error(1)
}

func (m *mockSessionManager) Leave(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, caller, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionManager) Terminate(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	args := m.Called(ctx, caller, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionManager) Delete(ctx context.Context, caller model.CallerIdentity, sessionID string) error {
	args := m.Called(ctx, caller, sessionID)
	return args.Error(0)
}

type mockTokenManager struct {
	mock.Mock
}

func (m *mockTokenManager) Issue(ctx context.Context, caller model.CallerIdentity, sessionID string, expiresInHours int) (*service.IssuedToken, error) {
	args := m.Called(ctx, caller, sessionID, expiresInHours)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IssuedToken), args.Error(1)
}

func (m *mockTokenManager) ListActive(ctx context.Context, caller model.CallerIdentity, sessionID string) ([]model.SessionToken, error) {
	args := m.Called(ctx, caller, sessionID)
	return args.Get(0).([]model.SessionToken), args.Error(1)
}

func (m *mockTokenManager) Revoke(ctx context.Context, caller model.CallerIdentity, sessionID, tokenID string) error {
	args := m.Called(ctx, caller, sessionID, tokenID)
	return args.Error(0)
}

var alice = model.CallerIdentity{UserID: "alice"}

func newRequest(t *testing.T, method, path string, body any, caller *model.CallerIdentity) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req = req.WithContext(middleware.WithCaller(req.Context(), *caller))
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func mountSessions(sessions SessionManager, tokens TokenManager) http.Handler {
	r := chi.NewRouter()
	r.Mount("/sessions", NewSessionHandler(sessions, tokens, nil).Routes())
	return r
}

func TestSessionHandler_RequiresCaller(t *testing.T) {
	h := mountSessions(&mockSessionManager{}, &mockTokenManager{})

	rec := serve(h, newRequest(t, http.MethodGet, "/sessions", nil, nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, decodeError(t, rec).Code)
}

func TestSessionHandler_Create(t *testing.T) {
	sessions := &mockSessionManager{}
	h := mountSessions(sessions, &mockTokenManager{})

	input := service.CreateSessionInput{IsPublic: true}
	sessions.On("Create", mock.Anything, alice, input).
		Return(&model.Session{ID: "s-1", OwnerID: "alice", Status: model.SessionStatusPending}, nil)

	rec := serve(h, newRequest(t, http.MethodPost, "/sessions", map[string]any{"isPublic": true}, &alice))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var got model.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "s-1", got.ID)
	sessions.AssertExpectations(t)
}

func TestSessionHandler_CreateRejectsBadBody(t *testing.T) {
	h := mountSessions(&mockSessionManager{}, &mockTokenManager{})

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{not json"))
	req = req.WithContext(middleware.WithCaller(req.Context(), alice))
	rec := serve(h, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionHandler_ListPagination(t *testing.T) {
	sessions := &mockSessionManager{}
	h := mountSessions(sessions, &mockTokenManager{})

	sessions.On("ListForCaller", mock.Anything, alice, 10, 20).Return([]model.Session{{ID: "s-1"}}, nil)

	rec := serve(h, newRequest(t, http.MethodGet, "/sessions?limit=10&offset=20", nil, &alice))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []model.Session `json:"sessions"`
		Limit    int             `json:"limit"`
		Offset   int             `json:"offset"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Sessions, 1)
	assert.Equal(t, 10, body.Limit)
	assert.Equal(t, 20, body.Offset)
}

func TestSessionHandler_Join(t *testing.T) {
	result := &service.JoinResult{
		Session:     &model.Session{ID: "s-1", Status: model.SessionStatusActive},
		Participant: &model.Participant{SessionID: "s-1", UserID: "alice", Role: model.RoleController},
	}

	t.Run("by session id", func(t *testing.T) {
		sessions := &mockSessionManager{}
		sessions.On("JoinByID", mock.Anything, alice, "s-1", model.RoleHost).Return(result, nil)

		rec := serve(mountSessions(sessions, &mockTokenManager{}),
			newRequest(t, http.MethodPost, "/sessions/join", map[string]any{"sessionId": "s-1", "role": "host"}, &alice))

		assert.Equal(t, http.StatusOK, rec.Code)
		sessions.AssertExpectations(t)
	})

	t.Run("by code", func(t *testing.T) {
		sessions := &mockSessionManager{}
		sessions.On("JoinByCode", mock.Anything, alice, "ABC234", model.ParticipantRole("")).Return(result, nil)

		rec := serve(mountSessions(sessions, &mockTokenManager{}),
			newRequest(t, http.MethodPost, "/sessions/join", map[string]any{"code": "ABC234"}, &alice))

		assert.Equal(t, http.StatusOK, rec.Code)
		sessions.AssertExpectations(t)
	})

	t.Run("requires id or code", func(t *testing.T) {
		rec := serve(mountSessions(&mockSessionManager{}, &mockTokenManager{}),
			newRequest(t, http.MethodPost, "/sessions/join", map[string]any{}, &alice))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, decodeError(t, rec).Code)
	})

	t.Run("maps permission denied to 403", func(t *testing.T) {
		sessions := &mockSessionManager{}
		sessions.On("JoinByID", mock.Anything, alice, "s-1", model.ParticipantRole("")).
			Return(nil, apperrors.PermissionDenied("Not allowed to join this session"))

		rec := serve(mountSessions(sessions, &mockTokenManager{}),
			newRequest(t, http.MethodPost, "/sessions/join", map[string]any{"sessionId": "s-1"}, &alice))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Not allowed to join this session", decodeError(t, rec).Error)
	})
}

func TestSessionHandler_JoinByToken(t *testing.T) {
	sessions := &mockSessionManager{}
	sessions.On("JoinByToken", mock.Anything, alice, "tok", "s-1", model.ParticipantRole("")).
		Return(&service.JoinResult{Session: &model.Session{ID: "s-1"}}, nil)

	rec := serve(mountSessions(sessions, &mockTokenManager{}),
		newRequest(t, http.MethodPost, "/sessions/join-by-token", map[string]any{"token": "tok", "sessionId": "s-1"}, &alice))

	assert.Equal(t, http.StatusOK, rec.Code)
	sessions.AssertExpectations(t)
}

func TestSessionHandler_JoinLimit(t *testing.T) {
	sessions := &mockSessionManager{}
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteError(w, apperrors.RateLimitExceeded())
		})
	}
	r := chi.NewRouter()
	r.Mount("/sessions", NewSessionHandler(sessions, &mockTokenManager{}, blocked).Routes())

	rec := serve(r, newRequest(t, http.MethodPost, "/sessions/join", map[string]any{"code": "ABC234"}, &alice))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	sessions.On("Get", mock.Anything, alice, "s-1").Return(&model.Session{ID: "s-1"}, nil)
	rec = serve(r, newRequest(t, http.MethodGet, "/sessions/s-1", nil, &alice))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionHandler_Lifecycle(t *testing.T) {
	sessions := &mockSessionManager{}
	h := mountSessions(sessions, &mockTokenManager{})

	sessions.On("Leave", mock.Anything, alice, "s-1").Return(&model.Session{ID: "s-1", Status: model.SessionStatusPending}, nil)
	sessions.On("Terminate", mock.Anything, alice, "s-1").Return(&model.Session{ID: "s-1", Status: model.SessionStatusEnded}, nil)
	sessions.On("Delete", mock.Anything, alice, "s-1").Return(nil)
	sessions.On("Delete", mock.Anything, alice, "s-2").Return(apperrors.FailedPrecondition("Session must be ended before it can be deleted"))
	sessions.On("ListParticipants", mock.Anything, alice, "s-1").Return([]model.ParticipantView{}, nil)

	assert.Equal(t, http.StatusOK, serve(h, newRequest(t, http.MethodPost, "/sessions/s-1/leave", nil, &alice)).Code)
	assert.Equal(t, http.StatusOK, serve(h, newRequest(t, http.MethodPost, "/sessions/s-1/terminate", nil, &alice)).Code)
	assert.Equal(t, http.StatusOK, serve(h, newRequest(t, http.MethodDelete, "/sessions/s-1", nil, &alice)).Code)
	assert.Equal(t, http.StatusPreconditionFailed, serve(h, newRequest(t, http.MethodDelete, "/sessions/s-2", nil, &alice)).Code)
	assert.Equal(t, http.StatusOK, serve(h, newRequest(t, http.MethodGet, "/sessions/s-1/participants", nil, &alice)).Code)

	sessions.AssertExpectations(t)
}

func TestSessionHandler_Tokens(t *testing.T) {
	tokens := &mockTokenManager{}
	h := mountSessions(&mockSessionManager{}, tokens)

	tokens.On("Issue", mock.Anything, alice, "s-1", 12).
		Return(&service.IssuedToken{Token: &model.SessionToken{ID: "t-1"}, URL: "https://x/join?token=abc"}, nil)
	tokens.On("Issue", mock.Anything, alice, "s-1", 0).
		Return(&service.IssuedToken{Token: &model.SessionToken{ID: "t-2"}}, nil)
	tokens.On("ListActive", mock.Anything, alice, "s-1").Return([]model.SessionToken{{ID: "t-1"}}, nil)
	tokens.On("Revoke", mock.Anything, alice, "s-1", "t-1").Return(nil)
	tokens.On("Revoke", mock.Anything, alice, "s-1", "t-9").Return(apperrors.NotFound("Token"))

	rec := serve(h, newRequest(t, http.MethodPost, "/sessions/s-1/generate-link", map[string]any{"expiresInHours": 12}, &alice))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://x/join?token=abc")

	rec = serve(h, newRequest(t, http.MethodPost, "/sessions/s-1/generate-link", nil, &alice))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(h, newRequest(t, http.MethodGet, "/sessions/s-1/tokens", nil, &alice))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"t-1"`)

	assert.Equal(t, http.StatusOK, serve(h, newRequest(t, http.MethodDelete, "/sessions/s-1/tokens/t-1", nil, &alice)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, newRequest(t, http.MethodDelete, "/sessions/s-1/tokens/t-9", nil, &alice)).Code)

	tokens.AssertExpectations(t)
}
