package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/service"
)

type SessionManager interface {
	Create(ctx context.Context, caller model.CallerIdentity, input service.CreateSessionInput) (*model.Session, error)
	Get(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error)
	ListForCaller(ctx context.Context, caller model.CallerIdentity, limit, offset int) ([]model.Session, error)
	ListParticipants(ctx context.Context, caller model.CallerIdentity, sessionID string) ([]model.ParticipantView, error)
	JoinByID(ctx context.Context, caller model.CallerIdentity, sessionID string, role model.ParticipantRole) (*service.JoinResult, error)
	JoinByCode(ctx context.Context, caller model.CallerIdentity, code string, role model.ParticipantRole) (*service.JoinResult, error)
	JoinByToken(ctx context.Context, caller model.CallerIdentity, token, sessionID string, role model.ParticipantRole) (*service.JoinResult, error)
	Leave(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error)
	Terminate(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error)
	Delete(ctx context.Context, caller model.CallerIdentity, sessionID string) error
}

type TokenManager interface {
	Issue(ctx context.Context, caller model.CallerIdentity, sessionID string, expiresInHours int) (*service.IssuedToken, error)
	ListActive(ctx context.Context, caller model.CallerIdentity, sessionID string) ([]model.SessionToken, error)
	Revoke(ctx context.Context, caller model.CallerIdentity, sessionID, tokenID string) error
}

type SessionHandler struct {
	sessions  SessionManager
	tokens    TokenManager
	joinLimit func(http.Handler) http.Handler
}

// NewSessionHandler builds the /sessions routes. joinLimit wraps the join
// endpoints and may be nil.
func NewSessionHandler(sessions SessionManager, tokens TokenManager, joinLimit func(http.Handler) http.Handler) *SessionHandler {
	if joinLimit == nil {
		joinLimit = func(next http.Handler) http.Handler { return next }
	}
	return &SessionHandler{
		sessions:  sessions,
		tokens:    tokens,
		joinLimit: joinLimit,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)

	r.With(h.joinLimit).Post("/join", h.Join)
	r.With(h.joinLimit).Post("/join-by-token", h.JoinByToken)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/leave", h.Leave)
		r.Post("/terminate", h.Terminate)
		r.Get("/participants", h.ListParticipants)
		r.Post("/generate-link", h.GenerateLink)
		r.Get("/tokens", h.ListTokens)
		r.Delete("/tokens/{tokenId}", h.RevokeToken)
	})

	return r
}

// POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req service.CreateSessionInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GET /sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	page := parseSessionPage(r)
	sessions, err := h.sessions.ListForCaller(r.Context(), caller, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// DELETE /sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type joinRequest struct {
	SessionID string                `json:"sessionId"`
	Code      string                `json:"code"`
	Role      model.ParticipantRole `json:"role"`
}

// POST /sessions/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		result *service.JoinResult
		err    error
	)
	switch {
	case req.SessionID != "":
		result, err = h.sessions.JoinByID(r.Context(), caller, req.SessionID, req.Role)
	case req.Code != "":
		result, err = h.sessions.JoinByCode(r.Context(), caller, req.Code, req.Role)
	default:
		err = apperrors.MissingRequired("sessionId or code")
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type joinByTokenRequest struct {
	Token     string                `json:"token"`
	SessionID string                `json:"sessionId"`
	Role      model.ParticipantRole `json:"role"`
}

// POST /sessions/join-by-token
func (h *SessionHandler) JoinByToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req joinByTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.sessions.JoinByToken(r.Context(), caller, req.Token, req.SessionID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /sessions/{id}/leave
func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Leave(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /sessions/{id}/terminate
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Terminate(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// GET /sessions/{id}/participants
func (h *SessionHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	participants, err := h.sessions.ListParticipants(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"participants": participants})
}

// POST /sessions/{id}/generate-link
func (h *SessionHandler) GenerateLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req struct {
		ExpiresInHours int `json:"expiresInHours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	issued, err := h.tokens.Issue(r.Context(), caller, chi.URLParam(r, "id"), req.ExpiresInHours)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, issued)
}

// GET /sessions/{id}/tokens
func (h *SessionHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	tokens, err := h.tokens.ListActive(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// DELETE /sessions/{id}/tokens/{tokenId}
func (h *SessionHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	if err := h.tokens.Revoke(r.Context(), caller, chi.URLParam(r, "id"), chi.URLParam(r, "tokenId")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
