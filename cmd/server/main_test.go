package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkdesk/session-broker/internal/config"
	"github.com/linkdesk/session-broker/internal/handler"
	"github.com/linkdesk/session-broker/internal/middleware"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/realtime"
	"github.com/linkdesk/session-broker/internal/repository/memory"
	"github.com/linkdesk/session-broker/internal/service"
)

const testSecret = "router-test-secret"

type testServer struct {
	router http.Handler
	broker *realtime.Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:           testSecret,
		PublicBaseURL:       "https://desk.example.com",
		FanoutConcurrency:   4,
		JoinRateLimitPerMin: 30,
	}
	broker := realtime.NewBroker(nil)
	t.Cleanup(broker.Close)

	router := newRouter(routerDeps{
		cfg:     cfg,
		store:   memory.NewStore(),
		broker:  broker,
		limiter: middleware.NewMemoryRateLimiter(),
		health:  map[string]handler.Pinger{},
	})
	return &testServer{router: router, broker: broker}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) call(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+bearer(t, userID))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// nextEvent drains events until one of the wanted type arrives.
func nextEvent(t *testing.T, client *realtime.Client, eventType string) realtime.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-client.Events:
			if event.Type == eventType {
				return event
			}
		case <-timeout:
			t.Fatalf("no %s event received", eventType)
		}
	}
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	rec := s.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/sessions", "/realtime/events"} {
		rec := s.call(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := s.call(t, http.MethodPost, "/signaling/publish", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_PrivateSessionFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.call(t, http.MethodPost, "/sessions", "alice", map[string]any{
		"name":         "Printer help",
		"targetUserId": "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[model.Session](t, rec)
	assert.Equal(t, model.SessionStatusPending, session.Status)
	assert.Len(t, session.Code, 6)

	rec = s.call(t, http.MethodPost, "/sessions/join", "bob", map[string]any{
		"sessionId": session.ID,
		"role":      "host",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	hostEvents := s.broker.Subscribe("bob")
	defer s.broker.Unsubscribe(hostEvents)

	rec = s.call(t, http.MethodPost, "/sessions/join", "mallory", map[string]any{
		"code": session.Code,
		"role": "host",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.call(t, http.MethodPost, "/sessions/"+session.ID+"/generate-link", "alice", map[string]any{
		"expiresInHours": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	issued := decode[service.IssuedToken](t, rec)
	assert.True(t, strings.HasPrefix(issued.URL, "https://desk.example.com/join?"))

	rec = s.call(t, http.MethodPost, "/sessions/join-by-token", "carol", map[string]any{
		"token":     issued.Token.Token,
		"sessionId": session.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	joined := decode[service.JoinResult](t, rec)
	assert.Equal(t, model.SessionStatusActive, joined.Session.Status)
	assert.Equal(t, model.RoleController, joined.Participant.Role)

	statusEvent := nextEvent(t, hostEvents, realtime.EventSessionStatus)
	assert.Contains(t, string(statusEvent.Data), `"status":"active"`)

	rec = s.call(t, http.MethodPost, "/signaling/publish", "carol", map[string]any{
		"sessionId":       session.ID,
		"type":            "ice",
		"recipientUserId": "bob",
		"payload":         map[string]any{"candidate": "candidate:1 1 UDP 2122252543 192.168.1.2 54321 typ host"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	signalEvent := nextEvent(t, hostEvents, realtime.EventSignal)
	var signal model.Signal
	require.NoError(t, json.Unmarshal(signalEvent.Data, &signal))
	assert.Equal(t, "carol", signal.SenderUserID)
	assert.Equal(t, model.SignalICE, signal.Type)

	rec = s.call(t, http.MethodPost, "/session/broadcast-status", "bob", map[string]any{"sessionId": session.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[service.BroadcastResult](t, rec)
	assert.Equal(t, service.BroadcastResult{Sent: 1, Failed: 0}, result)

	rec = s.call(t, http.MethodDelete, "/sessions/"+session.ID, "alice", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = s.call(t, http.MethodPost, "/sessions/"+session.ID+"/terminate", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.SessionStatusEnded, decode[model.Session](t, rec).Status)

	rec = s.call(t, http.MethodDelete, "/sessions/"+session.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.call(t, http.MethodGet, "/sessions/"+session.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_WebSocketWithQueryToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime/ws?access_token=" + bearer(t, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event realtime.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, realtime.EventConnected, event.Type)
}
