package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/realtime"
	"github.com/linkdesk/session-broker/internal/repository/memory"
)

type publishedEvent struct {
	UserID string
	Event  realtime.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	failOn map[string]bool
}

func (p *recordingPublisher) Publish(ctx context.Context, userID string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[userID] {
		return errors.New("publish failed")
	}
	p.events = append(p.events, publishedEvent{UserID: userID, Event: event})
	return nil
}

func (p *recordingPublisher) recipients(eventType string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Event.Type == eventType {
			out = append(out, e.UserID)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type fixture struct {
	store     *memory.Store
	publisher *recordingPublisher
	sessions  *SessionService
	tokens    *TokenService
	relay     *SignalRelay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	pub := &recordingPublisher{failOn: map[string]bool{}}
	return &fixture{
		store:     store,
		publisher: pub,
		sessions:  NewSessionService(store, pub),
		tokens:    NewTokenService(store, "https://desk.example.com/"),
		relay:     NewSignalRelay(store, pub, 4),
	}
}

func caller(id string) model.CallerIdentity {
	return model.CallerIdentity{UserID: id}
}

func (f *fixture) createSession(t *testing.T, owner string, input CreateSessionInput) *model.Session {
	t.Helper()
	session, err := f.sessions.Create(context.Background(), caller(owner), input)
	require.NoError(t, err)
	return session
}

// activeSession returns a session with host and controller joined.
func (f *fixture) activeSession(t *testing.T, owner, host, controller string) *model.Session {
	t.Helper()
	ctx := context.Background()
	session := f.createSession(t, owner, CreateSessionInput{TargetUserID: &host})

	_, err := f.sessions.JoinByID(ctx, caller(host), session.ID, model.RoleHost)
	require.NoError(t, err)
	res, err := f.sessions.JoinByCode(ctx, caller(controller), session.Code, model.RoleController)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusActive, res.Session.Status)
	return res.Session
}
