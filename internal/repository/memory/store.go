// Package memory implements repository.Store in process memory. It is used by
// STORAGE_DRIVER=memory and by service tests. InTx serializes every
// transaction behind one mutex and restores a snapshot when fn fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/repository"
	"github.com/linkdesk/session-broker/internal/util"
)

type participantKey struct {
	sessionID string
	userID    string
}

type state struct {
	sessions     map[string]model.Session
	participants map[participantKey]model.Participant
	tokens       map[string]model.SessionToken
	signals      []model.Signal
	profiles     map[string]model.Profile
}

func newState() *state {
	return &state{
		sessions:     make(map[string]model.Session),
		participants: make(map[participantKey]model.Participant),
		tokens:       make(map[string]model.SessionToken),
		profiles:     make(map[string]model.Profile),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	c.signals = append([]model.Signal(nil), s.signals...)
	return c
}

type shared struct {
	mu    sync.Mutex
	data  *state
	clock func() time.Time
	seq   int64
}

// Store is an in-memory repository.Store.
type Store struct {
	sh   *shared
	inTx bool
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{sh: &shared{data: newState(), clock: time.Now}}
}

// SetClock overrides the time source used for timestamps and expiry checks.
func (s *Store) SetClock(clock func() time.Time) {
	s.sh.mu.Lock()
	s.sh.clock = clock
	s.sh.mu.Unlock()
}

// PutProfile seeds display metadata for a user.
func (s *Store) PutProfile(p model.Profile) {
	s.sh.mu.Lock()
	s.sh.data.profiles[p.UserID] = p
	s.sh.mu.Unlock()
}

// AllSignals returns a copy of every signal written so far.
func (s *Store) AllSignals() []model.Signal {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return append([]model.Signal(nil), s.sh.data.signals...)
}

func (s *Store) Sessions() repository.SessionRepository         { return &sessionRepo{s} }
func (s *Store) Participants() repository.ParticipantRepository { return &participantRepo{s} }
func (s *Store) Tokens() repository.TokenRepository             { return &tokenRepo{s} }
func (s *Store) Signals() repository.SignalRepository           { return &signalRepo{s} }
func (s *Store) Profiles() repository.ProfileRepository         { return &profileRepo{s} }

func (s *Store) InTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	snapshot := s.sh.data.clone()
	if err := fn(&Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.data = snapshot
		return err
	}
	return nil
}

// with runs fn under the store lock unless the caller already holds it.
func (s *Store) with(fn func(d *state, now time.Time)) {
	if !s.inTx {
		s.sh.mu.Lock()
		defer s.sh.mu.Unlock()
	}
	fn(s.sh.data, s.sh.clock())
}

// nextStamp keeps creation order stable when the clock does not advance.
func (s *Store) nextStamp(now time.Time) time.Time {
	s.sh.seq++
	return now.Add(time.Duration(s.sh.seq) * time.Nanosecond)
}

type sessionRepo struct{ s *Store }

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var out *model.Session
	r.s.with(func(d *state, _ time.Time) {
		if sess, ok := d.sessions[id]; ok {
			out = &sess
		}
	})
	return out, nil
}

func (r *sessionRepo) LockByID(ctx context.Context, id string) (*model.Session, error) {
	return r.FindByID(ctx, id)
}

func (r *sessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	var live, ended *model.Session
	r.s.with(func(d *state, _ time.Time) {
		for _, sess := range d.sessions {
			if sess.Code != code {
				continue
			}
			found := sess
			if sess.IsEnded() {
				if ended == nil || sess.CreatedAt.After(ended.CreatedAt) {
					ended = &found
				}
			} else if live == nil || sess.CreatedAt.After(live.CreatedAt) {
				live = &found
			}
		}
	})
	if live != nil {
		return live, nil
	}
	return ended, nil
}

func (r *sessionRepo) CodeInUse(ctx context.Context, code string) (bool, error) {
	sess, err := r.FindByCode(ctx, code)
	return sess != nil && !sess.IsEnded(), err
}

func (r *sessionRepo) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Session, error) {
	sessions := []model.Session{}
	r.s.with(func(d *state, _ time.Time) {
		for _, sess := range d.sessions {
			_, isParticipant := d.participants[participantKey{sess.ID, userID}]
			if sess.IsOwner(userID) || sess.IsTarget(userID) || isParticipant {
				sessions = append(sessions, sess)
			}
		}
	})

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	if offset >= len(sessions) {
		return []model.Session{}, nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var out model.Session
	r.s.with(func(d *state, now time.Time) {
		stamp := r.s.nextStamp(now)
		out = model.Session{
			ID:             uuid.NewString(),
			Code:           params.Code,
			Name:           params.Name,
			OwnerID:        params.OwnerID,
			TargetUserID:   params.TargetUserID,
			Status:         model.SessionStatusPending,
			AllowClipboard: params.AllowClipboard,
			IsPublic:       params.IsPublic,
			CreatedAt:      stamp,
			UpdatedAt:      stamp,
		}
		d.sessions[out.ID] = out
	})
	return &out, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error) {
	var out *model.Session
	r.s.with(func(d *state, now time.Time) {
		sess, ok := d.sessions[id]
		if !ok || sess.IsEnded() {
			return
		}
		sess.Status = status
		sess.UpdatedAt = now
		d.sessions[id] = sess
		out = &sess
	})
	return out, nil
}

func (r *sessionRepo) MarkEnded(ctx context.Context, id string) (*model.Session, error) {
	var out *model.Session
	r.s.with(func(d *state, now time.Time) {
		sess, ok := d.sessions[id]
		if !ok {
			return
		}
		if sess.EndedAt == nil {
			endedAt := now
			sess.EndedAt = &endedAt
		}
		sess.Status = model.SessionStatusEnded
		sess.UpdatedAt = now
		d.sessions[id] = sess
		out = &sess
	})
	return out, nil
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	r.s.with(func(d *state, _ time.Time) {
		delete(d.sessions, id)
		for k := range d.participants {
			if k.sessionID == id {
				delete(d.participants, k)
			}
		}
		for k, t := range d.tokens {
			if t.SessionID == id {
				delete(d.tokens, k)
			}
		}
		kept := d.signals[:0]
		for _, sig := range d.signals {
			if sig.SessionID != id {
				kept = append(kept, sig)
			}
		}
		d.signals = kept
	})
	return nil
}

type participantRepo struct{ s *Store }

func (r *participantRepo) Find(ctx context.Context, sessionID, userID string) (*model.Participant, error) {
	var out *model.Participant
	r.s.with(func(d *state, _ time.Time) {
		if p, ok := d.participants[participantKey{sessionID, userID}]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r *participantRepo) UpsertJoin(ctx context.Context, sessionID, userID string, role model.ParticipantRole) (*model.Participant, error) {
	var out model.Participant
	r.s.with(func(d *state, now time.Time) {
		key := participantKey{sessionID, userID}
		p, ok := d.participants[key]
		if !ok {
			p = model.Participant{
				SessionID: sessionID,
				UserID:    userID,
				CreatedAt: r.s.nextStamp(now),
			}
		}
		connectedAt := now
		p.Role = role
		p.Status = model.ParticipantJoined
		p.ConnectedAt = &connectedAt
		p.DisconnectedAt = nil
		p.UpdatedAt = now
		d.participants[key] = p
		out = p
	})
	return &out, nil
}

func (r *participantRepo) MarkLeft(ctx context.Context, sessionID, userID string) (*model.Participant, error) {
	var out *model.Participant
	r.s.with(func(d *state, now time.Time) {
		key := participantKey{sessionID, userID}
		p, ok := d.participants[key]
		if !ok || !p.IsJoined() {
			return
		}
		disconnectedAt := now
		p.Status = model.ParticipantLeft
		p.DisconnectedAt = &disconnectedAt
		p.UpdatedAt = now
		d.participants[key] = p
		out = &p
	})
	return out, nil
}

func (r *participantRepo) MarkAllLeft(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	r.s.with(func(d *state, now time.Time) {
		for key, p := range d.participants {
			if key.sessionID != sessionID || !p.IsJoined() {
				continue
			}
			disconnectedAt := now
			p.Status = model.ParticipantLeft
			p.DisconnectedAt = &disconnectedAt
			p.UpdatedAt = now
			d.participants[key] = p
			count++
		}
	})
	return count, nil
}

func (r *participantRepo) list(sessionID string, joinedOnly bool) []model.Participant {
	participants := []model.Participant{}
	r.s.with(func(d *state, _ time.Time) {
		for key, p := range d.participants {
			if key.sessionID != sessionID {
				continue
			}
			if joinedOnly && !p.IsJoined() {
				continue
			}
			participants = append(participants, p)
		}
	})
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})
	return participants
}

func (r *participantRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Participant, error) {
	return r.list(sessionID, false), nil
}

func (r *participantRepo) ListJoined(ctx context.Context, sessionID string) ([]model.Participant, error) {
	return r.list(sessionID, true), nil
}

func (r *participantRepo) HasJoined(ctx context.Context, sessionID string, role model.ParticipantRole) (bool, error) {
	for _, p := range r.list(sessionID, true) {
		if p.Role == role {
			return true, nil
		}
	}
	return false, nil
}

type tokenRepo struct{ s *Store }

func (r *tokenRepo) Create(ctx context.Context, params model.CreateSessionTokenParams) (*model.SessionToken, error) {
	var out model.SessionToken
	r.s.with(func(d *state, now time.Time) {
		out = model.SessionToken{
			ID:        uuid.NewString(),
			SessionID: params.SessionID,
			Token:     params.Token,
			Purpose:   params.Purpose,
			CreatedBy: params.CreatedBy,
			ExpiresAt: params.ExpiresAt,
			CreatedAt: r.s.nextStamp(now),
		}
		d.tokens[out.ID] = out
	})
	return &out, nil
}

func (r *tokenRepo) FindByID(ctx context.Context, id string) (*model.SessionToken, error) {
	var out *model.SessionToken
	r.s.with(func(d *state, _ time.Time) {
		if t, ok := d.tokens[id]; ok {
			out = &t
		}
	})
	return out, nil
}

func (r *tokenRepo) FindActiveByToken(ctx context.Context, token string) (*model.SessionToken, error) {
	var out *model.SessionToken
	r.s.with(func(d *state, now time.Time) {
		for _, t := range d.tokens {
			if util.ConstantTimeEqual(t.Token, token) && t.ExpiresAt.After(now) {
				found := t
				out = &found
				return
			}
		}
	})
	return out, nil
}

func (r *tokenRepo) ExistsActive(ctx context.Context, sessionID, token string) (bool, error) {
	var exists bool
	r.s.with(func(d *state, now time.Time) {
		for _, t := range d.tokens {
			if util.ConstantTimeEqual(t.Token, token) && t.IsValidAt(sessionID, now) {
				exists = true
				return
			}
		}
	})
	return exists, nil
}

func (r *tokenRepo) ListActive(ctx context.Context, sessionID string) ([]model.SessionToken, error) {
	tokens := []model.SessionToken{}
	r.s.with(func(d *state, now time.Time) {
		for _, t := range d.tokens {
			if t.IsValidAt(sessionID, now) {
				tokens = append(tokens, t)
			}
		}
	})
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (r *tokenRepo) Delete(ctx context.Context, id string) error {
	r.s.with(func(d *state, _ time.Time) {
		delete(d.tokens, id)
	})
	return nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var count int64
	r.s.with(func(d *state, now time.Time) {
		for id, t := range d.tokens {
			if t.ExpiresAt.Before(now) {
				delete(d.tokens, id)
				count++
			}
		}
	})
	return count, nil
}

type signalRepo struct{ s *Store }

func (r *signalRepo) Create(ctx context.Context, params model.CreateSignalParams) (*model.Signal, error) {
	var out model.Signal
	r.s.with(func(d *state, now time.Time) {
		out = model.Signal{
			ID:              uuid.NewString(),
			SessionID:       params.SessionID,
			Type:            params.Type,
			SenderUserID:    params.SenderUserID,
			RecipientUserID: params.RecipientUserID,
			Payload:         append([]byte(nil), params.Payload...),
			CreatedAt:       r.s.nextStamp(now),
		}
		d.signals = append(d.signals, out)
	})
	return &out, nil
}

type profileRepo struct{ s *Store }

func (r *profileRepo) FindByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Profile, error) {
	result := make(map[string]model.Profile, len(userIDs))
	r.s.with(func(d *state, _ time.Time) {
		for _, id := range userIDs {
			if p, ok := d.profiles[id]; ok {
				result[id] = p
			}
		}
	})
	return result, nil
}
