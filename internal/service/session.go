package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/linkdesk/session-broker/internal/audit"
	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/realtime"
	"github.com/linkdesk/session-broker/internal/repository"
	"github.com/linkdesk/session-broker/internal/util"
)

const (
	maxCodeAttempts   = 10
	maxSessionNameLen = 120
)

// EventPublisher pushes an event to every realtime connection of a user.
type EventPublisher interface {
	Publish(ctx context.Context, userID string, event realtime.Event) error
}

type CreateSessionInput struct {
	Name           *string `json:"name,omitempty"`
	TargetUserID   *string `json:"targetUserId,omitempty"`
	AllowClipboard bool    `json:"allowClipboard"`
	IsPublic       bool    `json:"isPublic"`
}

type JoinResult struct {
	Session     *model.Session     `json:"session"`
	Participant *model.Participant `json:"participant"`
}

// joinRequest describes one join after the entry point has located the session.
type joinRequest struct {
	sessionID string
	role      model.ParticipantRole
	token     string
	viaCode   bool
}

type SessionService struct {
	store     repository.Store
	policy    AccessPolicy
	publisher EventPublisher
	now       func() time.Time
}

func NewSessionService(store repository.Store, publisher EventPublisher) *SessionService {
	return &SessionService{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *SessionService) Create(ctx context.Context, caller model.CallerIdentity, input CreateSessionInput) (*model.Session, error) {
	name := trimOptional(input.Name)
	if name != nil && len(*name) > maxSessionNameLen {
		return nil, apperrors.InvalidField("name", "too long")
	}
	target := trimOptional(input.TargetUserID)

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.store.Sessions().Create(ctx, model.CreateSessionParams{
		Code:           code,
		Name:           name,
		OwnerID:        caller.UserID,
		TargetUserID:   target,
		AllowClipboard: input.AllowClipboard,
		IsPublic:       input.IsPublic,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("code", session.Code).
		Bool("isPublic", session.IsPublic).
		Bool("hasTarget", session.HasTarget()).
		Msg("session created")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		UserID:    caller.UserID,
		SessionID: session.ID,
	})

	return session, nil
}

// uniqueCode draws codes until one is free among non-ended sessions.
func (s *SessionService) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := util.GenerateSessionCode()
		if err != nil {
			return "", apperrors.Internal("Failed to generate session code").WithCause(err)
		}
		inUse, err := s.store.Sessions().CodeInUse(ctx, code)
		if err != nil {
			return "", apperrors.Database(err)
		}
		if !inUse {
			return code, nil
		}
		log.Debug().Str("code", code).Int("attempt", attempt+1).Msg("session code collision")
	}
	return "", apperrors.Internal("Could not allocate a session code")
}

func (s *SessionService) Get(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	session, err := s.viewableSession(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) ListForCaller(ctx context.Context, caller model.CallerIdentity, limit, offset int) ([]model.Session, error) {
	sessions, err := s.store.Sessions().ListForUser(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

func (s *SessionService) ListParticipants(ctx context.Context, caller model.CallerIdentity, sessionID string) ([]model.ParticipantView, error) {
	if _, err := s.viewableSession(ctx, caller, sessionID); err != nil {
		return nil, err
	}
	return NewParticipantRegistry(s.store).List(ctx, sessionID)
}

func (s *SessionService) viewableSession(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	session, err := s.findSession(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}

	participant, err := NewParticipantRegistry(s.store).Find(ctx, sessionID, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanView(session, caller.UserID, participant != nil) {
		return nil, apperrors.PermissionDenied("Not allowed to view this session")
	}
	return session, nil
}

func (s *SessionService) JoinByID(ctx context.Context, caller model.CallerIdentity, sessionID string, role model.ParticipantRole) (*JoinResult, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}
	return s.join(ctx, caller, joinRequest{sessionID: sessionID, role: role})
}

func (s *SessionService) JoinByCode(ctx context.Context, caller model.CallerIdentity, code string, role model.ParticipantRole) (*JoinResult, error) {
	code = util.NormalizeCode(code)
	if !util.IsValidCode(code) {
		return nil, apperrors.InvalidField("code", "must be 6 characters")
	}

	session, err := s.store.Sessions().FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	return s.join(ctx, caller, joinRequest{sessionID: session.ID, role: role, viaCode: true})
}

// JoinByToken locates the session through an unexpired join token. When
// sessionID is non-empty it must name the token's session.
func (s *SessionService) JoinByToken(ctx context.Context, caller model.CallerIdentity, token, sessionID string, role model.ParticipantRole) (*JoinResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.MissingRequired("token")
	}
	if sessionID != "" && !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}

	row, err := s.store.Tokens().FindActiveByToken(ctx, token)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if row == nil {
		audit.Log(ctx, audit.Event{
			Type:      audit.EventJoinDenied,
			UserID:    caller.UserID,
			SessionID: sessionID,
			Details:   map[string]interface{}{"reason": "invalid_token", "token": util.MaskToken(token)},
		})
		return nil, apperrors.PermissionDenied("Invalid or expired token")
	}
	if sessionID != "" && row.SessionID != sessionID {
		return nil, apperrors.InvalidArgument("Token does not belong to this session")
	}

	return s.join(ctx, caller, joinRequest{sessionID: row.SessionID, role: role, token: token})
}

// join is the single core behind every join path. The session row stays
// locked from the policy decision through the status recompute.
func (s *SessionService) join(ctx context.Context, caller model.CallerIdentity, req joinRequest) (*JoinResult, error) {
	role := req.role
	if role == "" {
		role = model.RoleController
	}
	if !role.Valid() {
		return nil, apperrors.InvalidField("role", "must be host or controller")
	}

	var (
		result JoinResult
		rule   string
		joined []model.Participant
	)

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		session, err := tx.Sessions().LockByID(ctx, req.sessionID)
		if err != nil {
			return apperrors.Database(err)
		}

		tokenValid := false
		if req.token != "" && session != nil {
			if tokenValid, err = validateToken(ctx, tx, session.ID, req.token); err != nil {
				return err
			}
		}

		rule, err = s.policy.Authorize(JoinAttempt{
			Session:    session,
			CallerID:   caller.UserID,
			Role:       role,
			TokenValid: tokenValid,
			ViaCode:    req.viaCode,
		})
		if err != nil {
			return err
		}

		registry := NewParticipantRegistry(tx)
		participant, err := registry.UpsertJoin(ctx, session.ID, caller.UserID, role)
		if err != nil {
			return err
		}

		session, err = recomputeStatus(ctx, tx, session)
		if err != nil {
			return err
		}

		if joined, err = registry.ListJoined(ctx, session.ID); err != nil {
			return err
		}

		result = JoinResult{Session: session, Participant: participant}
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodePermissionDenied) {
			audit.Log(ctx, audit.Event{
				Type:      audit.EventJoinDenied,
				UserID:    caller.UserID,
				SessionID: req.sessionID,
				Details:   map[string]interface{}{"role": string(role), "viaCode": req.viaCode, "withToken": req.token != ""},
			})
		}
		return nil, err
	}

	log.Info().
		Str("sessionId", result.Session.ID).
		Str("userId", caller.UserID).
		Str("role", string(role)).
		Str("rule", rule).
		Str("status", string(result.Session.Status)).
		Msg("participant joined")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventJoin,
		UserID:    caller.UserID,
		SessionID: result.Session.ID,
		Details:   map[string]interface{}{"role": string(role), "rule": rule},
	})

	s.notifyStatus(ctx, result.Session, userIDs(joined))
	return &result, nil
}

func (s *SessionService) Leave(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}

	var (
		session *model.Session
		joined  []model.Participant
	)

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		locked, err := s.lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		registry := NewParticipantRegistry(tx)
		if _, err := registry.MarkLeft(ctx, sessionID, caller.UserID); err != nil {
			return err
		}

		if session, err = recomputeStatus(ctx, tx, locked); err != nil {
			return err
		}

		joined, err = registry.ListJoined(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("userId", caller.UserID).
		Str("status", string(session.Status)).
		Msg("participant left")

	s.notifyStatus(ctx, session, userIDs(joined))
	return session, nil
}

// Terminate ends the session. Terminating an ended session returns it as is.
func (s *SessionService) Terminate(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}

	var (
		session      *model.Session
		wasJoined    []model.Participant
		alreadyEnded bool
	)

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		locked, err := s.lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !locked.IsOwner(caller.UserID) {
			return apperrors.PermissionDenied("Only the session owner can terminate it")
		}
		if locked.IsEnded() {
			session, alreadyEnded = locked, true
			return nil
		}

		registry := NewParticipantRegistry(tx)
		if wasJoined, err = registry.ListJoined(ctx, sessionID); err != nil {
			return err
		}

		if session, err = tx.Sessions().MarkEnded(ctx, sessionID); err != nil {
			return apperrors.Database(err)
		}
		if session == nil {
			return apperrors.NotFound("Session")
		}

		if _, err := tx.Participants().MarkAllLeft(ctx, sessionID); err != nil {
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyEnded {
		return session, nil
	}

	log.Info().
		Str("sessionId", sessionID).
		Int("participants", len(wasJoined)).
		Msg("session terminated")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionTerminate,
		UserID:    caller.UserID,
		SessionID: sessionID,
	})

	s.notifyStatus(ctx, session, userIDs(wasJoined))
	return session, nil
}

// Delete removes an ended session with its participants, tokens and signals.
func (s *SessionService) Delete(ctx context.Context, caller model.CallerIdentity, sessionID string) error {
	if !util.IsValidUUID(sessionID) {
		return apperrors.InvalidField("sessionId", "must be a UUID")
	}

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		session, err := s.lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.IsOwner(caller.UserID) {
			return apperrors.PermissionDenied("Only the session owner can delete it")
		}
		if !session.IsEnded() {
			return apperrors.FailedPrecondition("Session must be ended before it can be deleted")
		}
		if err := tx.Sessions().Delete(ctx, sessionID); err != nil {
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("sessionId", sessionID).Msg("session deleted")
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionDelete,
		UserID:    caller.UserID,
		SessionID: sessionID,
	})
	return nil
}

func (s *SessionService) findSession(ctx context.Context, store repository.Store, sessionID string) (*model.Session, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}
	session, err := store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

func (s *SessionService) lockSession(ctx context.Context, tx repository.Store, sessionID string) (*model.Session, error) {
	session, err := tx.Sessions().LockByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// recomputeStatus derives pending/active from the joined roles. It must run
// while tx holds the session row lock. Ended sessions are returned unchanged.
func recomputeStatus(ctx context.Context, tx repository.Store, session *model.Session) (*model.Session, error) {
	if session.IsEnded() {
		return session, nil
	}

	registry := NewParticipantRegistry(tx)
	hostJoined, err := registry.HasJoined(ctx, session.ID, model.RoleHost)
	if err != nil {
		return nil, err
	}
	controllerJoined, err := registry.HasJoined(ctx, session.ID, model.RoleController)
	if err != nil {
		return nil, err
	}

	next := model.SessionStatusPending
	if hostJoined && controllerJoined {
		next = model.SessionStatusActive
	}
	if next == session.Status {
		return session, nil
	}

	updated, err := tx.Sessions().UpdateStatus(ctx, session.ID, next)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if updated == nil {
		return session, nil
	}
	return updated, nil
}

// notifyStatus pushes the session status to each user. Failures are logged.
func (s *SessionService) notifyStatus(ctx context.Context, session *model.Session, recipients []string) {
	if s.publisher == nil || len(recipients) == 0 {
		return
	}

	event, err := realtime.NewEvent(realtime.EventSessionStatus, model.StatusPayload{
		Status:    session.Status,
		SessionID: session.ID,
		Timestamp: s.now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to encode status event")
		return
	}

	for _, userID := range recipients {
		if err := s.publisher.Publish(ctx, userID, event); err != nil {
			log.Warn().
				Err(err).
				Str("sessionId", session.ID).
				Str("userId", userID).
				Msg("failed to push session status")
		}
	}
}

func userIDs(participants []model.Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
