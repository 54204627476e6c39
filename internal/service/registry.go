package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/repository"
)

// ParticipantRegistry tracks who is in which session. Bind it to a
// transaction-scoped Store when its writes must commit with other changes.
type ParticipantRegistry struct {
	store repository.Store
}

func NewParticipantRegistry(store repository.Store) *ParticipantRegistry {
	return &ParticipantRegistry{store: store}
}

// UpsertJoin inserts or re-activates the (session, user) row in one statement.
func (r *ParticipantRegistry) UpsertJoin(ctx context.Context, sessionID, userID string, role model.ParticipantRole) (*model.Participant, error) {
	p, err := r.store.Participants().UpsertJoin(ctx, sessionID, userID, role)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return p, nil
}

// MarkLeft flips a joined row to left. A missing or already-left row is NotFound.
func (r *ParticipantRegistry) MarkLeft(ctx context.Context, sessionID, userID string) (*model.Participant, error) {
	p, err := r.store.Participants().MarkLeft(ctx, sessionID, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if p == nil {
		return nil, apperrors.NotFound("Participant")
	}
	return p, nil
}

func (r *ParticipantRegistry) Find(ctx context.Context, sessionID, userID string) (*model.Participant, error) {
	p, err := r.store.Participants().Find(ctx, sessionID, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return p, nil
}

func (r *ParticipantRegistry) HasJoined(ctx context.Context, sessionID string, role model.ParticipantRole) (bool, error) {
	ok, err := r.store.Participants().HasJoined(ctx, sessionID, role)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return ok, nil
}

func (r *ParticipantRegistry) ListJoined(ctx context.Context, sessionID string) ([]model.Participant, error) {
	ps, err := r.store.Participants().ListJoined(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return ps, nil
}

// List returns every participant row of the session, joined or left, with
// profile metadata attached where available. Profile lookup failures are
// logged and the rows are returned without it.
func (r *ParticipantRegistry) List(ctx context.Context, sessionID string) ([]model.ParticipantView, error) {
	participants, err := r.store.Participants().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	views := make([]model.ParticipantView, len(participants))
	if len(participants) == 0 {
		return views, nil
	}

	userIDs := make([]string, len(participants))
	for i, p := range participants {
		userIDs[i] = p.UserID
	}

	profiles, err := r.store.Profiles().FindByUserIDs(ctx, userIDs)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("profile lookup failed")
		profiles = nil
	}

	for i, p := range participants {
		views[i] = model.ParticipantView{Participant: p}
		if profile, ok := profiles[p.UserID]; ok {
			views[i].DisplayName = profile.DisplayName
			views[i].AvatarURL = profile.AvatarURL
		}
	}
	return views, nil
}
