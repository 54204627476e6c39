package repository

import (
	"context"
	"time"

	"github.com/linkdesk/session-broker/internal/database"
	"github.com/linkdesk/session-broker/internal/model"
)

type ParticipantRepository interface {
	Find(ctx context.Context, sessionID, userID string) (*model.Participant, error)
	// UpsertJoin inserts or rejoins the (sessionID, userID) row in one statement.
	UpsertJoin(ctx context.Context, sessionID, userID string, role model.ParticipantRole) (*model.Participant, error)
	// MarkLeft flips a joined row to left. A missing or already-left row yields (nil, nil).
	MarkLeft(ctx context.Context, sessionID, userID string) (*model.Participant, error)
	MarkAllLeft(ctx context.Context, sessionID string) (int64, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.Participant, error)
	ListJoined(ctx context.Context, sessionID string) ([]model.Participant, error)
	HasJoined(ctx context.Context, sessionID string, role model.ParticipantRole) (bool, error)
}

type participantRepo struct {
	db database.DBTX
}

func NewParticipantRepository(db database.DBTX) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) Find(ctx context.Context, sessionID, userID string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM session_participants
		WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID)
	return optionalRow(&p, err)
}

func (r *participantRepo) UpsertJoin(ctx context.Context, sessionID, userID string, role model.ParticipantRole) (*model.Participant, error) {
	var p model.Participant
	err := r.db.GetContext(ctx, &p, `
		INSERT INTO session_participants (session_id, user_id, role, status, connected_at, updated_at)
		VALUES ($1, $2, $3, 'joined', $4, $4)
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			role = EXCLUDED.role,
			status = 'joined',
			connected_at = EXCLUDED.connected_at,
			disconnected_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING *
	`, sessionID, userID, role, time.Now())
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepo) MarkLeft(ctx context.Context, sessionID, userID string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.GetContext(ctx, &p, `
		UPDATE session_participants SET
			status = 'left',
			disconnected_at = $3,
			updated_at = $3
		WHERE session_id = $1 AND user_id = $2 AND status = 'joined'
		RETURNING *
	`, sessionID, userID, time.Now())
	return optionalRow(&p, err)
}

func (r *participantRepo) MarkAllLeft(ctx context.Context, sessionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET
			status = 'left',
			disconnected_at = $2,
			updated_at = $2
		WHERE session_id = $1 AND status = 'joined'
	`, sessionID, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *participantRepo) ListBySession(ctx context.Context, sessionID string) ([]model.Participant, error) {
	participants := []model.Participant{}
	err := r.db.SelectContext(ctx, &participants, `
		SELECT * FROM session_participants
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	return participants, err
}

func (r *participantRepo) ListJoined(ctx context.Context, sessionID string) ([]model.Participant, error) {
	participants := []model.Participant{}
	err := r.db.SelectContext(ctx, &participants, `
		SELECT * FROM session_participants
		WHERE session_id = $1 AND status = 'joined'
		ORDER BY created_at ASC
	`, sessionID)
	return participants, err
}

func (r *participantRepo) HasJoined(ctx context.Context, sessionID string, role model.ParticipantRole) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM session_participants
			WHERE session_id = $1 AND role = $2 AND status = 'joined'
		)
	`, sessionID, role)
	return exists, err
}
