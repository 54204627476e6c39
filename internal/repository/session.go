package repository

import (
	"context"
	"time"

	"github.com/linkdesk/session-broker/internal/database"
	"github.com/linkdesk/session-broker/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// LockByID loads the session and holds its row lock until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id string) (*model.Session, error)
	// FindByCode returns the newest live session carrying code, or the newest
	// ended one when no live session has it.
	FindByCode(ctx context.Context, code string) (*model.Session, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	// UpdateStatus writes a derived status. Ended sessions are left untouched
	// and reported as (nil, nil).
	UpdateStatus(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error)
	MarkEnded(ctx context.Context, id string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db database.DBTX) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return optionalRow(&session, err)
}

func (r *sessionRepo) LockByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1 FOR UPDATE
	`, id)
	return optionalRow(&session, err)
}

func (r *sessionRepo) FindByCode(ctx context.Context, code string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE code = $1
		ORDER BY (status = 'ended'), created_at DESC
		LIMIT 1
	`, code)
	return optionalRow(&session, err)
}

func (r *sessionRepo) CodeInUse(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM sessions WHERE code = $1 AND status <> 'ended')
	`, code)
	return exists, err
}

func (r *sessionRepo) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT s.* FROM sessions s
		WHERE s.owner_id = $1
		OR s.target_user_id = $1
		OR EXISTS (
			SELECT 1 FROM session_participants p
			WHERE p.session_id = s.id AND p.user_id = $1
		)
		ORDER BY s.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return sessions, err
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (code, name, owner_id, target_user_id, allow_clipboard, is_public)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.Code, params.Name, params.OwnerID, params.TargetUserID, params.AllowClipboard, params.IsPublic)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id string, status model.SessionStatus) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			status = $2,
			updated_at = $3
		WHERE id = $1 AND status <> 'ended'
		RETURNING *
	`, id, status, time.Now())
	return optionalRow(&session, err)
}

func (r *sessionRepo) MarkEnded(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	now := time.Now()
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			status = 'ended',
			ended_at = COALESCE(ended_at, $2),
			updated_at = $2
		WHERE id = $1
		RETURNING *
	`, id, now)
	return optionalRow(&session, err)
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}
