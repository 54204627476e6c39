package repository

import (
	"context"

	"github.com/linkdesk/session-broker/internal/database"
	"github.com/linkdesk/session-broker/internal/model"
)

type TokenRepository interface {
	Create(ctx context.Context, params model.CreateSessionTokenParams) (*model.SessionToken, error)
	FindByID(ctx context.Context, id string) (*model.SessionToken, error)
	// FindActiveByToken returns an unexpired token row by its opaque value.
	FindActiveByToken(ctx context.Context, token string) (*model.SessionToken, error)
	ExistsActive(ctx context.Context, sessionID, token string) (bool, error)
	ListActive(ctx context.Context, sessionID string) ([]model.SessionToken, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type tokenRepo struct {
	db database.DBTX
}

func NewTokenRepository(db database.DBTX) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Create(ctx context.Context, params model.CreateSessionTokenParams) (*model.SessionToken, error) {
	var t model.SessionToken
	err := r.db.GetContext(ctx, &t, `
		INSERT INTO session_tokens (session_id, token, purpose, created_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.SessionID, params.Token, params.Purpose, params.CreatedBy, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tokenRepo) FindByID(ctx context.Context, id string) (*model.SessionToken, error) {
	var t model.SessionToken
	err := r.db.GetContext(ctx, &t, `SELECT * FROM session_tokens WHERE id = $1`, id)
	return optionalRow(&t, err)
}

func (r *tokenRepo) FindActiveByToken(ctx context.Context, token string) (*model.SessionToken, error) {
	var t model.SessionToken
	err := r.db.GetContext(ctx, &t, `
		SELECT * FROM session_tokens
		WHERE token = $1 AND expires_at > NOW()
	`, token)
	return optionalRow(&t, err)
}

func (r *tokenRepo) ExistsActive(ctx context.Context, sessionID, token string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM session_tokens
			WHERE session_id = $1 AND token = $2 AND expires_at > NOW()
		)
	`, sessionID, token)
	return exists, err
}

func (r *tokenRepo) ListActive(ctx context.Context, sessionID string) ([]model.SessionToken, error) {
	tokens := []model.SessionToken{}
	err := r.db.SelectContext(ctx, &tokens, `
		SELECT * FROM session_tokens
		WHERE session_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, sessionID)
	return tokens, err
}

func (r *tokenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE id = $1`, id)
	return err
}

func (r *tokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM session_tokens WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
