package repository

import (
	"context"

	"github.com/linkdesk/session-broker/internal/database"
	"github.com/linkdesk/session-broker/internal/model"
)

// SignalRepository is append-only.
type SignalRepository interface {
	Create(ctx context.Context, params model.CreateSignalParams) (*model.Signal, error)
}

type signalRepo struct {
	db database.DBTX
}

func NewSignalRepository(db database.DBTX) SignalRepository {
	return &signalRepo{db: db}
}

func (r *signalRepo) Create(ctx context.Context, params model.CreateSignalParams) (*model.Signal, error) {
	var s model.Signal
	err := r.db.GetContext(ctx, &s, `
		INSERT INTO signals (session_id, type, sender_user_id, recipient_user_id, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING *
	`, params.SessionID, params.Type, params.SenderUserID, params.RecipientUserID, string(params.Payload))
	if err != nil {
		return nil, err
	}
	return &s, nil
}
