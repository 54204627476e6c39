package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/linkdesk/session-broker/internal/database"
)

// Store bundles the repositories bound to one connection or one transaction.
type Store interface {
	Sessions() SessionRepository
	Participants() ParticipantRepository
	Tokens() TokenRepository
	Signals() SignalRepository
	Profiles() ProfileRepository

	// InTx runs fn with a Store whose repositories share a single transaction.
	// Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	db   *database.DB
	q    database.DBTX
	inTx bool
}

func NewStore(db *database.DB) Store {
	return &pgStore{db: db, q: db.DB}
}

func (s *pgStore) Sessions() SessionRepository         { return NewSessionRepository(s.q) }
func (s *pgStore) Participants() ParticipantRepository { return NewParticipantRepository(s.q) }
func (s *pgStore) Tokens() TokenRepository             { return NewTokenRepository(s.q) }
func (s *pgStore) Signals() SignalRepository           { return NewSignalRepository(s.q) }
func (s *pgStore) Profiles() ProfileRepository         { return NewProfileRepository(s.q) }

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgStore{db: s.db, q: tx, inTx: true})
	})
}
