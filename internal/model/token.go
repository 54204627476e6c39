package model

import "time"

type SessionToken struct {
	ID        string       `db:"id" json:"id"`
	SessionID string       `db:"session_id" json:"sessionId"`
	Token     string       `db:"token" json:"token"`
	Purpose   TokenPurpose `db:"purpose" json:"purpose"`
	CreatedBy string       `db:"created_by" json:"createdBy"`
	ExpiresAt time.Time    `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
}

func (t *SessionToken) IsValidAt(sessionID string, now time.Time) bool {
	return t.SessionID == sessionID && t.ExpiresAt.After(now)
}

type CreateSessionTokenParams struct {
	SessionID string
	Token     string
	Purpose   TokenPurpose
	CreatedBy string
	ExpiresAt time.Time
}
