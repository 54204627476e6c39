package model

import (
	"encoding/json"
	"time"
)

type Signal struct {
	ID              string          `db:"id" json:"id"`
	SessionID       string          `db:"session_id" json:"sessionId"`
	Type            SignalType      `db:"type" json:"type"`
	SenderUserID    string          `db:"sender_user_id" json:"senderUserId"`
	RecipientUserID *string         `db:"recipient_user_id" json:"recipientUserId,omitempty"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

type CreateSignalParams struct {
	SessionID       string
	Type            SignalType
	SenderUserID    string
	RecipientUserID *string
	Payload         json.RawMessage
}

// StatusPayload is the body of a status signal.
type StatusPayload struct {
	Status    SessionStatus `json:"status"`
	SessionID string        `json:"sessionId"`
	Timestamp int64         `json:"timestamp"`
}
