package model

import "time"

type Participant struct {
	SessionID      string            `db:"session_id" json:"sessionId"`
	UserID         string            `db:"user_id" json:"userId"`
	Role           ParticipantRole   `db:"role" json:"role"`
	Status         ParticipantStatus `db:"status" json:"status"`
	ConnectedAt    *time.Time        `db:"connected_at" json:"connectedAt,omitempty"`
	DisconnectedAt *time.Time        `db:"disconnected_at" json:"disconnectedAt,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
}

func (p *Participant) IsJoined() bool {
	return p.Status == ParticipantJoined
}

// ParticipantView is a participant row enriched with optional profile metadata.
type ParticipantView struct {
	Participant
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type Profile struct {
	UserID      string  `db:"user_id" json:"userId"`
	DisplayName *string `db:"display_name" json:"displayName,omitempty"`
	AvatarURL   *string `db:"avatar_url" json:"avatarUrl,omitempty"`
}
