package model

import "time"

type Session struct {
	ID             string        `db:"id" json:"id"`
	Code           string        `db:"code" json:"code"`
	Name           *string       `db:"name" json:"name,omitempty"`
	OwnerID        string        `db:"owner_id" json:"ownerId"`
	TargetUserID   *string       `db:"target_user_id" json:"targetUserId,omitempty"`
	Status         SessionStatus `db:"status" json:"status"`
	AllowClipboard bool          `db:"allow_clipboard" json:"allowClipboard"`
	IsPublic       bool          `db:"is_public" json:"isPublic"`
	EndedAt        *time.Time    `db:"ended_at" json:"endedAt,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`
}

func (s *Session) IsEnded() bool {
	return s.Status == SessionStatusEnded
}

func (s *Session) IsOwner(userID string) bool {
	return s.OwnerID == userID
}

func (s *Session) IsTarget(userID string) bool {
	return s.TargetUserID != nil && *s.TargetUserID == userID
}

func (s *Session) HasTarget() bool {
	return s.TargetUserID != nil && *s.TargetUserID != ""
}

type CreateSessionParams struct {
	Code           string
	Name           *string
	OwnerID        string
	TargetUserID   *string
	AllowClipboard bool
	IsPublic       bool
}
