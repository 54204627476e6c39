package model

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusEnded   SessionStatus = "ended"
)

type ParticipantRole string

const (
	RoleHost       ParticipantRole = "host"
	RoleController ParticipantRole = "controller"
)

func (r ParticipantRole) Valid() bool {
	return r == RoleHost || r == RoleController
}

type ParticipantStatus string

const (
	ParticipantJoined ParticipantStatus = "joined"
	ParticipantLeft   ParticipantStatus = "left"
)

type TokenPurpose string

const TokenPurposeJoin TokenPurpose = "join"

type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice"
	SignalStatus SignalType = "status"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICE, SignalStatus:
		return true
	}
	return false
}
