package service

import (
	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
)

// JoinAttempt is everything the access policy looks at for one join.
type JoinAttempt struct {
	Session  *model.Session
	CallerID string
	Role     model.ParticipantRole
	// TokenValid is true when a join token for this session was presented and
	// is unexpired.
	TokenValid bool
	// ViaCode is true when the caller located the session by its human code.
	ViaCode bool
}

type joinRule struct {
	name   string
	allows func(a JoinAttempt) bool
}

var hostRules = []joinRule{
	{"assigned_target", func(a JoinAttempt) bool {
		return a.Session.IsTarget(a.CallerID)
	}},
	{"owner_self_host", func(a JoinAttempt) bool {
		return !a.Session.HasTarget() && a.Session.IsOwner(a.CallerID)
	}},
	{"public_open_host", func(a JoinAttempt) bool {
		return !a.Session.HasTarget() && a.Session.IsPublic
	}},
}

var controllerRules = []joinRule{
	{"owner", func(a JoinAttempt) bool { return a.Session.IsOwner(a.CallerID) }},
	{"target", func(a JoinAttempt) bool { return a.Session.IsTarget(a.CallerID) }},
	{"public", func(a JoinAttempt) bool { return a.Session.IsPublic }},
	{"token", func(a JoinAttempt) bool { return a.TokenValid }},
	{"code", func(a JoinAttempt) bool { return a.ViaCode }},
}

// AccessPolicy decides join attempts. Every join path goes through Authorize.
type AccessPolicy struct{}

// Authorize returns the name of the rule that admitted the attempt.
func (AccessPolicy) Authorize(a JoinAttempt) (string, error) {
	if a.Session == nil {
		return "", apperrors.NotFound("Session")
	}
	if a.Session.IsEnded() {
		return "", apperrors.InvalidArgument("Session has ended")
	}

	var rules []joinRule
	switch a.Role {
	case model.RoleHost:
		rules = hostRules
	case model.RoleController:
		rules = controllerRules
	default:
		return "", apperrors.InvalidField("role", "must be host or controller")
	}

	for _, rule := range rules {
		if rule.allows(a) {
			return rule.name, nil
		}
	}

	if a.Role == model.RoleHost {
		return "", apperrors.PermissionDenied("Not allowed to host this session")
	}
	return "", apperrors.PermissionDenied("Not allowed to join this session")
}

// CanView reports whether caller may read a session and its participants.
func (AccessPolicy) CanView(session *model.Session, callerID string, isParticipant bool) bool {
	return session.IsOwner(callerID) || session.IsTarget(callerID) || isParticipant
}
