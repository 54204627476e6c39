package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/linkdesk/session-broker/internal/audit"
	"github.com/linkdesk/session-broker/internal/config"
	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/repository"
	"github.com/linkdesk/session-broker/internal/util"
)

type IssuedToken struct {
	Token     *model.SessionToken `json:"token"`
	URL       string              `json:"url"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

type TokenService struct {
	store   repository.Store
	baseURL string
	now     func() time.Time
}

func NewTokenService(store repository.Store, publicBaseURL string) *TokenService {
	return &TokenService{
		store:   store,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

// ClampExpiryHours applies the default and the [min, max] window.
func ClampExpiryHours(hours int) int {
	if hours <= 0 {
		return config.DefaultTokenExpiryHours
	}
	if hours < config.MinTokenExpiryHours {
		return config.MinTokenExpiryHours
	}
	if hours > config.MaxTokenExpiryHours {
		return config.MaxTokenExpiryHours
	}
	return hours
}

func (s *TokenService) Issue(ctx context.Context, caller model.CallerIdentity, sessionID string, expiresInHours int) (*IssuedToken, error) {
	session, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsEnded() {
		return nil, apperrors.InvalidArgument("Session has ended")
	}

	value, err := util.GenerateJoinToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate token").WithCause(err)
	}

	hours := ClampExpiryHours(expiresInHours)
	expiresAt := s.now().Add(time.Duration(hours) * time.Hour)

	token, err := s.store.Tokens().Create(ctx, model.CreateSessionTokenParams{
		SessionID: session.ID,
		Token:     value,
		Purpose:   model.TokenPurposeJoin,
		CreatedBy: caller.UserID,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("tokenId", token.ID).
		Int("expiresInHours", hours).
		Msg("join token issued")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventTokenIssue,
		UserID:    caller.UserID,
		SessionID: session.ID,
		Details:   map[string]interface{}{"tokenId": token.ID, "token": util.MaskToken(value)},
	})

	return &IssuedToken{
		Token:     token,
		URL:       s.ShareURL(session.ID, value),
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Validate reports whether an unexpired token row exists for sessionID.
func (s *TokenService) Validate(ctx context.Context, sessionID, token string) (bool, error) {
	return validateToken(ctx, s.store, sessionID, token)
}

func validateToken(ctx context.Context, store repository.Store, sessionID, token string) (bool, error) {
	if token == "" || sessionID == "" {
		return false, nil
	}
	ok, err := store.Tokens().ExistsActive(ctx, sessionID, token)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return ok, nil
}

func (s *TokenService) Revoke(ctx context.Context, caller model.CallerIdentity, sessionID, tokenID string) error {
	if !util.IsValidUUID(tokenID) {
		return apperrors.InvalidField("tokenId", "must be a UUID")
	}

	if _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return err
	}

	token, err := s.store.Tokens().FindByID(ctx, tokenID)
	if err != nil {
		return apperrors.Database(err)
	}
	if token == nil || token.SessionID != sessionID {
		return apperrors.NotFound("Token")
	}

	if err := s.store.Tokens().Delete(ctx, tokenID); err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("sessionId", sessionID).Str("tokenId", tokenID).Msg("join token revoked")
	audit.Log(ctx, audit.Event{
		Type:      audit.EventTokenRevoke,
		UserID:    caller.UserID,
		SessionID: sessionID,
		Details:   map[string]interface{}{"tokenId": tokenID},
	})

	return nil
}

func (s *TokenService) ListActive(ctx context.Context, caller model.CallerIdentity, sessionID string) ([]model.SessionToken, error) {
	if _, err := s.ownedSession(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	tokens, err := s.store.Tokens().ListActive(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return tokens, nil
}

// ShareURL builds the link a controller opens to join with token.
func (s *TokenService) ShareURL(sessionID, token string) string {
	q := url.Values{}
	q.Set("session", sessionID)
	q.Set("token", token)
	return s.baseURL + "/join?" + q.Encode()
}

func (s *TokenService) ownedSession(ctx context.Context, caller model.CallerIdentity, sessionID string) (*model.Session, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}

	session, err := s.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if !session.IsOwner(caller.UserID) {
		return nil, apperrors.PermissionDenied("Only the session owner can manage tokens")
	}
	return session, nil
}
