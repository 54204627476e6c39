package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/realtime"
	"github.com/linkdesk/session-broker/internal/repository"
	"github.com/linkdesk/session-broker/internal/util"
)

const defaultFanoutConcurrency = 8

type PublishParams struct {
	SessionID       string           `json:"sessionId"`
	Type            model.SignalType `json:"type"`
	RecipientUserID *string          `json:"recipientUserId,omitempty"`
	Payload         json.RawMessage  `json:"payload"`
}

type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// SignalRelay persists signaling messages and forwards them to recipients.
type SignalRelay struct {
	store     repository.Store
	publisher EventPublisher
	fanout    int
	now       func() time.Time
}

func NewSignalRelay(store repository.Store, publisher EventPublisher, fanoutConcurrency int) *SignalRelay {
	if fanoutConcurrency <= 0 {
		fanoutConcurrency = defaultFanoutConcurrency
	}
	return &SignalRelay{
		store:     store,
		publisher: publisher,
		fanout:    fanoutConcurrency,
		now:       time.Now,
	}
}

// Publish stores one signal and delivers it to its recipient, or to every
// joined participant except the sender when no recipient is set.
func (r *SignalRelay) Publish(ctx context.Context, caller model.CallerIdentity, params PublishParams) (*model.Signal, error) {
	if !util.IsValidUUID(params.SessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}
	if !params.Type.Valid() {
		return nil, apperrors.InvalidField("type", "must be offer, answer, ice or status")
	}
	if err := validateSignalPayload(params.Type, params.Payload); err != nil {
		return nil, apperrors.InvalidField("payload", err.Error())
	}

	recipient := trimOptional(params.RecipientUserID)

	session, err := r.liveSession(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if err := r.requireJoined(ctx, session.ID, caller.UserID); err != nil {
		return nil, err
	}

	registry := NewParticipantRegistry(r.store)
	if recipient != nil {
		p, err := registry.Find(ctx, session.ID, *recipient)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.InvalidArgument("Recipient is not a session participant")
		}
	}

	signal, err := r.store.Signals().Create(ctx, model.CreateSignalParams{
		SessionID:       session.ID,
		Type:            params.Type,
		SenderUserID:    caller.UserID,
		RecipientUserID: recipient,
		Payload:         params.Payload,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	var recipients []string
	if recipient != nil {
		recipients = []string{*recipient}
	} else {
		joined, err := registry.ListJoined(ctx, session.ID)
		if err != nil {
			log.Warn().Err(err).Str("signalId", signal.ID).Msg("failed to list broadcast recipients")
		}
		recipients = excluding(userIDs(joined), caller.UserID)
	}

	log.Debug().
		Str("sessionId", session.ID).
		Str("signalId", signal.ID).
		Str("type", string(signal.Type)).
		Int("recipients", len(recipients)).
		Msg("signal published")

	for _, userID := range recipients {
		if err := r.deliver(ctx, userID, signal); err != nil {
			log.Warn().
				Err(err).
				Str("signalId", signal.ID).
				Str("userId", userID).
				Msg("failed to deliver signal")
		}
	}

	return signal, nil
}

// BroadcastStatus writes one status signal per joined participant other than
// the caller. Per-recipient failures are counted and logged, never returned.
func (r *SignalRelay) BroadcastStatus(ctx context.Context, caller model.CallerIdentity, sessionID string) (*BroadcastResult, error) {
	if !util.IsValidUUID(sessionID) {
		return nil, apperrors.InvalidField("sessionId", "must be a UUID")
	}

	session, err := r.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if err := r.requireJoined(ctx, sessionID, caller.UserID); err != nil {
		return nil, err
	}

	joined, err := NewParticipantRegistry(r.store).ListJoined(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recipients := excluding(userIDs(joined), caller.UserID)

	payload, err := json.Marshal(model.StatusPayload{
		Status:    session.Status,
		SessionID: session.ID,
		Timestamp: r.now().UnixMilli(),
	})
	if err != nil {
		return nil, apperrors.Internal("Failed to encode status").WithCause(err)
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.fanout)

	for _, userID := range recipients {
		g.Go(func() error {
			if err := r.sendStatus(ctx, session.ID, caller.UserID, userID, payload); err != nil {
				failed.Add(1)
				log.Warn().
					Err(err).
					Str("sessionId", session.ID).
					Str("userId", userID).
					Msg("status broadcast to recipient failed")
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	log.Info().
		Str("sessionId", sessionID).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("status broadcast complete")

	return result, nil
}

func (r *SignalRelay) sendStatus(ctx context.Context, sessionID, senderID, recipientID string, payload json.RawMessage) error {
	signal, err := r.store.Signals().Create(ctx, model.CreateSignalParams{
		SessionID:       sessionID,
		Type:            model.SignalStatus,
		SenderUserID:    senderID,
		RecipientUserID: &recipientID,
		Payload:         payload,
	})
	if err != nil {
		return err
	}
	return r.deliver(ctx, recipientID, signal)
}

func (r *SignalRelay) deliver(ctx context.Context, userID string, signal *model.Signal) error {
	if r.publisher == nil {
		return nil
	}
	event, err := realtime.NewEvent(realtime.EventSignal, signal)
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, userID, event)
}

func (r *SignalRelay) liveSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := r.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if session.IsEnded() {
		return nil, apperrors.InvalidArgument("Session has ended")
	}
	return session, nil
}

func (r *SignalRelay) requireJoined(ctx context.Context, sessionID, userID string) error {
	p, err := NewParticipantRegistry(r.store).Find(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if p == nil || !p.IsJoined() {
		return apperrors.PermissionDenied("Not a participant of this session")
	}
	return nil
}

func excluding(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
