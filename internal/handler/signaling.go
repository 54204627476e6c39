package handler

import (
	"context"
	"net/http"

	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/service"
)

type SignalPublisher interface {
	Publish(ctx context.Context, caller model.CallerIdentity, params service.PublishParams) (*model.Signal, error)
	BroadcastStatus(ctx context.Context, caller model.CallerIdentity, sessionID string) (*service.BroadcastResult, error)
}

type SignalingHandler struct {
	relay SignalPublisher
}

func NewSignalingHandler(relay SignalPublisher) *SignalingHandler {
	return &SignalingHandler{relay: relay}
}

// POST /signaling/publish
func (h *SignalingHandler) Publish(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req service.PublishParams
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	signal, err := h.relay.Publish(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, signal)
}

// POST /session/broadcast-status
func (h *SignalingHandler) BroadcastStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.relay.BroadcastStatus(r.Context(), caller, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
