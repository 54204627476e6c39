package service

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/linkdesk/session-broker/internal/model"
)

const maxSignalPayloadBytes = 64 * 1024

// flatDescription matches the {type, sdp} shape browsers produce from
// RTCSessionDescription.toJSON. Extra fields are ignored.
type flatDescription struct {
	Type string          `json:"type"`
	SDP  json.RawMessage `json:"sdp"`
}

// validateSignalPayload checks that payload is a bounded JSON document. The
// payload is otherwise opaque: clients may wrap descriptions and candidates
// in their own envelopes. The one shape inspected is a flat session
// description, whose SDP must parse.
func validateSignalPayload(signalType model.SignalType, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if len(payload) > maxSignalPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", maxSignalPayloadBytes)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	switch signalType {
	case model.SignalOffer, model.SignalAnswer:
		return checkSessionDescription(payload)
	case model.SignalICE, model.SignalStatus:
		return nil
	default:
		return fmt.Errorf("unknown signal type %q", signalType)
	}
}

func checkSessionDescription(payload json.RawMessage) error {
	var desc flatDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return nil
	}
	var raw string
	if err := json.Unmarshal(desc.SDP, &raw); err != nil || raw == "" {
		return nil
	}

	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: raw}
	if _, err := sd.Unmarshal(); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	return nil
}
