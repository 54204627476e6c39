package service

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linkdesk/session-broker/internal/model"
)

const testSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func sdpPayload(sdpType, sdp string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"type": sdpType, "sdp": sdp})
	return raw
}

func TestValidateSignalPayload(t *testing.T) {
	nestedOffer, _ := json.Marshal(map[string]any{
		"sdp":  map[string]string{"type": "offer", "sdp": testSDP},
		"peer": "host-1",
	})
	flatWithExtras, _ := json.Marshal(map[string]any{
		"type":       "offer",
		"sdp":        testSDP,
		"iceRestart": true,
	})

	tests := []struct {
		name       string
		signalType model.SignalType
		payload    json.RawMessage
		wantErr    bool
	}{
		{"valid offer", model.SignalOffer, sdpPayload("offer", testSDP), false},
		{"valid answer", model.SignalAnswer, sdpPayload("answer", testSDP), false},
		{"offer with extra fields", model.SignalOffer, flatWithExtras, false},
		{"offer in a client envelope", model.SignalOffer, nestedOffer, false},
		{"offer with unparseable sdp", model.SignalOffer, sdpPayload("offer", "not sdp"), true},
		{"valid ice", model.SignalICE, json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`), false},
		{"ice with extra fields", model.SignalICE, json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host","peer":"x"}`), false},
		{"end of candidates", model.SignalICE, json.RawMessage(`{"candidate":""}`), false},
		{"status object", model.SignalStatus, json.RawMessage(`{"status":"active"}`), false},
		{"status string", model.SignalStatus, json.RawMessage(`"ready"`), false},
		{"status array", model.SignalStatus, json.RawMessage(`[1,2]`), false},
		{"empty", model.SignalStatus, nil, true},
		{"not json", model.SignalStatus, json.RawMessage(`{oops`), true},
		{"too large", model.SignalStatus, json.RawMessage(`{"x":"` + strings.Repeat("a", maxSignalPayloadBytes) + `"}`), true},
		{"unknown type", model.SignalType("bye"), json.RawMessage(`{}`), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSignalPayload(tc.signalType, tc.payload)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
