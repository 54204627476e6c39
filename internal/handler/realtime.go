package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/linkdesk/session-broker/internal/errors"
	"github.com/linkdesk/session-broker/internal/model"
	"github.com/linkdesk/session-broker/internal/realtime"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 2 * realtime.HeartbeatInterval
	wsMaxMessageSize = 4096
)

// Subscriber hands out per-user event streams.
type Subscriber interface {
	Subscribe(userID string) *realtime.Client
	Unsubscribe(client *realtime.Client)
}

// RealtimeHandler streams events addressed to the caller over SSE or WebSocket.
type RealtimeHandler struct {
	broker   Subscriber
	upgrader websocket.Upgrader
}

// NewRealtimeHandler accepts WebSocket upgrades from allowedOrigins, or from
// any origin when the list is empty.
func NewRealtimeHandler(broker Subscriber, allowedOrigins []string) *RealtimeHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &RealtimeHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

// GET /realtime/events
func (h *RealtimeHandler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(caller.UserID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("userId", caller.UserID).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, connectedEvent(caller)); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(realtime.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("userId", caller.UserID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("userId", caller.UserID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("userId", caller.UserID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *RealtimeHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event realtime.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// GET /realtime/ws
func (h *RealtimeHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("userId", caller.UserID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := h.broker.Subscribe(caller.UserID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("userId", caller.UserID).Msg("websocket connection established")

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	if err := writeWSEvent(conn, connectedEvent(caller)); err != nil {
		return
	}

	ping := time.NewTicker(realtime.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Info().Str("userId", caller.UserID).Msg("websocket closed by client")
			return

		case <-client.Done:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case event := <-client.Events:
			if err := writeWSEvent(conn, event); err != nil {
				log.Debug().Err(err).Str("userId", caller.UserID).Msg("websocket write failed")
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames so control messages are processed. Clients
// do not send data on this socket.
func (h *RealtimeHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeWSEvent(conn *websocket.Conn, event realtime.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(event)
}

func connectedEvent(caller model.CallerIdentity) realtime.Event {
	data, _ := json.Marshal(map[string]any{
		"userId":    caller.UserID,
		"timestamp": time.Now().UnixMilli(),
	})
	return realtime.Event{Type: realtime.EventConnected, Data: data}
}
