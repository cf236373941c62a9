package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/connections"
	"github.com/mailfold/relay/internal/domain/chat/models"
	"github.com/mailfold/relay/internal/realtime"
	"github.com/mailfold/relay/internal/services/wstoken"
	"github.com/mailfold/relay/pkg/httpext"
)

// Handler accepts realtime channel connections. Each connection is authorized
// by a single-use token redeemed during the HTTP handshake, then serves the
// chat protocol until the peer goes away.
type Handler struct {
	wsTokens *wstoken.Service
	manager  *connections.Manager
	streamer *chatStreamer
	upgrader websocket.Upgrader
}

func NewHandler(wsTokens *wstoken.Service, agentService SearchAgent, manager *connections.Manager) *Handler {
	return &Handler{
		wsTokens: wsTokens,
		manager:  manager,
		streamer: newChatStreamer(agentService),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // In production, implement proper origin checking
			},
		},
	}
}

// HandleEvents serves GET /ws/events?token=...
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httpext.JsonError(w, "Missing websocket token", http.StatusUnauthorized)
		return
	}

	info, err := h.wsTokens.Consume(r.Context(), token)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected websocket connection")
		httpext.JsonError(w, "Invalid websocket token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Could not upgrade connection")
		return
	}

	h.manager.Add(conn, info.UserID)
	defer func() {
		h.manager.Remove(conn)
		conn.Close()
	}()

	log.Info().Str("user_id", info.UserID).Int("connections", h.manager.Count()).Msg("Channel connected")

	timeouts := h.manager.Timeouts()
	writer := newEnvelopeWriter(conn, timeouts.WriteWait)

	// Set up ping/pong keepalive
	conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(timeouts.PingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(timeouts.WriteWait)
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	writer.send(realtime.Envelope{
		Type:    models.TypeSystemReady,
		EventID: "ws-ready",
		Payload: []byte(`{"ok":true}`),
	})

	for {
		conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", info.UserID).Msg("Channel closed unexpectedly")
			}
			return
		}

		env, ok := realtime.ParseEnvelope(data)
		if !ok {
			h.streamer.emitError(writer, "", "Invalid websocket chat event")
			continue
		}

		switch env.Type {
		case models.TypeChatRequest:
			h.streamer.handleChatRequest(r.Context(), writer, info.UserID, env.Payload)
		default:
			log.Debug().Str("event_type", env.Type).Msg("Ignoring unrecognized client event")
		}
	}
}
