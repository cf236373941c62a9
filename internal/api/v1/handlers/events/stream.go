package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/domain/chat/models"
	"github.com/mailfold/relay/internal/realtime"
	"github.com/mailfold/relay/internal/services/agent"
)

const deltaChunkWords = 4

// SearchAgent runs one agent turn for a chat request.
type SearchAgent interface {
	Search(ctx context.Context, userID, message string, reqContext models.Context, selector string) (*agent.Response, error)
}

// envelopeWriter serializes concurrent envelope writes onto one socket.
type envelopeWriter struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
}

func newEnvelopeWriter(conn *websocket.Conn, writeWait time.Duration) *envelopeWriter {
	return &envelopeWriter{conn: conn, writeWait: writeWait}
}

func (w *envelopeWriter) send(env realtime.Envelope) error {
	if env.TS == "" {
		env.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	if err := w.conn.WriteJSON(env); err != nil {
		log.Debug().Err(err).Str("event_type", env.Type).Msg("Failed to write envelope")
		return err
	}
	return nil
}

// chatStreamer answers one chat_request with the full event stream:
// chat_start, word-chunked chat_delta frames, one chat_action per UI action,
// and a final chat_completed. Failures surface as chat_error.
type chatStreamer struct {
	agentService SearchAgent
}

func newChatStreamer(agentService SearchAgent) *chatStreamer {
	return &chatStreamer{agentService: agentService}
}

func (s *chatStreamer) handleChatRequest(ctx context.Context, writer *envelopeWriter, userID string, rawPayload json.RawMessage) {
	var payload models.ChatRequestPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil || payload.ChatID == "" {
		s.emitError(writer, "", "Invalid chat request payload")
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		s.emitError(writer, payload.ChatID, "Message cannot be empty")
		return
	}

	model := payload.Model
	if !models.ValidModel(model) {
		model = models.ModelAuto
	}

	s.emit(writer, models.TypeChatStart, payload.ChatID+"-start", models.ChatStartPayload{
		ChatID:      payload.ChatID,
		UserMessage: message,
		Model:       model,
	})

	response, err := s.agentService.Search(ctx, userID, message, payload.Context, model)
	if err != nil {
		log.Error().Err(err).Str("chat_id", payload.ChatID).Msg("Agent request failed")
		s.emitError(writer, payload.ChatID, "AI chat failed")
		return
	}

	for i, chunk := range chunkMessage(response.AssistantMessage) {
		s.emit(writer, models.TypeChatDelta, fmt.Sprintf("%s-delta-%d", payload.ChatID, i), models.ChatDeltaPayload{
			ChatID: payload.ChatID,
			Delta:  chunk,
		})
	}

	for i, action := range response.UIActions {
		s.emit(writer, models.TypeChatAction, fmt.Sprintf("%s-action-%d", payload.ChatID, i), models.ChatActionPayload{
			ChatID:  payload.ChatID,
			Action:  action,
			Results: response.Results,
		})
	}

	s.emit(writer, models.TypeChatCompleted, payload.ChatID+"-completed", models.ChatCompletedPayload{
		ChatID:           payload.ChatID,
		AssistantMessage: response.AssistantMessage,
		UIActions:        response.UIActions,
		Results:          response.Results,
		Trace:            &response.Trace,
	})
}

func (s *chatStreamer) emit(writer *envelopeWriter, eventType, eventID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to encode event payload")
		return
	}
	writer.send(realtime.Envelope{
		Type:    eventType,
		EventID: eventID,
		Payload: data,
	})
}

func (s *chatStreamer) emitError(writer *envelopeWriter, chatID, message string) {
	s.emit(writer, models.TypeChatError, "chat-error", models.ChatErrorPayload{
		ChatID:  chatID,
		Message: message,
	})
}

// chunkMessage splits the final assistant message into token-like chunks for
// progressive rendering. Joining the chunks reproduces the message exactly.
func chunkMessage(message string) []string {
	if message == "" {
		return []string{""}
	}
	words := strings.Fields(message)
	if len(words) == 0 {
		return []string{message}
	}

	chunks := make([]string, 0, (len(words)+deltaChunkWords-1)/deltaChunkWords)
	for i := 0; i < len(words); i += deltaChunkWords {
		end := i + deltaChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
