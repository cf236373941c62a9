package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/domain/chat/models"
	"github.com/mailfold/relay/internal/realtime"
)

const (
	notConnectedText   = "The assistant is offline right now. Please try again once the connection is restored."
	connectionLostText = "Connection lost while generating response."
	defaultErrorText   = "I could not process that request right now. Please try again."
)

// Channel is the slice of the transport the coordinator depends on.
type Channel interface {
	Send(realtime.Envelope)
	State() realtime.ConnectionState
	OnStateChange(realtime.StateHandler) func()
}

// ActionFunc receives out-of-band UI actions together with the prompt that
// triggered them and the optional result payload. A panicking handler is
// swallowed; action delivery never ends the exchange.
type ActionFunc func(action models.UIAction, prompt string, results json.RawMessage)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Model is the selector sent with each chat request ("auto", "gemini", "groq").
	Model string

	// OnAction handles chat_action envelopes for the active exchange.
	OnAction ActionFunc

	// Now overrides the clock used for chat and message ids. Tests only.
	Now func() time.Time
}

// Coordinator drives one logical request/response exchange over the channel.
// It issues chat requests, tracks the single in-flight exchange, accumulates
// streamed deltas into the assistant message, forwards UI actions, and
// resolves completion or error - including autonomously failing the exchange
// when the connection drops mid-stream.
type Coordinator struct {
	channel  Channel
	model    string
	onAction ActionFunc
	now      func() time.Time

	mu        sync.Mutex
	messages  []Message
	active    *exchange
	loading   bool
	nextSubID int
	changeSub map[int]func()

	unsubs []func()
}

// NewCoordinator wires a coordinator to the channel and dispatcher. Call Close
// to detach it again.
func NewCoordinator(channel Channel, dispatcher *realtime.Dispatcher, opts CoordinatorOptions) *Coordinator {
	model := opts.Model
	if !models.ValidModel(model) {
		model = models.ModelAuto
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		channel:   channel,
		model:     model,
		onAction:  opts.OnAction,
		now:       now,
		changeSub: make(map[int]func()),
	}

	c.unsubs = append(c.unsubs,
		dispatcher.Subscribe(models.TypeChatStart, c.onChatStart),
		dispatcher.Subscribe(models.TypeChatDelta, c.onChatDelta),
		dispatcher.Subscribe(models.TypeChatAction, c.onChatAction),
		dispatcher.Subscribe(models.TypeChatCompleted, c.onChatCompleted),
		dispatcher.Subscribe(models.TypeChatError, c.onChatError),
		channel.OnStateChange(c.onConnectionState),
	)

	return c
}

// Close detaches the coordinator from the dispatcher and the channel.
func (c *Coordinator) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// Messages returns a snapshot of the conversation list.
func (c *Coordinator) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Loading reports whether an exchange is in flight.
func (c *Coordinator) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// OnChange registers an observer notified after every state mutation and
// returns an unsubscribe function. The coordinator assumes nothing about the
// rendering model; observers pull fresh state via Messages and Loading.
func (c *Coordinator) OnChange(handler func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.changeSub[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.changeSub, id)
	}
}

// Submit starts a new exchange. It is a no-op when the prompt trims to empty
// or an exchange is already in flight. When the transport is not connected it
// synthesizes a local error message instead of attempting to send.
func (c *Coordinator) Submit(prompt string, reqContext models.Context) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return
	}

	c.mu.Lock()
	if c.active != nil || c.loading {
		c.mu.Unlock()
		log.Debug().Msg("Ignoring submit while an exchange is in flight")
		return
	}

	nowMillis := c.now().UnixMilli()

	if c.channel.State() != realtime.StateConnected {
		c.messages = append(c.messages, Message{
			ID:     fmt.Sprintf("assistant-error-%d", nowMillis),
			Role:   RoleAssistant,
			Text:   notConnectedText,
			Status: StatusError,
		})
		c.mu.Unlock()
		c.notifyChange()
		return
	}

	chatID := fmt.Sprintf("chat-%d", nowMillis)
	assistantID := fmt.Sprintf("assistant-%d", nowMillis)

	c.messages = append(c.messages,
		Message{
			ID:     fmt.Sprintf("user-%d", nowMillis),
			Role:   RoleUser,
			Text:   trimmed,
			Status: StatusCompleted,
		},
		Message{
			ID:     assistantID,
			Role:   RoleAssistant,
			Text:   "",
			Status: StatusStreaming,
		},
	)
	c.active = &exchange{
		chatID:      chatID,
		prompt:      trimmed,
		assistantID: assistantID,
		phase:       PhasePending,
	}
	c.loading = true

	payload, err := json.Marshal(models.ChatRequestPayload{
		ChatID:  chatID,
		Message: trimmed,
		Model:   c.model,
		Context: reqContext,
	})
	if err != nil {
		// Context values are plain JSON-friendly data; treat a marshal
		// failure like a failed send.
		c.finalizeErrorLocked(defaultErrorText)
		c.mu.Unlock()
		c.notifyChange()
		return
	}
	c.mu.Unlock()

	c.notifyChange()
	c.channel.Send(realtime.Envelope{
		Type:    models.TypeChatRequest,
		Payload: payload,
	})
}

func (c *Coordinator) onChatStart(env realtime.Envelope) {
	var payload models.ChatStartPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.chatID != payload.ChatID {
		c.mu.Unlock()
		return
	}
	c.active.phase = PhaseStreaming
	c.loading = true
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Coordinator) onChatDelta(env realtime.Envelope) {
	var payload models.ChatDeltaPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.chatID != payload.ChatID {
		c.mu.Unlock()
		return
	}
	c.active.phase = PhaseStreaming
	if msg := c.assistantMessageLocked(); msg != nil {
		msg.Text += payload.Delta
		msg.Status = StatusStreaming
	}
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Coordinator) onChatAction(env realtime.Envelope) {
	var payload models.ChatActionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.chatID != payload.ChatID {
		c.mu.Unlock()
		return
	}
	prompt := c.active.prompt
	handler := c.onAction
	c.mu.Unlock()

	if handler == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("action_type", payload.Action.Type).
					Msg("UI action handler panicked")
			}
		}()
		handler(payload.Action, prompt, payload.Results)
	}()
}

func (c *Coordinator) onChatCompleted(env realtime.Envelope) {
	var payload models.ChatCompletedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.chatID != payload.ChatID {
		c.mu.Unlock()
		return
	}
	if msg := c.assistantMessageLocked(); msg != nil {
		// The completed payload carries the authoritative final text; it
		// replaces whatever the deltas accumulated.
		if payload.AssistantMessage != "" {
			msg.Text = payload.AssistantMessage
		}
		msg.Status = StatusCompleted
	}
	c.active = nil
	c.loading = false
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Coordinator) onChatError(env realtime.Envelope) {
	var payload models.ChatErrorPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return
	}
	// An error without a chatId is honored against whatever exchange is
	// active; one with a foreign chatId is ignored.
	if payload.ChatID != "" && payload.ChatID != c.active.chatID {
		c.mu.Unlock()
		return
	}
	text := payload.Message
	if text == "" {
		text = defaultErrorText
	}
	c.finalizeErrorLocked(text)
	c.mu.Unlock()
	c.notifyChange()
}

// onConnectionState autonomously fails the active exchange when the transport
// leaves Connected mid-stream; deltas addressed to it can never arrive on the
// next connection.
func (c *Coordinator) onConnectionState(state realtime.ConnectionState) {
	if state == realtime.StateConnected {
		return
	}

	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return
	}
	c.finalizeErrorLocked(connectionLostText)
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Coordinator) finalizeErrorLocked(text string) {
	if msg := c.assistantMessageLocked(); msg != nil {
		msg.Text = text
		msg.Status = StatusError
	}
	if c.active != nil {
		c.active.phase = PhaseErrored
	}
	c.active = nil
	c.loading = false
}

func (c *Coordinator) assistantMessageLocked() *Message {
	if c.active == nil {
		return nil
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == c.active.assistantID {
			return &c.messages[i]
		}
	}
	return nil
}

func (c *Coordinator) notifyChange() {
	c.mu.Lock()
	subs := make([]func(), 0, len(c.changeSub))
	for _, handler := range c.changeSub {
		subs = append(subs, handler)
	}
	c.mu.Unlock()

	for _, handler := range subs {
		handler()
	}
}
