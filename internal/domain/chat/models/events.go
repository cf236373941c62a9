package models

import "encoding/json"

// Envelope types recognized on the channel. chat_request is the only outbound
// client type; the rest stream back from the agent.
const (
	TypeSystemReady   = "system.ready"
	TypeChatRequest   = "chat_request"
	TypeChatStart     = "chat_start"
	TypeChatDelta     = "chat_delta"
	TypeChatAction    = "chat_action"
	TypeChatCompleted = "chat_completed"
	TypeChatError     = "chat_error"
)

// Model selectors accepted in chat requests.
const (
	ModelAuto   = "auto"
	ModelGemini = "gemini"
	ModelGroq   = "groq"
)

// ValidModel reports whether a selector is one of the recognized values.
func ValidModel(model string) bool {
	switch model {
	case ModelAuto, ModelGemini, ModelGroq:
		return true
	default:
		return false
	}
}

// Context carries the mail view the user is asking about.
type Context struct {
	ActiveMailbox  string                 `json:"activeMailbox"`
	SelectedMailID string                 `json:"selectedMailId,omitempty"`
	CurrentFilters map[string]interface{} `json:"currentFilters,omitempty"`
	Timezone       string                 `json:"timezone,omitempty"`
}

type ChatRequestPayload struct {
	ChatID  string  `json:"chatId"`
	Message string  `json:"message"`
	Model   string  `json:"model"`
	Context Context `json:"context"`
}

type ChatStartPayload struct {
	ChatID      string `json:"chatId"`
	UserMessage string `json:"userMessage"`
	Model       string `json:"model"`
}

type ChatDeltaPayload struct {
	ChatID string `json:"chatId"`
	Delta  string `json:"delta"`
}

// UIAction is an out-of-band instruction to the presentation layer, decoupled
// from the streamed text.
type UIAction struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ChatActionPayload struct {
	ChatID  string          `json:"chatId"`
	Action  UIAction        `json:"action"`
	Results json.RawMessage `json:"results,omitempty"`
}

// Trace summarizes how the agent produced its answer.
type Trace struct {
	ProviderUsed   string   `json:"providerUsed"`
	ToolsCalled    []string `json:"toolsCalled,omitempty"`
	CandidateCount int      `json:"candidateCount"`
	FinalCount     int      `json:"finalCount"`
}

type ChatCompletedPayload struct {
	ChatID           string          `json:"chatId"`
	AssistantMessage string          `json:"assistantMessage"`
	UIActions        []UIAction      `json:"uiActions,omitempty"`
	Results          json.RawMessage `json:"results,omitempty"`
	Trace            *Trace          `json:"trace,omitempty"`
}

// ChatErrorPayload reports an exchange failure. ChatID may be absent when the
// failure happened before the request could be attributed to an exchange.
type ChatErrorPayload struct {
	ChatID  string `json:"chatId,omitempty"`
	Message string `json:"message"`
}
