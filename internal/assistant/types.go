package assistant

// Role identifies who authored a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status defines the possible states of a presentation-facing message
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Message is one entry in the presentation-facing conversation list. The list
// is append-only; the assistant entry for an exchange is mutated in place as
// deltas arrive rather than re-appended.
type Message struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Text   string `json:"text"`
	Status Status `json:"status"`
}

// Phase tracks the lifecycle of the single in-flight exchange
type Phase int

const (
	PhasePending Phase = iota
	PhaseStreaming
	PhaseCompleted
	PhaseErrored
)

// exchange identifies one logical AI turn. The coordinator owns at most one
// at a time; events for a foreign or stale chatId never touch it.
type exchange struct {
	chatID      string
	prompt      string
	assistantID string
	phase       Phase
}
