package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/domain/chat/models"
)

const fallbackAssistantMessage = "I can help search and filter your mailbox. Tell me what to look for."

// Response is one complete agent answer, before it is chunked into deltas for
// the channel.
type Response struct {
	AssistantMessage string
	UIActions        []models.UIAction
	Results          json.RawMessage
	Trace            models.Trace
}

type provider struct {
	name   string
	client *openai.Client
	model  string
}

// Service runs the mail assistant against OpenAI-compatible chat completion
// upstreams. The explicit gemini/groq selectors are honored as-is; "auto"
// resolves to the configured default, and a failed non-groq primary falls back
// to groq once.
type Service struct {
	providers       map[string]*provider
	defaultSelector string
}

func NewService() *Service {
	providers := make(map[string]*provider)

	if p := newProvider(models.ModelGemini, config.GetGeminiConfig()); p != nil {
		providers[models.ModelGemini] = p
	}
	if p := newProvider(models.ModelGroq, config.GetGroqConfig()); p != nil {
		providers[models.ModelGroq] = p
	}

	if len(providers) == 0 {
		log.Warn().Msg("No AI providers configured - chat requests will fail")
	}

	return &Service{
		providers:       providers,
		defaultSelector: config.GetDefaultModelSelector(),
	}
}

func newProvider(name string, cfg config.ProviderConfig) *provider {
	if cfg.APIKey == "" {
		log.Warn().Str("provider", name).Msg("AI provider not configured - API key missing")
		return nil
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	log.Info().Str("provider", name).Str("model", cfg.Model).Msg("Initialising AI provider")
	return &provider{
		name:   name,
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Search runs one agent turn and returns the normalized response.
func (s *Service) Search(ctx context.Context, userID, message string, reqContext models.Context, selector string) (*Response, error) {
	primary := s.resolvePrimary(selector)

	response, err := s.invoke(ctx, primary, userID, message, reqContext)
	if err == nil {
		return response, nil
	}
	log.Warn().Err(err).Str("provider", primary).Msg("Primary AI provider failed")

	if selector == models.ModelGroq || primary == models.ModelGroq {
		return nil, err
	}

	response, fallbackErr := s.invoke(ctx, models.ModelGroq, userID, message, reqContext)
	if fallbackErr != nil {
		log.Error().Err(fallbackErr).Msg("Fallback AI provider failed")
		return nil, fmt.Errorf("ai search failed: %w", fallbackErr)
	}
	return response, nil
}

func (s *Service) resolvePrimary(selector string) string {
	switch selector {
	case models.ModelGroq:
		return models.ModelGroq
	case models.ModelGemini:
		return models.ModelGemini
	}
	if s.defaultSelector == models.ModelGroq {
		return models.ModelGroq
	}
	return models.ModelGemini
}

func (s *Service) invoke(ctx context.Context, providerName, userID, message string, reqContext models.Context) (*Response, error) {
	p, exists := s.providers[providerName]
	if !exists {
		return nil, fmt.Errorf("ai provider %q is not configured", providerName)
	}

	contextJSON, err := json.Marshal(reqContext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request context: %w", err)
	}

	log.Debug().
		Str("provider", providerName).
		Str("user_id", userID).
		Msg("Invoking AI provider")

	completion, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: strings.TrimSpace(systemPrompt),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildUserMessage(message, contextJSON),
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	output := parseOutput(completion.Choices[0].Message.Content)
	return buildResponse(providerName, output), nil
}

type agentOutput struct {
	AssistantMessage string          `json:"assistant_message"`
	UIActions        []rawUIAction   `json:"ui_actions"`
	ResultIDs        json.RawMessage `json:"result_ids"`
}

type rawUIAction struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseOutput decodes the model's strict-JSON contract, tolerating fenced code
// blocks and trailing prose. Unparseable output degrades to a canned reply
// with a CLEAR_AI_RESULTS action rather than an error.
func parseOutput(text string) agentOutput {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var output agentOutput
	if cleaned != "" {
		if err := json.Unmarshal([]byte(cleaned), &output); err == nil {
			return output
		}
		if block := jsonBlockPattern.FindString(cleaned); block != "" {
			if err := json.Unmarshal([]byte(block), &output); err == nil {
				return output
			}
		}
		log.Debug().Msg("Agent output was not valid JSON - using fallback reply")
	}

	return agentOutput{
		AssistantMessage: fallbackAssistantMessage,
		UIActions: []rawUIAction{
			{Type: "CLEAR_AI_RESULTS"},
		},
	}
}

func buildResponse(providerName string, output agentOutput) *Response {
	actions := make([]models.UIAction, 0, len(output.UIActions))
	for _, raw := range output.UIActions {
		actionType := strings.TrimSpace(raw.Type)
		if actionType == "" {
			continue
		}
		actions = append(actions, models.UIAction{
			Type:    actionType,
			Payload: raw.Payload,
		})
	}
	if len(actions) == 0 {
		actions = append(actions, models.UIAction{Type: "CLEAR_AI_RESULTS"})
	}

	assistantMessage := strings.TrimSpace(output.AssistantMessage)
	if assistantMessage == "" {
		assistantMessage = fallbackAssistantMessage
	}

	results := json.RawMessage("[]")
	var resultCount int
	if len(output.ResultIDs) > 0 {
		var ids []json.RawMessage
		if err := json.Unmarshal(output.ResultIDs, &ids); err == nil {
			results = output.ResultIDs
			resultCount = len(ids)
		}
	}

	return &Response{
		AssistantMessage: assistantMessage,
		UIActions:        actions,
		Results:          results,
		Trace: models.Trace{
			ProviderUsed: providerName,
			FinalCount:   resultCount,
		},
	}
}
