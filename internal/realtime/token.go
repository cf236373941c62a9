package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mailfold/relay/internal/config"
)

// HTTPTokenSource redeems the caller's session for a fresh single-use channel
// token by calling the backend token-issuance endpoint before every dial.
type HTTPTokenSource struct {
	// Endpoint is the token issuance URL, e.g. "http://localhost:8000/v1/ws/token".
	Endpoint string

	// SessionToken authenticates the issuance call.
	SessionToken string

	// Client overrides the HTTP client. Defaults to http.DefaultClient.
	Client *http.Client
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *HTTPTokenSource) Token(ctx context.Context) (string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set(config.GetSessionHeaderName(), s.SessionToken)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}

	return payload.Token, nil
}
