package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/assistant"
	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/domain/chat/models"
	"github.com/mailfold/relay/internal/realtime"
)

// relay is a terminal front for the realtime channel: it dials the backend,
// submits each stdin line as a chat prompt, and prints finished assistant
// replies.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	wsURL := config.GetEnvOrDefault("RELAY_WS_URL", "ws://localhost:8000/ws/events")
	tokenURL := config.GetEnvOrDefault("RELAY_TOKEN_URL", "http://localhost:8000/v1/ws/token")
	sessionToken := os.Getenv("RELAY_SESSION_TOKEN")
	if sessionToken == "" {
		fmt.Fprintln(os.Stderr, "RELAY_SESSION_TOKEN is required")
		os.Exit(1)
	}

	dispatcher := realtime.NewDispatcher()
	transport := realtime.NewTransport(realtime.TransportOptions{
		URL: wsURL,
		Tokens: &realtime.HTTPTokenSource{
			Endpoint:     tokenURL,
			SessionToken: sessionToken,
		},
		OnEnvelope: dispatcher.Dispatch,
	})

	transport.OnStateChange(func(state realtime.ConnectionState) {
		fmt.Fprintf(os.Stderr, "[channel %s]\n", state)
	})

	coordinator := assistant.NewCoordinator(transport, dispatcher, assistant.CoordinatorOptions{
		Model: config.GetEnvOrDefault("RELAY_MODEL", models.ModelAuto),
		OnAction: func(action models.UIAction, prompt string, results json.RawMessage) {
			fmt.Fprintf(os.Stderr, "[ui action %s]\n", action.Type)
		},
	})
	defer coordinator.Close()

	printed := 0
	coordinator.OnChange(func() {
		for _, msg := range coordinator.Messages()[printed:] {
			if msg.Role == assistant.RoleAssistant && msg.Status == assistant.StatusStreaming {
				return
			}
			fmt.Printf("%s: %s\n", msg.Role, msg.Text)
			printed++
		}
	})

	transport.Connect(context.Background())
	defer transport.Disconnect()

	tz, _ := time.Now().Zone()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		coordinator.Submit(scanner.Text(), models.Context{
			ActiveMailbox: "inbox",
			Timezone:      tz,
		})
		fmt.Print("> ")
	}
}
