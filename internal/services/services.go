package services

import (
	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/infrastructure/redis"
	"github.com/mailfold/relay/internal/services/agent"
	"github.com/mailfold/relay/internal/services/session"
	"github.com/mailfold/relay/internal/services/wstoken"
)

type Services struct {
	agentService   *agent.Service
	redisService   *redis.Service
	sessionService *session.Service
	wsTokenService *wstoken.Service
}

// InitializeServices initializes all required services
func InitializeServices() (*Services, error) {
	log.Info().Msg("Initializing core services")

	// Redis is optional; stores fall back to memory without it
	redisService := redis.NewService()

	sessionService := session.NewService()
	log.Info().Msg("Initializing session service")

	wsTokenService := wstoken.NewService(redisService)
	log.Info().Msg("Initializing channel token service")

	agentService := agent.NewService()
	log.Info().Msg("Initializing agent service")

	log.Info().Msg("All services initialized successfully")

	return &Services{
		agentService:   agentService,
		redisService:   redisService,
		sessionService: sessionService,
		wsTokenService: wsTokenService,
	}, nil
}

// GetAgentService returns the agent service
func (s *Services) GetAgentService() *agent.Service {
	return s.agentService
}

// GetSessionService returns the session service
func (s *Services) GetSessionService() *session.Service {
	return s.sessionService
}

// GetWSTokenService returns the channel token service
func (s *Services) GetWSTokenService() *wstoken.Service {
	return s.wsTokenService
}
