package main

import (
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mailfold/relay/internal/api/v1/routes"
	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/connections"
	"github.com/mailfold/relay/internal/services"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	svcs, err := services.InitializeServices()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	manager := connections.NewManager(connections.DefaultTimeouts)
	router := routes.NewRouter(svcs, manager)

	addr := config.GetListenAddr()
	log.Info().Str("addr", addr).Msg("Realtime backend starting")
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal().Err(err).Msg("ListenAndServe error")
	}
}
