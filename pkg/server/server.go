// Package server is the composition root: it loads and validates the
// configuration, connects the broker client, wires the verifier and the
// routing table into the HTTP handler, and hands a ready Server back to
// main.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/internal/api"
	"github.com/gamecloud/gateway/internal/auth"
	"github.com/gamecloud/gateway/internal/bus"
	"github.com/gamecloud/gateway/internal/config"
	"github.com/gamecloud/gateway/internal/routing"
	"github.com/gamecloud/gateway/internal/telemetry"
)

// Server holds the initialized gateway.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the loaded settings tree.
	Config *config.Config

	// Bus is the broker RPC client; main closes it on shutdown.
	Bus *bus.Client

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New loads configuration and initializes every gateway component.
// A routing validation failure aborts startup before any connection is
// attempted.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(cfg.Logging.Level())

	if err := routing.Validate(cfg.GatewayRouting); err != nil {
		return nil, err
	}
	table := routing.NewTable(cfg.GatewayRouting)
	for _, id := range table.Microservices() {
		queue, _ := table.ResolveQueue(id)
		log.Info().
			Str("microservice", id).
			Str("queue", queue).
			Msg("Route group mounted")
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.AppSettings.Keycloak)
	if err != nil {
		return nil, err
	}

	busClient, err := bus.Dial(cfg.RabbitMQ)
	if err != nil {
		return nil, err
	}

	handlers := api.NewHandlers(table, busClient, cfg.Version)
	handler := api.NewRouter(cfg, table, verifier, handlers)

	return &Server{
		Handler:      handler,
		Config:       cfg,
		Bus:          busClient,
		ShutdownFunc: shutdown,
	}, nil
}
