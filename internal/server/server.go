package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chat-me/chatme/internal/config"
	"github.com/chat-me/chatme/internal/provider"
	"github.com/chat-me/chatme/internal/relay"
	"github.com/chat-me/chatme/internal/routes"
	"github.com/chat-me/chatme/internal/session"
	"github.com/chat-me/chatme/internal/verification"
)

// Server wraps the Fiber application, the relay lifecycle, and shared
// dependencies.
type Server struct {
	app   *fiber.App
	cfg   config.Config
	relay *relay.Relay
}

// New instantiates the HTTP server, wires the verification coordinator,
// session registry and messaging relay, and delegates route wiring to
// routes.Setup.
func New(cfg config.Config, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	var consumed verification.ConsumedTokenStore
	if cache != nil {
		consumed = verification.NewRedisTokenStore(cache, 2*cfg.ClaimTTL)
	} else {
		consumed = verification.NewMemoryTokenStore()
	}

	idp := provider.NewStub(logger)
	claims := verification.NewCoordinator(verification.Config{
		ClaimTTL:       cfg.ClaimTTL,
		ResendCooldown: cfg.ResendCooldown,
		CodeAttemptCap: cfg.CodeAttemptCap,
		ResendCap:      cfg.ResendCap,
	}, idp, consumed, logger)

	registry := session.NewRegistry(cfg.SessionGrace, logger)
	messageRelay := relay.New(registry, cfg.OfflineBufferSize, logger)

	deps := routes.Deps{
		Cfg:      cfg,
		Cache:    cache,
		Logger:   logger,
		Claims:   claims,
		Registry: registry,
		Relay:    messageRelay,
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, relay: messageRelay}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then drains relay connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	return s.relay.Shutdown(ctx)
}
