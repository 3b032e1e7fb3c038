package routes

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/chat-me/chatme/internal/config"
	"github.com/chat-me/chatme/internal/middleware"
	"github.com/chat-me/chatme/internal/relay"
	"github.com/chat-me/chatme/internal/session"
	"github.com/chat-me/chatme/internal/verification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	Cache    *redis.Client
	Logger   *slog.Logger
	Claims   *verification.Coordinator
	Registry *session.Registry
	Relay    *relay.Relay
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     d.Cfg.ClientOrigin,
		AllowCredentials: true,
	}))
	app.Use(middleware.Audit(d.Logger))

	// Root banner kept from the original server.
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("ChatMe API is running!")
	})

	RegisterHealthRoutes(app, d)

	verificationHandler := verification.NewHandler(d.Claims)
	sessionHandler := session.NewHandler(d.Registry, d.Claims)
	wsHandler := relay.NewHandler(d.Relay, d.Logger)

	api := app.Group("/api/v1")

	rateLimiter := middleware.ChallengeRateLimit(d.Cache, 5)
	RegisterVerificationRoutes(api, verificationHandler, rateLimiter)

	api.Post("/sessions", sessionHandler.Create)

	app.Get("/ws", wsHandler.Upgrade(), wsHandler.Socket())

	// 404 for anything else under the API prefix.
	api.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(http.StatusNotFound, "not found")
	})

	return nil
}
