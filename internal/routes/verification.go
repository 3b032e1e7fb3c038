package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chat-me/chatme/internal/verification"
)

// RegisterVerificationRoutes wires the identity-verification flow. Challenge
// issuance endpoints sit behind the rate limiter; completion endpoints rely
// on the coordinator's own state checks.
func RegisterVerificationRoutes(r fiber.Router, h *verification.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/verification")
	if rateLimiter != nil {
		group.Post("/start", rateLimiter, h.Start)
		group.Post("/resend", rateLimiter, h.Resend)
	} else {
		group.Post("/start", h.Start)
		group.Post("/resend", h.Resend)
	}
	group.Post("/submit-code", h.SubmitCode)
	group.Post("/email/complete", h.CompleteEmail)
	group.Post("/oauth/complete", h.CompleteOAuth)
	group.Post("/cancel", h.Cancel)
}
