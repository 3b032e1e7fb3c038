package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chat-me/chatme/internal/verification"
)

// Handler exposes session creation, the profile-setup step between
// verification and chatting.
type Handler struct {
	registry *Registry
	claims   *verification.Coordinator
}

// NewHandler constructs a session HTTP handler.
func NewHandler(registry *Registry, claims *verification.Coordinator) *Handler {
	return &Handler{registry: registry, claims: claims}
}

type createRequest struct {
	ClaimID     string `json:"claim_id"`
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
}

type createResponse struct {
	Identity    string    `json:"identity"`
	Nickname    string    `json:"nickname"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Create binds a verified claim to a unique nickname. The claim is consumed
// only once the session exists, so a nickname conflict leaves the
// verification intact.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	identity, err := h.claims.Verified(req.ClaimID)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrClaimNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		default:
			return fiber.NewError(http.StatusConflict, err.Error())
		}
	}

	s, err := h.registry.CreateSession(identity.Subject, req.Nickname, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidNickname):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNicknameTaken):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	_, _ = h.claims.ConsumeVerified(req.ClaimID)

	return c.Status(http.StatusCreated).JSON(createResponse{
		Identity:    s.Identity,
		Nickname:    s.Nickname,
		DisplayName: s.DisplayName,
		CreatedAt:   s.CreatedAt,
	})
}
