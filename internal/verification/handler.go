package verification

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chat-me/chatme/internal/provider"
)

// Handler exposes the verification flow over HTTP.
type Handler struct {
	svc *Coordinator
}

// NewHandler constructs a verification HTTP handler.
func NewHandler(svc *Coordinator) *Handler {
	return &Handler{svc: svc}
}

type startRequest struct {
	Method string `json:"method"`
	Value  string `json:"value"`
}

type claimRequest struct {
	ClaimID string `json:"claim_id"`
	Code    string `json:"code,omitempty"`
}

type emailCompleteRequest struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

type claimResponse struct {
	ClaimID           string    `json:"claim_id"`
	Method            string    `json:"method"`
	State             string    `json:"state"`
	ContactValue      string    `json:"contact_value,omitempty"`
	AttemptCount      int       `json:"attempt_count"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
}

func toResponse(c Claim) claimResponse {
	return claimResponse{
		ClaimID:           c.ID,
		Method:            string(c.Method),
		State:             string(c.State),
		ContactValue:      c.ContactValue,
		AttemptCount:      c.AttemptCount,
		ExpiresAt:         c.ExpiresAt,
		ResendAvailableAt: c.ResendAvailableAt,
	}
}

// Start begins verification for a contact value.
func (h *Handler) Start(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Start(c.UserContext(), parseMethod(req.Method), req.Value)
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(claim))
}

// Resend reissues the outstanding challenge for a claim.
func (h *Handler) Resend(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Resend(c.UserContext(), req.ClaimID)
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(claim))
}

// SubmitCode confirms a phone challenge code.
func (h *Handler) SubmitCode(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.SubmitCode(c.UserContext(), req.ClaimID, req.Code)
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(claim))
}

// CompleteEmail redeems an email verification link.
func (h *Handler) CompleteEmail(c *fiber.Ctx) error {
	var req emailCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.CompleteFromLink(c.UserContext(), req.Email, req.Link)
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(claim))
}

// CompleteOAuth finishes an OAuth claim.
func (h *Handler) CompleteOAuth(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.CompleteOAuth(c.UserContext(), req.ClaimID)
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(claim))
}

// Cancel tears down an in-flight claim.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req claimRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Cancel(req.ClaimID); err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "cancelled"})
}

// parseMethod tolerates the original client's "google" label for OAuth.
func parseMethod(raw string) Method {
	switch raw {
	case "google", string(MethodOAuth):
		return MethodOAuth
	case string(MethodEmail):
		return MethodEmail
	default:
		return MethodPhone
	}
}

func mapError(c *fiber.Ctx, err error) error {
	var cooldown *CooldownError
	if errors.As(err, &cooldown) {
		return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
			"error":               cooldown.Error(),
			"retry_after_seconds": int(cooldown.RetryAfter.Seconds()) + 1,
		})
	}

	switch {
	case errors.Is(err, ErrInvalidContact),
		errors.Is(err, provider.ErrInvalidCode),
		errors.Is(err, provider.ErrInvalidLink):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTooManyResends):
		return fiber.NewError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrClaimNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrClaimTerminal),
		errors.Is(err, ErrAlreadyConsumed),
		errors.Is(err, ErrNotVerified),
		errors.Is(err, ErrWrongMethod):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, provider.ErrProvider):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
