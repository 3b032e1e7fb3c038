package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/chat-me/chatme/internal/config"
	"github.com/chat-me/chatme/internal/logging"
	"github.com/chat-me/chatme/internal/provider"
	"github.com/chat-me/chatme/internal/relay"
	"github.com/chat-me/chatme/internal/session"
	"github.com/chat-me/chatme/internal/verification"
)

type testEnv struct {
	app      *fiber.App
	captured *struct{ kind, destination, secret string }
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Config{
		AppName:           "chatme-test",
		ClientOrigin:      "http://localhost:5173",
		ClaimTTL:          10 * time.Minute,
		ResendCooldown:    60 * time.Second,
		CodeAttemptCap:    5,
		ResendCap:         5,
		OfflineBufferSize: 100,
		SessionGrace:      30 * time.Second,
	}

	logger := logging.Discard()
	stub := provider.NewStub(logger)
	captured := &struct{ kind, destination, secret string }{}
	stub.OnDeliver = func(kind, destination, secret string) {
		captured.kind = kind
		captured.destination = destination
		captured.secret = secret
	}

	claims := verification.NewCoordinator(verification.Config{
		ClaimTTL:       cfg.ClaimTTL,
		ResendCooldown: cfg.ResendCooldown,
		CodeAttemptCap: cfg.CodeAttemptCap,
		ResendCap:      cfg.ResendCap,
	}, stub, verification.NewMemoryTokenStore(), logger)

	registry := session.NewRegistry(cfg.SessionGrace, logger)
	messageRelay := relay.New(registry, cfg.OfflineBufferSize, logger)

	app := fiber.New()
	if err := Setup(app, Deps{
		Cfg:      cfg,
		Logger:   logger,
		Claims:   claims,
		Registry: registry,
		Relay:    messageRelay,
	}); err != nil {
		t.Fatalf("setup routes: %v", err)
	}

	return &testEnv{app: app, captured: captured}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var parsed map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) != nil {
		parsed = map[string]any{"raw": string(raw)}
	}
	return resp.StatusCode, parsed
}

func TestRootBanner(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodGet, "/", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["raw"] != "ChatMe API is running!" {
		t.Fatalf("unexpected banner %v", body)
	}
}

func TestHealthzWithoutRedis(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodGet, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	status, ok := body["status"].(map[string]any)
	if !ok || status["redis"] != "not configured" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	e := newTestEnv(t)

	if code, _ := e.request(t, http.MethodGet, "/api/v1/nope", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestPhoneVerificationToSessionFlow(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodPost, "/api/v1/verification/start",
		`{"method":"phone","value":"+998901234567"}`)
	if code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d (%v)", code, body)
	}
	claimID, _ := body["claim_id"].(string)
	if claimID == "" || body["state"] != "code_sent" {
		t.Fatalf("unexpected start response %v", body)
	}
	if e.captured.kind != "sms" || e.captured.secret == "" {
		t.Fatalf("expected an sms challenge to be delivered")
	}

	code, body = e.request(t, http.MethodPost, "/api/v1/verification/submit-code",
		`{"claim_id":"`+claimID+`","code":"`+e.captured.secret+`"}`)
	if code != http.StatusOK || body["state"] != "verified" {
		t.Fatalf("submit-code: expected verified, got %d (%v)", code, body)
	}

	code, body = e.request(t, http.MethodPost, "/api/v1/sessions",
		`{"claim_id":"`+claimID+`","nickname":"alice","display_name":"Alice"}`)
	if code != http.StatusCreated {
		t.Fatalf("session: expected 201, got %d (%v)", code, body)
	}
	if body["nickname"] != "alice" || body["identity"] != "phone:+998901234567" {
		t.Fatalf("unexpected session body %v", body)
	}

	// The claim is consumed; a second session from it must fail.
	code, _ = e.request(t, http.MethodPost, "/api/v1/sessions",
		`{"claim_id":"`+claimID+`","nickname":"alice2"}`)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404 for a consumed claim, got %d", code)
	}
}

func TestNicknameConflictKeepsClaimAlive(t *testing.T) {
	e := newTestEnv(t)

	verify := func(phone string) string {
		code, body := e.request(t, http.MethodPost, "/api/v1/verification/start",
			`{"method":"phone","value":"`+phone+`"}`)
		if code != http.StatusCreated {
			t.Fatalf("start: expected 201, got %d", code)
		}
		claimID := body["claim_id"].(string)
		code, _ = e.request(t, http.MethodPost, "/api/v1/verification/submit-code",
			`{"claim_id":"`+claimID+`","code":"`+e.captured.secret+`"}`)
		if code != http.StatusOK {
			t.Fatalf("submit-code: expected 200, got %d", code)
		}
		return claimID
	}

	first := verify("+998901111111")
	if code, _ := e.request(t, http.MethodPost, "/api/v1/sessions",
		`{"claim_id":"`+first+`","nickname":"taken"}`); code != http.StatusCreated {
		t.Fatalf("expected first session to be created, got %d", code)
	}

	second := verify("+998902222222")
	if code, _ := e.request(t, http.MethodPost, "/api/v1/sessions",
		`{"claim_id":"`+second+`","nickname":"taken"}`); code != http.StatusConflict {
		t.Fatalf("expected 409 on nickname conflict, got %d", code)
	}

	// The conflict must not burn the verification; a free nickname succeeds.
	if code, _ := e.request(t, http.MethodPost, "/api/v1/sessions",
		`{"claim_id":"`+second+`","nickname":"free"}`); code != http.StatusCreated {
		t.Fatalf("expected retry with a free nickname to succeed, got %d", code)
	}
}

func TestEmailVerificationOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodPost, "/api/v1/verification/start",
		`{"method":"email","value":"a@b.com"}`)
	if code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d (%v)", code, body)
	}
	link := e.captured.secret

	code, body = e.request(t, http.MethodPost, "/api/v1/verification/email/complete",
		`{"email":"a@b.com","link":"`+link+`"}`)
	if code != http.StatusOK || body["state"] != "verified" {
		t.Fatalf("email complete: expected verified, got %d (%v)", code, body)
	}

	// Replaying the link is rejected.
	code, _ = e.request(t, http.MethodPost, "/api/v1/verification/email/complete",
		`{"email":"a@b.com","link":"`+link+`"}`)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 on link replay, got %d", code)
	}
}

func TestStartInvalidContact(t *testing.T) {
	e := newTestEnv(t)

	code, _ := e.request(t, http.MethodPost, "/api/v1/verification/start",
		`{"method":"phone","value":"12"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestResendCooldownStatus(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.request(t, http.MethodPost, "/api/v1/verification/start",
		`{"method":"phone","value":"+998901234567"}`)
	if code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", code)
	}
	claimID := body["claim_id"].(string)

	code, body = e.request(t, http.MethodPost, "/api/v1/verification/resend",
		`{"claim_id":"`+claimID+`"}`)
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 inside the cooldown, got %d", code)
	}
	if _, ok := body["retry_after_seconds"]; !ok {
		t.Fatalf("expected retry_after_seconds in body, got %v", body)
	}
}
