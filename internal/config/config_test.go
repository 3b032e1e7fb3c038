package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "3000" {
		t.Fatalf("expected default port 3000, got %q", cfg.Port)
	}
	if cfg.ClientOrigin != "http://localhost:5173" {
		t.Fatalf("unexpected client origin %q", cfg.ClientOrigin)
	}
	if cfg.ResendCooldown != 60*time.Second {
		t.Fatalf("unexpected resend cooldown %v", cfg.ResendCooldown)
	}
	if cfg.OfflineBufferSize != 100 {
		t.Fatalf("unexpected buffer size %d", cfg.OfflineBufferSize)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CLAIM_TTL", "5m")
	t.Setenv("CODE_ATTEMPT_CAP", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.ClaimTTL != 5*time.Minute {
		t.Fatalf("expected claim ttl 5m, got %v", cfg.ClaimTTL)
	}
	if cfg.CodeAttemptCap != 3 {
		t.Fatalf("expected attempt cap 3, got %d", cfg.CodeAttemptCap)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RESEND_COOLDOWN", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a bad duration")
	}
}

func TestAddress(t *testing.T) {
	if got := (Config{Port: "3000"}).Address(); got != ":3000" {
		t.Fatalf("unexpected address %q", got)
	}
	if got := (Config{Port: ":9000"}).Address(); got != ":9000" {
		t.Fatalf("unexpected address %q", got)
	}
}
