package session

import (
	"errors"
	"testing"
	"time"

	"github.com/chat-me/chatme/internal/logging"
)

func TestCreateSessionEnforcesUniqueness(t *testing.T) {
	r := NewRegistry(time.Minute, logging.Discard())

	first, err := r.CreateSession("phone:+998901234567", "Alice", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Nickname != "alice" {
		t.Fatalf("expected lowercase nickname, got %q", first.Nickname)
	}
	if first.DisplayName != "alice" {
		t.Fatalf("expected display name to default to nickname, got %q", first.DisplayName)
	}

	if _, err := r.CreateSession("email:b@b.com", "ALICE", "Other"); !errors.Is(err, ErrNicknameTaken) {
		t.Fatalf("expected ErrNicknameTaken, got %v", err)
	}
}

func TestCreateSessionValidatesNickname(t *testing.T) {
	r := NewRegistry(time.Minute, logging.Discard())

	for _, nick := range []string{"ab", "has space", "UPPER!", "dash-es", ""} {
		if _, err := r.CreateSession("x", nick, ""); !errors.Is(err, ErrInvalidNickname) {
			t.Fatalf("nickname %q: expected ErrInvalidNickname, got %v", nick, err)
		}
	}

	if _, err := r.CreateSession("x", "ok_name.42", ""); err != nil {
		t.Fatalf("valid nickname rejected: %v", err)
	}
}

func TestBindConnectionUnknownNickname(t *testing.T) {
	r := NewRegistry(time.Minute, logging.Discard())

	if err := r.BindConnection("ghost", "conn-1"); !errors.Is(err, ErrUnknownNickname) {
		t.Fatalf("expected ErrUnknownNickname, got %v", err)
	}
}

func TestUnbindReportsOfflineOnlyWhenLastConnectionDrops(t *testing.T) {
	r := NewRegistry(time.Minute, logging.Discard())

	if _, err := r.CreateSession("x", "carol", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.BindConnection("carol", "conn-1"); err != nil {
		t.Fatalf("bind 1: %v", err)
	}
	if err := r.BindConnection("carol", "conn-2"); err != nil {
		t.Fatalf("bind 2: %v", err)
	}
	if got := len(r.Resolve("carol")); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	if nick, offline := r.UnbindConnection("conn-1"); nick != "carol" || offline {
		t.Fatalf("expected carol still online, got nick=%q offline=%v", nick, offline)
	}
	if nick, offline := r.UnbindConnection("conn-2"); nick != "carol" || !offline {
		t.Fatalf("expected carol offline after last unbind, got nick=%q offline=%v", nick, offline)
	}

	// Unbinding an unknown connection is a no-op.
	if nick, offline := r.UnbindConnection("conn-404"); nick != "" || offline {
		t.Fatalf("expected no-op unbind, got nick=%q offline=%v", nick, offline)
	}
}

func TestGraceExpiryFreesNickname(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, logging.Discard())

	if _, err := r.CreateSession("x", "dave", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.BindConnection("dave", "conn-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	r.UnbindConnection("conn-1")

	time.Sleep(80 * time.Millisecond)

	if _, ok := r.Get("dave"); ok {
		t.Fatalf("expected the session to be destroyed after the grace period")
	}
	if _, err := r.CreateSession("y", "dave", ""); err != nil {
		t.Fatalf("expected the nickname to be reusable, got %v", err)
	}
}

func TestReconnectWithinGraceKeepsSession(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, logging.Discard())

	if _, err := r.CreateSession("x", "erin", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.BindConnection("erin", "conn-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	r.UnbindConnection("conn-1")

	// Rebind before the grace timer fires.
	if err := r.BindConnection("erin", "conn-2"); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	if _, ok := r.Get("erin"); !ok {
		t.Fatalf("expected the session to survive a reconnect within grace")
	}
	if got := len(r.Resolve("erin")); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
}
