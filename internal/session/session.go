package session

import (
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrNicknameTaken means another non-expired session holds the nickname.
	ErrNicknameTaken = errors.New("nickname already taken")

	// ErrInvalidNickname rejects a nickname outside the allowed charset or
	// length bounds.
	ErrInvalidNickname = errors.New("invalid nickname")

	// ErrUnknownNickname means no session exists for the nickname; the caller
	// must complete verification and profile setup first.
	ErrUnknownNickname = errors.New("unknown nickname")
)

const (
	minNicknameLen = 3
	maxNicknameLen = 32
)

// Same charset the original profile form enforces.
var nicknamePattern = regexp.MustCompile(`^[a-z0-9._]+$`)

// Session is a verified identity bound to a chosen nickname, eligible to
// hold live connections.
type Session struct {
	Identity    string
	Nickname    string
	DisplayName string
	CreatedAt   time.Time
}

// NormalizeNickname lowercases and validates a nickname.
func NormalizeNickname(raw string) (string, error) {
	nick := strings.ToLower(strings.TrimSpace(raw))
	if utf8.RuneCountInString(nick) < minNicknameLen || utf8.RuneCountInString(nick) > maxNicknameLen {
		return "", ErrInvalidNickname
	}
	if !nicknamePattern.MatchString(nick) {
		return "", ErrInvalidNickname
	}
	return nick, nil
}
