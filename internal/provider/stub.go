package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	linkHost = "chatme.example"
	linkPath = "/verify"
)

type phoneChallenge struct {
	phone    string
	codeHash []byte
}

// Stub is an in-process identity provider used in development and tests. It
// issues real one-time codes and link tokens but delivers them through the
// structured logger instead of SMS/email.
type Stub struct {
	logger *slog.Logger

	// OnDeliver, when set, receives every outbound challenge secret
	// (code or link) alongside its destination. Tests use it to capture
	// what a real user would read from their phone or inbox.
	OnDeliver func(kind, destination, secret string)

	// OAuthIdentity is returned by CompleteOAuth.
	OAuthIdentity VerifiedIdentity

	mu     sync.Mutex
	phones map[string]phoneChallenge // challenge token -> pending code
	links  map[string]string         // link URL -> email it was issued for
}

// NewStub constructs a stub provider that logs challenge deliveries.
func NewStub(logger *slog.Logger) *Stub {
	return &Stub{
		logger: logger,
		OAuthIdentity: VerifiedIdentity{
			Subject: "google:stub-user",
			Method:  MethodOAuth,
			Contact: "stub.user@gmail.com",
		},
		phones: make(map[string]phoneChallenge),
		links:  make(map[string]string),
	}
}

// RequestPhoneChallenge issues a 6-digit code for the phone number and returns
// an opaque confirmation handle. Only a bcrypt hash of the code is retained.
func (s *Stub) RequestPhoneChallenge(_ context.Context, phone string) (string, error) {
	code, err := sixDigitCode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.phones[token] = phoneChallenge{phone: phone, codeHash: hash}
	s.mu.Unlock()

	s.deliver("sms", phone, code)
	return token, nil
}

// ConfirmPhoneChallenge checks the submitted code against the outstanding
// challenge. The handle stays valid across wrong attempts; the coordinator
// owns the attempt cap.
func (s *Stub) ConfirmPhoneChallenge(_ context.Context, challengeToken, code string) (VerifiedIdentity, error) {
	s.mu.Lock()
	ch, ok := s.phones[challengeToken]
	s.mu.Unlock()
	if !ok {
		return VerifiedIdentity{}, ErrProvider
	}

	if bcrypt.CompareHashAndPassword(ch.codeHash, []byte(code)) != nil {
		return VerifiedIdentity{}, ErrInvalidCode
	}

	s.mu.Lock()
	delete(s.phones, challengeToken)
	s.mu.Unlock()

	return VerifiedIdentity{Subject: "phone:" + ch.phone, Method: MethodPhone, Contact: ch.phone}, nil
}

// RequestEmailChallenge issues a sign-in link for the email address.
func (s *Stub) RequestEmailChallenge(_ context.Context, email string) error {
	link := fmt.Sprintf("https://%s%s?token=%s&email=%s", linkHost, linkPath, uuid.NewString(), url.QueryEscape(email))
	s.mu.Lock()
	s.links[link] = email
	s.mu.Unlock()

	s.deliver("email", email, link)
	return nil
}

// IsVerificationLink reports whether the URL has the shape of a sign-in link
// issued by this provider.
func (s *Stub) IsVerificationLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == linkHost && u.Path == linkPath && u.Query().Get("token") != ""
}

// CompleteEmailChallenge redeems a sign-in link. A link is single-use at the
// provider: redeeming it a second time fails with ErrInvalidLink.
func (s *Stub) CompleteEmailChallenge(_ context.Context, email, raw string) (VerifiedIdentity, error) {
	if !s.IsVerificationLink(raw) {
		return VerifiedIdentity{}, ErrInvalidLink
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	issuedFor, ok := s.links[raw]
	if !ok || !strings.EqualFold(issuedFor, email) {
		return VerifiedIdentity{}, ErrInvalidLink
	}
	delete(s.links, raw)

	return VerifiedIdentity{Subject: "email:" + issuedFor, Method: MethodEmail, Contact: issuedFor}, nil
}

// CompleteOAuth simulates a successful provider popup round trip.
func (s *Stub) CompleteOAuth(_ context.Context) (VerifiedIdentity, error) {
	return s.OAuthIdentity, nil
}

func (s *Stub) deliver(kind, destination, secret string) {
	if s.OnDeliver != nil {
		s.OnDeliver(kind, destination, secret)
	}
	if s.logger != nil {
		s.logger.Info("challenge issued", "kind", kind, "destination", destination, "secret", secret)
	}
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
