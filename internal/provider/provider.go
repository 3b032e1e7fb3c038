package provider

import (
	"context"
	"errors"
)

var (
	// ErrProvider indicates the backing identity provider rejected or failed
	// a challenge issuance; the caller may retry via resend.
	ErrProvider = errors.New("identity provider error")

	// ErrInvalidCode indicates the submitted phone code did not match the
	// outstanding challenge.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrInvalidLink indicates the email verification link is malformed,
	// unknown, or was already redeemed at the provider.
	ErrInvalidLink = errors.New("invalid or consumed verification link")
)

// Methods a contact value can be verified through.
const (
	MethodPhone = "phone"
	MethodEmail = "email"
	MethodOAuth = "oauth"
)

// VerifiedIdentity is the stable subject the provider vouches for once a
// challenge completes.
type VerifiedIdentity struct {
	Subject string
	Method  string
	Contact string
}

// Provider is the narrow capability set the verification coordinator consumes.
// Challenge handles returned by the provider are opaque; the coordinator
// stores them and passes them back, never inspects them.
type Provider interface {
	RequestPhoneChallenge(ctx context.Context, phone string) (challengeToken string, err error)
	ConfirmPhoneChallenge(ctx context.Context, challengeToken, code string) (VerifiedIdentity, error)
	RequestEmailChallenge(ctx context.Context, email string) error
	IsVerificationLink(url string) bool
	CompleteEmailChallenge(ctx context.Context, email, url string) (VerifiedIdentity, error)
	CompleteOAuth(ctx context.Context) (VerifiedIdentity, error)
}
