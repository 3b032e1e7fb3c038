package verification

import (
	"errors"
	"time"
)

// Method selects the challenge channel for a claim.
type Method string

const (
	MethodPhone Method = "phone"
	MethodEmail Method = "email"
	MethodOAuth Method = "oauth"
)

// State of an identity claim. Verified, Failed, Expired and Cancelled are
// terminal; a claim reaches exactly one of them.
type State string

const (
	StateInitiated        State = "initiated"
	StateCodeSent         State = "code_sent"
	StateAwaitingProvider State = "awaiting_provider_redirect"
	StateVerified         State = "verified"
	StateFailed           State = "failed"
	StateExpired          State = "expired"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateVerified, StateFailed, StateExpired, StateCancelled:
		return true
	default:
		return false
	}
}

// Claim is one in-flight verification attempt for a contact method.
type Claim struct {
	ID                string
	Method            Method
	ContactValue      string
	State             State
	AttemptCount      int
	ResendCount       int
	IssuedAt          time.Time
	ExpiresAt         time.Time
	ResendAvailableAt time.Time
}

var (
	// ErrInvalidContact rejects a contact value that fails format validation
	// for the chosen method.
	ErrInvalidContact = errors.New("invalid contact value")

	// ErrTooManyResends rejects a resend past the per-claim cap.
	ErrTooManyResends = errors.New("too many resends")

	// ErrClaimNotFound means no claim exists for the given handle.
	ErrClaimNotFound = errors.New("claim not found")

	// ErrClaimTerminal rejects an operation on a claim that already reached
	// a terminal state; the caller must restart verification.
	ErrClaimTerminal = errors.New("claim is in a terminal state")

	// ErrWrongMethod rejects an operation that does not apply to the claim's
	// challenge channel.
	ErrWrongMethod = errors.New("operation does not apply to this method")

	// ErrAlreadyConsumed rejects a verification link token that was redeemed
	// before.
	ErrAlreadyConsumed = errors.New("verification link already consumed")

	// ErrNotVerified rejects consuming a claim that has not reached Verified.
	ErrNotVerified = errors.New("claim is not verified")
)

// CooldownError signals that a resend was attempted before the cooldown gate
// opened, carrying the remaining wait.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return "resend cooldown active, retry after " + e.RetryAfter.Truncate(time.Second).String()
}
