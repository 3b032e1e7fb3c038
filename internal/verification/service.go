package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chat-me/chatme/internal/provider"
)

// Config enumerates the options the coordinator needs.
type Config struct {
	ClaimTTL       time.Duration
	ResendCooldown time.Duration
	CodeAttemptCap int
	ResendCap      int
}

// Coordinator owns the per-claim verification state machine. It is safe for
// concurrent use; provider calls happen outside the claim lock so a slow
// challenge issuance never blocks other claims.
type Coordinator struct {
	cfg      Config
	provider provider.Provider
	consumed ConsumedTokenStore
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	claims    map[string]*claimRecord
	byContact map[string]string // normalized contact value -> live claim id
}

type claimRecord struct {
	claim          Claim
	challengeToken string
	identity       provider.VerifiedIdentity
	expiry         *time.Timer
}

// NewCoordinator constructs a verification coordinator.
func NewCoordinator(cfg Config, p provider.Provider, consumed ConsumedTokenStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		provider:  p,
		consumed:  consumed,
		logger:    logger,
		now:       time.Now,
		claims:    make(map[string]*claimRecord),
		byContact: make(map[string]string),
	}
}

// Start begins verification for a contact value. If a live claim already
// exists for the same contact, that claim is returned instead of creating a
// concurrent one; its cooldown rules stay in force.
func (c *Coordinator) Start(ctx context.Context, method Method, rawValue string) (Claim, error) {
	contact, err := normalizeContact(method, rawValue)
	if err != nil {
		return Claim{}, err
	}

	now := c.now()

	c.mu.Lock()
	if contact != "" {
		if id, ok := c.byContact[contact]; ok {
			snapshot := c.claims[id].claim
			c.mu.Unlock()
			return snapshot, nil
		}
	}

	rec := &claimRecord{claim: Claim{
		ID:                uuid.NewString(),
		Method:            method,
		ContactValue:      contact,
		State:             StateInitiated,
		IssuedAt:          now,
		ExpiresAt:         now.Add(c.cfg.ClaimTTL),
		ResendAvailableAt: now.Add(c.cfg.ResendCooldown),
	}}
	id := rec.claim.ID
	rec.expiry = time.AfterFunc(c.cfg.ClaimTTL, func() { c.expire(id) })
	c.claims[id] = rec
	if contact != "" {
		c.byContact[contact] = id
	}
	c.mu.Unlock()

	token, err := c.issueChallenge(ctx, method, contact)
	if err != nil {
		c.mu.Lock()
		c.remove(rec)
		c.mu.Unlock()
		return Claim{}, fmt.Errorf("issue challenge: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.claim.State.Terminal() {
		return Claim{}, ErrClaimTerminal
	}
	rec.challengeToken = token
	if method == MethodOAuth {
		rec.claim.State = StateAwaitingProvider
	} else {
		rec.claim.State = StateCodeSent
	}
	c.logger.Info("verification started", "claim_id", id, "method", method, "contact", contact)
	return rec.claim, nil
}

// Resend reissues the outstanding challenge. It fails while the cooldown gate
// is closed and once the resend cap is exhausted.
func (c *Coordinator) Resend(ctx context.Context, claimID string) (Claim, error) {
	c.mu.Lock()
	rec, ok := c.claims[claimID]
	if !ok {
		c.mu.Unlock()
		return Claim{}, ErrClaimNotFound
	}
	if rec.claim.State.Terminal() {
		c.mu.Unlock()
		return Claim{}, ErrClaimTerminal
	}
	now := c.now()
	if now.Before(rec.claim.ResendAvailableAt) {
		wait := rec.claim.ResendAvailableAt.Sub(now)
		c.mu.Unlock()
		return Claim{}, &CooldownError{RetryAfter: wait}
	}
	if rec.claim.ResendCount >= c.cfg.ResendCap {
		c.mu.Unlock()
		return Claim{}, ErrTooManyResends
	}
	prevAvailableAt := rec.claim.ResendAvailableAt
	rec.claim.ResendCount++
	rec.claim.ResendAvailableAt = now.Add(c.cfg.ResendCooldown)
	method, contact := rec.claim.Method, rec.claim.ContactValue
	c.mu.Unlock()

	token, err := c.issueChallenge(ctx, method, contact)
	if err != nil {
		// Nothing was delivered; give the resend back and reopen the gate.
		c.mu.Lock()
		if !rec.claim.State.Terminal() {
			rec.claim.ResendCount--
			rec.claim.ResendAvailableAt = prevAvailableAt
		}
		c.mu.Unlock()
		return Claim{}, fmt.Errorf("reissue challenge: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.claim.State.Terminal() {
		return Claim{}, ErrClaimTerminal
	}
	if token != "" {
		rec.challengeToken = token
	}
	c.logger.Info("challenge resent", "claim_id", claimID, "resend_count", rec.claim.ResendCount)
	return rec.claim, nil
}

// SubmitCode confirms a phone challenge. Wrong codes increment the attempt
// count; hitting the cap moves the claim to Failed and the flow must be
// restarted with Start.
func (c *Coordinator) SubmitCode(ctx context.Context, claimID, code string) (Claim, error) {
	c.mu.Lock()
	rec, ok := c.claims[claimID]
	if !ok {
		c.mu.Unlock()
		return Claim{}, ErrClaimNotFound
	}
	if rec.claim.State.Terminal() {
		c.mu.Unlock()
		return Claim{}, ErrClaimTerminal
	}
	if rec.claim.Method != MethodPhone {
		c.mu.Unlock()
		return Claim{}, ErrWrongMethod
	}
	if rec.challengeToken == "" {
		c.mu.Unlock()
		return Claim{}, fmt.Errorf("challenge not issued yet: %w", provider.ErrProvider)
	}
	token := rec.challengeToken
	c.mu.Unlock()

	identity, err := c.provider.ConfirmPhoneChallenge(ctx, token, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.claim.State.Terminal() {
		return Claim{}, ErrClaimTerminal
	}
	if err != nil {
		if errors.Is(err, provider.ErrInvalidCode) {
			rec.claim.AttemptCount++
			if rec.claim.AttemptCount >= c.cfg.CodeAttemptCap {
				c.transition(rec, StateFailed)
			}
			return rec.claim, provider.ErrInvalidCode
		}
		return Claim{}, fmt.Errorf("confirm challenge: %w", err)
	}

	rec.identity = identity
	c.transition(rec, StateVerified)
	return rec.claim, nil
}

// CompleteFromLink redeems an email verification link. The link token is
// consumed exactly once; replays fail with ErrAlreadyConsumed.
func (c *Coordinator) CompleteFromLink(ctx context.Context, email, link string) (Claim, error) {
	contact, err := normalizeContact(MethodEmail, email)
	if err != nil {
		return Claim{}, err
	}
	if !c.provider.IsVerificationLink(link) {
		return Claim{}, provider.ErrInvalidLink
	}

	first, err := c.consumed.Consume(ctx, link)
	if err != nil {
		return Claim{}, fmt.Errorf("consume link token: %w", err)
	}
	if !first {
		return Claim{}, ErrAlreadyConsumed
	}

	c.mu.Lock()
	id, ok := c.byContact[contact]
	if !ok {
		c.mu.Unlock()
		_ = c.consumed.Release(ctx, link)
		return Claim{}, ErrClaimNotFound
	}
	rec := c.claims[id]
	if rec.claim.State.Terminal() {
		c.mu.Unlock()
		_ = c.consumed.Release(ctx, link)
		return Claim{}, ErrClaimTerminal
	}
	c.mu.Unlock()

	identity, err := c.provider.CompleteEmailChallenge(ctx, contact, link)
	if err != nil {
		_ = c.consumed.Release(ctx, link)
		return Claim{}, fmt.Errorf("complete email challenge: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.claim.State.Terminal() {
		return Claim{}, ErrClaimTerminal
	}
	rec.identity = identity
	c.transition(rec, StateVerified)
	return rec.claim, nil
}

// CompleteOAuth finishes an OAuth claim after a successful provider round
// trip; there is no code step.
func (c *Coordinator) CompleteOAuth(ctx context.Context, claimID string) (Claim, error) {
	c.mu.Lock()
	rec, ok := c.claims[claimID]
	if !ok {
		c.mu.Unlock()
		return Claim{}, ErrClaimNotFound
	}
	if rec.claim.State.Terminal() {
		c.mu.Unlock()
		return Claim{}, ErrClaimTerminal
	}
	if rec.claim.Method != MethodOAuth {
		c.mu.Unlock()
		return Claim{}, ErrWrongMethod
	}
	c.mu.Unlock()

	identity, err := c.provider.CompleteOAuth(ctx)
	if err != nil {
		return Claim{}, fmt.Errorf("complete oauth: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.claim.State.Terminal() {
		return Claim{}, ErrClaimTerminal
	}
	rec.identity = identity
	rec.claim.ContactValue = identity.Contact
	c.transition(rec, StateVerified)
	return rec.claim, nil
}

// Cancel tears a claim down. Cancelling an already-terminal claim is a no-op.
func (c *Coordinator) Cancel(claimID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.claims[claimID]
	if !ok {
		return ErrClaimNotFound
	}
	if rec.claim.State.Terminal() {
		return nil
	}
	c.transition(rec, StateCancelled)
	return nil
}

// Verified returns the identity behind a Verified claim without releasing
// it. Session creation peeks first so a nickname conflict does not burn the
// claim.
func (c *Coordinator) Verified(claimID string) (provider.VerifiedIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.claims[claimID]
	if !ok {
		return provider.VerifiedIdentity{}, ErrClaimNotFound
	}
	if rec.claim.State != StateVerified {
		return provider.VerifiedIdentity{}, ErrNotVerified
	}
	return rec.identity, nil
}

// ConsumeVerified hands over the verified identity behind a claim exactly
// once, releasing the claim. Session creation calls this.
func (c *Coordinator) ConsumeVerified(claimID string) (provider.VerifiedIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.claims[claimID]
	if !ok {
		return provider.VerifiedIdentity{}, ErrClaimNotFound
	}
	if rec.claim.State != StateVerified {
		return provider.VerifiedIdentity{}, ErrNotVerified
	}
	delete(c.claims, claimID)
	return rec.identity, nil
}

// Get returns a snapshot of the claim.
func (c *Coordinator) Get(claimID string) (Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.claims[claimID]
	if !ok {
		return Claim{}, ErrClaimNotFound
	}
	return rec.claim, nil
}

func (c *Coordinator) issueChallenge(ctx context.Context, method Method, contact string) (string, error) {
	switch method {
	case MethodPhone:
		return c.provider.RequestPhoneChallenge(ctx, contact)
	case MethodEmail:
		return "", c.provider.RequestEmailChallenge(ctx, contact)
	default:
		// OAuth has nothing to deliver; the redirect happens client-side.
		return "", nil
	}
}

// transition moves a claim to a new state. Terminal transitions stop the
// expiry timer and free the contact index so a fresh Start is possible.
// Callers must hold c.mu.
func (c *Coordinator) transition(rec *claimRecord, next State) {
	rec.claim.State = next
	if next.Terminal() {
		if rec.expiry != nil {
			rec.expiry.Stop()
			rec.expiry = nil
		}
		if rec.claim.ContactValue != "" {
			delete(c.byContact, rec.claim.ContactValue)
		}
		c.logger.Info("claim reached terminal state", "claim_id", rec.claim.ID, "state", next)
	}
}

func (c *Coordinator) expire(claimID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.claims[claimID]
	if !ok || rec.claim.State.Terminal() {
		return
	}
	c.transition(rec, StateExpired)
}

// remove drops a claim entirely (failed issuance). The contact index is only
// cleared if this claim still owns it; a successor claim for the same contact
// may have registered while the issuance call was in flight. Callers must
// hold c.mu.
func (c *Coordinator) remove(rec *claimRecord) {
	if rec.expiry != nil {
		rec.expiry.Stop()
	}
	if rec.claim.ContactValue != "" && c.byContact[rec.claim.ContactValue] == rec.claim.ID {
		delete(c.byContact, rec.claim.ContactValue)
	}
	delete(c.claims, rec.claim.ID)
}

func normalizeContact(method Method, raw string) (string, error) {
	switch method {
	case MethodPhone:
		return normalizePhone(raw)
	case MethodEmail:
		return normalizeEmail(raw)
	case MethodOAuth:
		// No contact value until the provider returns one.
		return "", nil
	default:
		return "", ErrInvalidContact
	}
}

// normalizePhone accepts E.164 input or a bare 9-digit local number, which is
// prefixed with +998 the same way the original client formats it.
func normalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	plus := strings.HasPrefix(trimmed, "+")
	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case plus && len(d) >= 10 && len(d) <= 15:
		return "+" + d, nil
	case !plus && len(d) == 9:
		return "+998" + d, nil
	default:
		return "", ErrInvalidContact
	}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidContact
	}
	return strings.ToLower(addr.Address), nil
}
