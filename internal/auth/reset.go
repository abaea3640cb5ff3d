package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"ratedesk.org/internal/obs"
)

const (
	defaultResetTTL  = time.Hour
	resetTokenLength = 32
)

// PasswordResetFlow issues and redeems single-use, time-limited reset
// tickets. Initiate never discloses whether an email is registered.
type PasswordResetFlow struct {
	identities IdentityStore
	tickets    TicketStore
	hasher     Hasher
	notify     NotificationSink
	audit      AuditSink
	ttl        time.Duration
	now        func() time.Time
}

// ResetOption configures PasswordResetFlow behavior.
type ResetOption func(*PasswordResetFlow) error

// WithResetTTL sets the ticket validity window.
func WithResetTTL(ttl time.Duration) ResetOption {
	return func(f *PasswordResetFlow) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: reset ttl must be positive", ErrInvalidInput)
		}
		f.ttl = ttl
		return nil
	}
}

// WithResetAudit attaches the best-effort audit collaborator.
func WithResetAudit(sink AuditSink) ResetOption {
	return func(f *PasswordResetFlow) error {
		f.audit = sink
		return nil
	}
}

// WithResetClock overrides the time source (useful for tests).
func WithResetClock(fn func() time.Time) ResetOption {
	return func(f *PasswordResetFlow) error {
		if fn != nil {
			f.now = fn
		}
		return nil
	}
}

// NewPasswordResetFlow constructs the flow. The notification sink delivers
// the plaintext token out-of-band and is best-effort.
func NewPasswordResetFlow(identities IdentityStore, tickets TicketStore, hasher Hasher, notify NotificationSink, opts ...ResetOption) (*PasswordResetFlow, error) {
	if identities == nil || tickets == nil || hasher == nil {
		return nil, errors.New("identity store, ticket store and hasher are required")
	}
	f := &PasswordResetFlow{
		identities: identities,
		tickets:    tickets,
		hasher:     hasher,
		notify:     notify,
		ttl:        defaultResetTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Initiate creates a reset ticket for the email if it is registered and hands
// the token to the notification sink. The caller sees the same opaque success
// either way, so account existence cannot be probed.
func (f *PasswordResetFlow) Initiate(ctx context.Context, email string) error {
	email = NormalizeIdentifier(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	identity, err := f.identities.FindByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	now := f.now().UTC()
	ticket := ResetTicket{
		SubjectID: identity.ID,
		Token:     token,
		ExpiresAt: now.Add(f.ttl),
	}
	if err := f.tickets.Put(ctx, ticket, f.ttl); err != nil {
		return err
	}

	if f.notify != nil {
		if err := f.notify.SendResetLink(ctx, identity.Email, token); err != nil {
			obs.LogRequest(map[string]any{
				"ts":    now.Format(time.RFC3339Nano),
				"level": "warn",
				"msg":   "reset notification failed",
				"err":   err.Error(),
			})
		}
	}

	f.emit(ctx, "auth.reset.initiated", map[string]any{"subject_id": identity.ID})
	return nil
}

// Redeem consumes the ticket and stores the new credential hash. Consumption
// is atomic: a second redemption of the same token fails with ErrNotFound.
func (f *PasswordResetFlow) Redeem(ctx context.Context, ticketToken, newSecret string) error {
	if ticketToken == "" || newSecret == "" {
		return fmt.Errorf("%w: ticket token and new secret are required", ErrInvalidInput)
	}

	ticket, err := f.tickets.Consume(ctx, ticketToken)
	if err != nil {
		return err
	}
	if !f.now().UTC().Before(ticket.ExpiresAt) {
		return ErrTicketExpired
	}

	identity, err := f.identities.FindByID(ctx, ticket.SubjectID)
	if err != nil {
		return err
	}
	hash, err := f.hasher.Hash(newSecret)
	if err != nil {
		return err
	}
	identity.CredentialHash = hash
	if err := f.identities.Save(ctx, identity); err != nil {
		return err
	}

	f.emit(ctx, "auth.reset.redeemed", map[string]any{"subject_id": identity.ID})
	return nil
}

// newResetToken returns a cryptographically random opaque token.
func newResetToken() (string, error) {
	buf := make([]byte, resetTokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (f *PasswordResetFlow) emit(ctx context.Context, event string, metadata map[string]any) {
	if f.audit == nil {
		return
	}
	if err := f.audit.Record(ctx, event, metadata); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "audit sink failed",
			"event": event,
			"err":   err.Error(),
		})
	}
}
