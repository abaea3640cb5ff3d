package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ratedesk.org/internal/obs"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutWindow    = 15 * time.Minute
)

// CredentialValidator checks credentials and drives the lockout state
// machine. Counter mutations go through the store's atomic increment so
// concurrent attempts against the same identity are never under-counted.
type CredentialValidator struct {
	identities IdentityStore
	hasher     Hasher
	audit      AuditSink
	threshold  int
	lockWindow time.Duration
	now        func() time.Time
}

// CredentialOption configures CredentialValidator behavior.
type CredentialOption func(*CredentialValidator) error

// WithLockoutThreshold sets the failed-attempt count that triggers a lock.
func WithLockoutThreshold(n int) CredentialOption {
	return func(v *CredentialValidator) error {
		if n <= 0 {
			return fmt.Errorf("%w: lockout threshold must be positive", ErrInvalidInput)
		}
		v.threshold = n
		return nil
	}
}

// WithLockoutWindow sets how long a triggered lock lasts.
func WithLockoutWindow(d time.Duration) CredentialOption {
	return func(v *CredentialValidator) error {
		if d <= 0 {
			return fmt.Errorf("%w: lockout window must be positive", ErrInvalidInput)
		}
		v.lockWindow = d
		return nil
	}
}

// WithAuditSink attaches the best-effort audit collaborator.
func WithAuditSink(sink AuditSink) CredentialOption {
	return func(v *CredentialValidator) error {
		v.audit = sink
		return nil
	}
}

// WithValidatorClock overrides the time source (useful for tests).
func WithValidatorClock(fn func() time.Time) CredentialOption {
	return func(v *CredentialValidator) error {
		if fn != nil {
			v.now = fn
		}
		return nil
	}
}

// NewCredentialValidator constructs a validator with default lockout policy
// (5 attempts, 15 minute window).
func NewCredentialValidator(identities IdentityStore, hasher Hasher, opts ...CredentialOption) (*CredentialValidator, error) {
	if identities == nil {
		return nil, errors.New("identity store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	v := &CredentialValidator{
		identities: identities,
		hasher:     hasher,
		threshold:  defaultLockoutThreshold,
		lockWindow: defaultLockoutWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// NormalizeIdentifier lower-cases and trims a login name or email so lookups
// compare on one canonical form.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Authenticate resolves the identity by login name or email and verifies the
// secret. Failure kinds: ErrNotFound, ErrLocked, ErrInactive,
// ErrInvalidCredential. NotFound and InvalidCredential stay distinct here;
// only the external boundary flattens them.
func (v *CredentialValidator) Authenticate(ctx context.Context, identifier, secret string) (*Identity, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || secret == "" {
		return nil, fmt.Errorf("%w: identifier and secret are required", ErrInvalidInput)
	}

	identity, err := v.identities.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			v.emit(ctx, "auth.login.failed", map[string]any{"identifier": identifier, "reason": "not_found"})
			obs.LoginAttempts.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	now := v.now().UTC()
	if identity.LockedAt(now) {
		v.emit(ctx, "auth.login.locked", map[string]any{"subject_id": identity.ID, "lock_until": identity.LockUntil})
		obs.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, ErrLocked
	}
	if !identity.Active {
		v.emit(ctx, "auth.login.failed", map[string]any{"subject_id": identity.ID, "reason": "inactive"})
		obs.LoginAttempts.WithLabelValues("inactive").Inc()
		return nil, ErrInactive
	}

	if err := v.hasher.Verify(identity.CredentialHash, secret); err != nil {
		return nil, v.recordFailure(ctx, identity, now)
	}

	if err := v.identities.ResetFailedLogin(ctx, identity.ID, now); err != nil {
		return nil, err
	}
	identity.FailedLoginCount = 0
	identity.LockUntil = nil
	identity.LastLoginAt = &now

	v.emit(ctx, "auth.login.ok", map[string]any{"subject_id": identity.ID})
	obs.LoginAttempts.WithLabelValues("ok").Inc()
	return identity, nil
}

// recordFailure counts the miss and locks the account when the post-increment
// count reaches the threshold.
func (v *CredentialValidator) recordFailure(ctx context.Context, identity *Identity, now time.Time) error {
	count, err := v.identities.IncrementFailedLogin(ctx, identity.ID)
	if err != nil {
		obs.LoginAttempts.WithLabelValues("error").Inc()
		return err
	}
	identity.FailedLoginCount = count

	if count >= v.threshold {
		until := now.Add(v.lockWindow)
		identity.LockUntil = &until
		if err := v.identities.Save(ctx, identity); err != nil {
			return err
		}
		v.emit(ctx, "auth.login.lockout", map[string]any{
			"subject_id":   identity.ID,
			"failed_count": count,
			"lock_until":   until,
		})
		obs.LoginAttempts.WithLabelValues("locked").Inc()
		obs.LockoutsTriggered.Inc()
		return ErrLocked
	}

	v.emit(ctx, "auth.login.failed", map[string]any{
		"subject_id":   identity.ID,
		"reason":       "invalid_credential",
		"failed_count": count,
	})
	obs.LoginAttempts.WithLabelValues("invalid").Inc()
	return ErrInvalidCredential
}

// emit sends the audit event and drops sink failures after logging them.
func (v *CredentialValidator) emit(ctx context.Context, event string, metadata map[string]any) {
	if v.audit == nil {
		return
	}
	if err := v.audit.Record(ctx, event, metadata); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "audit sink failed",
			"event": event,
			"err":   err.Error(),
		})
	}
}
