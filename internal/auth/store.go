package auth

import (
	"context"
	"time"
)

// IdentityStore is the credential store gateway. Implementations must apply
// IncrementFailedLogin as an atomic read-modify-write at the storage layer:
// two concurrent failed attempts must both be counted.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
	// FindByIdentifier resolves by login name or email. The identifier is
	// already normalized (trimmed, lower-cased) by the caller.
	FindByIdentifier(ctx context.Context, identifier string) (*Identity, error)
	// IncrementFailedLogin atomically bumps the failed-login counter and
	// returns the post-increment value.
	IncrementFailedLogin(ctx context.Context, id string) (int, error)
	// ResetFailedLogin zeroes the counter, clears the lock and records the
	// successful login timestamp in one write.
	ResetFailedLogin(ctx context.Context, id string, loginAt time.Time) error
	// Save persists every mutable identity field except the failed-login
	// counter, which only the dedicated counter operations touch.
	Save(ctx context.Context, identity *Identity) error
}

// RoleStore resolves role definitions by code.
type RoleStore interface {
	FindRole(ctx context.Context, code string) (*Role, error)
}

// DelegationStore persists delegations. Grant and revoke are its only
// writers; per-record write atomicity of the storage engine is sufficient.
type DelegationStore interface {
	CreateDelegation(ctx context.Context, d *Delegation) error
	FindDelegation(ctx context.Context, id string) (*Delegation, error)
	// ActiveByGrantee returns delegations for the grantee that are neither
	// revoked nor expired at the given instant.
	ActiveByGrantee(ctx context.Context, granteeID string, now time.Time) ([]Delegation, error)
	MarkRevoked(ctx context.Context, id string) error
}

// TicketStore holds password reset tickets keyed by their opaque token.
type TicketStore interface {
	Put(ctx context.Context, ticket ResetTicket, ttl time.Duration) error
	// Consume atomically fetches and deletes the ticket so a second consume
	// of the same token reports ErrNotFound.
	Consume(ctx context.Context, token string) (*ResetTicket, error)
}

// AuditSink receives security events. Best-effort: the engine logs and
// discards its errors, it never fails the primary operation.
type AuditSink interface {
	Record(ctx context.Context, event string, metadata map[string]any) error
}

// NotificationSink delivers reset tokens out-of-band. Best-effort.
type NotificationSink interface {
	SendResetLink(ctx context.Context, email, ticketToken string) error
}
