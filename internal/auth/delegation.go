package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratedesk.org/internal/ids"
	"ratedesk.org/internal/obs"
)

// DelegationManager creates and revokes time-bound permission grants. A
// subject can never delegate more than it currently holds; emergency
// elevations go through the same check under an identity that already holds
// the elevated permissions.
type DelegationManager struct {
	delegations DelegationStore
	resolver    *PermissionResolver
	audit       AuditSink
	now         func() time.Time
}

// DelegationOption configures DelegationManager behavior.
type DelegationOption func(*DelegationManager) error

// WithDelegationAudit attaches the best-effort audit collaborator.
func WithDelegationAudit(sink AuditSink) DelegationOption {
	return func(m *DelegationManager) error {
		m.audit = sink
		return nil
	}
}

// WithDelegationClock overrides the time source (useful for tests).
func WithDelegationClock(fn func() time.Time) DelegationOption {
	return func(m *DelegationManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewDelegationManager constructs a manager; the resolver enforces the
// granter-scope rule.
func NewDelegationManager(delegations DelegationStore, resolver *PermissionResolver, opts ...DelegationOption) (*DelegationManager, error) {
	if delegations == nil {
		return nil, errors.New("delegation store is required")
	}
	if resolver == nil {
		return nil, errors.New("permission resolver is required")
	}
	m := &DelegationManager{
		delegations: delegations,
		resolver:    resolver,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Grant creates a delegation after verifying the granter itself holds every
// resource/action pair being delegated. Delegating a wildcard requires
// holding the matching wildcard.
func (m *DelegationManager) Grant(ctx context.Context, granterID, granteeID string, permissions []PermissionRule, ttl time.Duration) (*Delegation, error) {
	if granterID == "" || granteeID == "" {
		return nil, fmt.Errorf("%w: granter and grantee ids are required", ErrInvalidInput)
	}
	if granterID == granteeID {
		return nil, fmt.Errorf("%w: cannot delegate to self", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	if len(permissions) == 0 {
		return nil, fmt.Errorf("%w: at least one permission rule is required", ErrInvalidInput)
	}
	for _, rule := range permissions {
		if rule.Resource == "" || len(rule.Actions) == 0 {
			return nil, fmt.Errorf("%w: permission rule needs a resource and actions", ErrInvalidInput)
		}
		for _, action := range rule.Actions {
			if action == "" {
				return nil, fmt.Errorf("%w: empty action in permission rule", ErrInvalidInput)
			}
			ok, err := m.resolver.IsAuthorized(ctx, granterID, rule.Resource, action)
			if err != nil {
				return nil, err
			}
			if !ok {
				obs.DelegationEvents.WithLabelValues("rejected").Inc()
				return nil, fmt.Errorf("%w: %s:%s", ErrExceedsGranterScope, rule.Resource, action)
			}
		}
	}

	now := m.now().UTC()
	d := &Delegation{
		ID:          ids.New(),
		GranterID:   granterID,
		GranteeID:   granteeID,
		Permissions: permissions,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := m.delegations.CreateDelegation(ctx, d); err != nil {
		return nil, err
	}

	m.emit(ctx, "auth.delegation.granted", map[string]any{
		"delegation_id": d.ID,
		"granter_id":    granterID,
		"grantee_id":    granteeID,
		"expires_at":    d.ExpiresAt,
	})
	obs.DelegationEvents.WithLabelValues("granted").Inc()
	return d, nil
}

// Revoke marks the delegation revoked. Revoking an already-revoked or
// expired delegation is a no-op success; an unknown id is ErrNotFound.
func (m *DelegationManager) Revoke(ctx context.Context, delegationID string) error {
	if delegationID == "" {
		return fmt.Errorf("%w: delegation id is required", ErrInvalidInput)
	}
	d, err := m.delegations.FindDelegation(ctx, delegationID)
	if err != nil {
		return err
	}
	if d.Revoked {
		return nil
	}
	if err := m.delegations.MarkRevoked(ctx, delegationID); err != nil {
		// Lost a race with another revoke; still a success.
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	m.emit(ctx, "auth.delegation.revoked", map[string]any{"delegation_id": delegationID})
	obs.DelegationEvents.WithLabelValues("revoked").Inc()
	return nil
}

// ActiveFor lists the delegations currently contributing permissions to the
// grantee.
func (m *DelegationManager) ActiveFor(ctx context.Context, granteeID string) ([]Delegation, error) {
	if granteeID == "" {
		return nil, fmt.Errorf("%w: grantee id is required", ErrInvalidInput)
	}
	return m.delegations.ActiveByGrantee(ctx, granteeID, m.now().UTC())
}

func (m *DelegationManager) emit(ctx context.Context, event string, metadata map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, event, metadata); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "audit sink failed",
			"event": event,
			"err":   err.Error(),
		})
	}
}
