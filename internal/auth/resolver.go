package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratedesk.org/internal/obs"
)

// PermissionResolver answers whether a subject may perform an action on a
// resource. Each call evaluates a fresh snapshot of the subject's role and
// live delegations; nothing is cached across requests.
type PermissionResolver struct {
	identities  IdentityStore
	roles       RoleStore
	delegations DelegationStore
	now         func() time.Time
}

// ResolverOption configures PermissionResolver behavior.
type ResolverOption func(*PermissionResolver) error

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *PermissionResolver) error {
		if fn != nil {
			r.now = fn
		}
		return nil
	}
}

// NewPermissionResolver constructs a resolver over the three read paths it
// needs.
func NewPermissionResolver(identities IdentityStore, roles RoleStore, delegations DelegationStore, opts ...ResolverOption) (*PermissionResolver, error) {
	if identities == nil || roles == nil || delegations == nil {
		return nil, errors.New("identity, role and delegation stores are required")
	}
	r := &PermissionResolver{
		identities:  identities,
		roles:       roles,
		delegations: delegations,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Rules aggregates the subject's role permissions with every delegation that
// is still live. Expired or revoked delegations contribute nothing.
func (r *PermissionResolver) Rules(ctx context.Context, subjectID string) ([]PermissionRule, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	identity, err := r.identities.FindByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var rules []PermissionRule
	if identity.RoleCode != "" {
		role, err := r.roles.FindRole(ctx, identity.RoleCode)
		switch {
		case errors.Is(err, ErrNotFound):
			// An identity referencing a deleted role simply has no role
			// grants left.
		case err != nil:
			return nil, err
		default:
			rules = append(rules, role.Permissions...)
		}
	}

	now := r.now().UTC()
	delegations, err := r.delegations.ActiveByGrantee(ctx, subjectID, now)
	if err != nil {
		return nil, err
	}
	for _, d := range delegations {
		if !d.ActiveAt(now) {
			continue
		}
		rules = append(rules, d.Permissions...)
	}
	return rules, nil
}

// IsAuthorized reports whether any rule in the subject's aggregate set
// matches the resource/action pair. Absence of a matching grant is the only
// form of denial; there are no deny rules.
func (r *PermissionResolver) IsAuthorized(ctx context.Context, subjectID, resource, action string) (bool, error) {
	if resource == "" || action == "" {
		return false, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	rules, err := r.Rules(ctx, subjectID)
	if err != nil {
		return false, err
	}
	for _, rule := range rules {
		if rule.Matches(resource, action) {
			obs.PermissionDecisions.WithLabelValues("allow").Inc()
			return true, nil
		}
	}
	obs.PermissionDecisions.WithLabelValues("deny").Inc()
	return false, nil
}

// Require is IsAuthorized as an error: it returns ErrPermissionDenied when no
// grant matches.
func (r *PermissionResolver) Require(ctx context.Context, subjectID, resource, action string) error {
	ok, err := r.IsAuthorized(ctx, subjectID, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrPermissionDenied, resource, action)
	}
	return nil
}
