package auth

import "time"

// Wildcard is the universal-match sentinel accepted in both fields of a
// PermissionRule.
const Wildcard = "*"

// Identity represents an account held by the credential store. The
// failed-login counter and lock timestamp are mutated only by the
// CredentialValidator.
type Identity struct {
	ID               string     `json:"id"`
	LoginName        string     `json:"login_name"`
	Email            string     `json:"email"`
	CredentialHash   string     `json:"-"`
	RoleCode         string     `json:"role_code"`
	RoleRef          string     `json:"role_ref,omitempty"`
	OrganizationRef  string     `json:"organization_ref,omitempty"`
	Active           bool       `json:"active"`
	FailedLoginCount int        `json:"failed_login_count"`
	LockUntil        *time.Time `json:"lock_until,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LockedAt reports whether the identity is locked out at the given instant.
func (i *Identity) LockedAt(now time.Time) bool {
	return i.LockUntil != nil && now.Before(*i.LockUntil)
}

// PermissionRule grants a set of actions on a resource. "*" in either field
// matches anything; all other matching is case-sensitive exact-string.
type PermissionRule struct {
	Resource string   `json:"resource"`
	Actions  []string `json:"actions"`
}

// Matches reports whether the rule authorizes the resource/action pair.
func (r PermissionRule) Matches(resource, action string) bool {
	if r.Resource != Wildcard && r.Resource != resource {
		return false
	}
	for _, a := range r.Actions {
		if a == Wildcard || a == action {
			return true
		}
	}
	return false
}

// Role groups permission rules under a code. Level orders roles for display
// only; it never implies a superset of lower-level permissions.
type Role struct {
	Code        string           `json:"code"`
	Level       int              `json:"level"`
	Description string           `json:"description,omitempty"`
	Permissions []PermissionRule `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Delegation is a time-bound grant of permission rules from one subject to
// another, layered on top of the grantee's role.
type Delegation struct {
	ID          string           `json:"id"`
	GranterID   string           `json:"granter_id"`
	GranteeID   string           `json:"grantee_id"`
	Permissions []PermissionRule `json:"permissions"`
	IssuedAt    time.Time        `json:"issued_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	Revoked     bool             `json:"revoked"`
}

// ActiveAt reports whether the delegation still contributes permissions at
// the given instant.
func (d Delegation) ActiveAt(now time.Time) bool {
	return !d.Revoked && now.Before(d.ExpiresAt)
}

// ResetTicket is a single-use, time-limited password reset grant. The token
// is an opaque random string, never part of the JWT signing scheme.
type ResetTicket struct {
	SubjectID string    `json:"subject_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenPair bundles freshly signed access and refresh tokens.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
