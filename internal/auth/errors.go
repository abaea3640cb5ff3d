package auth

import "errors"

// Sentinel errors returned by the engine. Callers branch with errors.Is; the
// HTTP boundary flattens ErrNotFound and ErrInvalidCredential into one
// user-visible message so account existence cannot be probed.
var (
	ErrInvalidInput = errors.New("auth: invalid input")

	// Credential check outcomes.
	ErrNotFound          = errors.New("auth: not found")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrLocked            = errors.New("auth: account locked")
	ErrInactive          = errors.New("auth: account inactive")

	// Token validation outcomes.
	ErrTokenMalformed  = errors.New("auth: token malformed")
	ErrTokenExpired    = errors.New("auth: token expired")
	ErrTokenWrongType  = errors.New("auth: token wrong type")
	ErrSubjectInactive = errors.New("auth: token subject inactive")

	// Authorization and delegation outcomes.
	ErrPermissionDenied    = errors.New("auth: permission denied")
	ErrExceedsGranterScope = errors.New("auth: delegation exceeds granter scope")

	// Password reset outcomes.
	ErrTicketExpired = errors.New("auth: reset ticket expired")

	// ErrStoreUnavailable marks transient store/IO failures that are safe to
	// retry, as opposed to authentication failures which are not.
	ErrStoreUnavailable = errors.New("auth: store unavailable")
)

// PublicMessage maps an engine error to the message safe to show end users.
// NotFound and InvalidCredential are deliberately indistinguishable here.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidCredential):
		return "invalid credentials"
	case errors.Is(err, ErrLocked):
		return "account temporarily locked"
	case errors.Is(err, ErrInactive):
		return "account disabled"
	case errors.Is(err, ErrStoreUnavailable):
		return "service temporarily unavailable"
	default:
		return "authentication failed"
	}
}
