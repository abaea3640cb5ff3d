package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ratedesk.org/internal/audit"
	"ratedesk.org/internal/auth"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := a.validator.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	pair, err := a.tokens.Issue(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeTokenError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleResetInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := a.reset.Initiate(r.Context(), req.Email); err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "reset initiation failed")
		return
	}
	// Same response whether or not the email is registered.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (a *API) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := a.reset.Redeem(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
		_ = audit.LogEvent(r.Context(), "auth.reset.confirmed", nil)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "token and new_password are required")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "reset token not found or already used")
	case errors.Is(err, auth.ErrTicketExpired):
		writeError(w, http.StatusGone, "reset token expired")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "reset failed")
	}
}

// writeAuthError maps credential check failures onto HTTP statuses. NotFound
// and InvalidCredential share one status and message; the distinction never
// leaves the process.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "identifier and password are required")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, auth.PublicMessage(err))
	case errors.Is(err, auth.ErrLocked):
		writeError(w, http.StatusLocked, auth.PublicMessage(err))
	case errors.Is(err, auth.ErrInactive):
		writeError(w, http.StatusForbidden, auth.PublicMessage(err))
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, auth.PublicMessage(err))
	default:
		writeError(w, http.StatusInternalServerError, "authentication failed")
	}
}

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenWrongType),
		errors.Is(err, auth.ErrSubjectInactive):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "token validation failed")
	}
}
