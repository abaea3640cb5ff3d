package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ratedesk.org/internal/audit"
	"ratedesk.org/internal/auth"
)

type authzCheckRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type authzCheckResponse struct {
	Allowed bool `json:"allowed"`
}

type grantRequest struct {
	GranteeID   string                `json:"grantee_id"`
	Permissions []auth.PermissionRule `json:"permissions"`
	TTLSeconds  int64                 `json:"ttl_seconds"`
}

func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.Claims == nil {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	allowed, err := a.resolver.IsAuthorized(r.Context(), principal.Claims.Subject, req.Resource, req.Action)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "resource and action are required")
			return
		}
		writeError(w, http.StatusInternalServerError, "authorization error")
		return
	}
	writeJSON(w, http.StatusOK, authzCheckResponse{Allowed: allowed})
}

// handleDelegations grants (POST, the authenticated subject is the granter)
// or lists the subject's live delegations (GET).
func (a *API) handleDelegations(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.Claims == nil {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req grantRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ttl := time.Duration(req.TTLSeconds) * time.Second
		d, err := a.delegations.Grant(r.Context(), principal.Claims.Subject, req.GranteeID, req.Permissions, ttl)
		if err != nil {
			writeDelegationError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "api.delegation.granted", map[string]any{"delegation_id": d.ID})
		writeJSON(w, http.StatusCreated, d)

	case http.MethodGet:
		list, err := a.delegations.ActiveFor(r.Context(), principal.Claims.Subject)
		if err != nil {
			writeDelegationError(w, err)
			return
		}
		if list == nil {
			list = []auth.Delegation{}
		}
		writeJSON(w, http.StatusOK, list)

	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// handleDelegationByID revokes a delegation. Revocation is an administrative
// action gated on the delegations:revoke grant.
func (a *API) handleDelegationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/delegations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := a.requirePermission(r.Context(), "delegations", "revoke"); err != nil {
		if errors.Is(err, auth.ErrPermissionDenied) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		writeError(w, http.StatusInternalServerError, "authorization error")
		return
	}

	if err := a.delegations.Revoke(r.Context(), id); err != nil {
		writeDelegationError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "api.delegation.revoked", map[string]any{"delegation_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeDelegationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid delegation request")
	case errors.Is(err, auth.ErrExceedsGranterScope):
		writeError(w, http.StatusForbidden, "cannot delegate permissions you do not hold")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "delegation not found")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "delegation operation failed")
	}
}
