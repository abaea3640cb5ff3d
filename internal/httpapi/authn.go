package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ratedesk.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/reset",
	"/v1/auth/reset/confirm",
}

// withAuth validates the bearer access token, resolves the subject's
// permission rules and attaches the principal to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.Validate(r.Context(), token, auth.TokenTypeAccess)
		if err != nil {
			writeTokenError(w, err)
			return
		}

		principal := auth.Principal{Claims: claims}
		if a.identities != nil {
			identity, err := a.identities.FindByID(r.Context(), claims.Subject)
			if err == nil {
				principal.Identity = identity
			}
		}
		if a.resolver != nil {
			rules, err := a.resolver.Rules(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, auth.ErrStoreUnavailable) {
					writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
					return
				}
				writeError(w, http.StatusInternalServerError, "authorization error")
				return
			}
			principal.Rules = rules
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission checks the live aggregate for the authenticated subject.
func (a *API) requirePermission(ctx context.Context, resource, action string) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || principal.Claims == nil {
		return auth.ErrPermissionDenied
	}
	if a.resolver == nil {
		return auth.ErrPermissionDenied
	}
	return a.resolver.Require(ctx, principal.Claims.Subject, resource, action)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
