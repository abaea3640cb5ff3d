package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ratedesk.org/internal/auth"
	"ratedesk.org/internal/obs"
)

// ReadyProbe pings the backing stores for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the wired engine components into the HTTP layer.
type Config struct {
	Version     string
	ReadyProbe  ReadyProbe
	Identities  auth.IdentityStore
	Validator   *auth.CredentialValidator
	Tokens      *auth.TokenService
	Resolver    *auth.PermissionResolver
	Delegations *auth.DelegationManager
	Reset       *auth.PasswordResetFlow

	// Per-IP token bucket for the whole API surface.
	RateLimitPerSecond int
	RateLimitBurst     int
}

// API is the HTTP layer over the auth engine.
type API struct {
	mux         *http.ServeMux
	readyProbe  ReadyProbe
	version     string
	identities  auth.IdentityStore
	validator   *auth.CredentialValidator
	tokens      *auth.TokenService
	resolver    *auth.PermissionResolver
	delegations *auth.DelegationManager
	reset       *auth.PasswordResetFlow

	ratePerSecond int
	rateBurst     int
}

func New(cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    cfg.ReadyProbe,
		version:       cfg.Version,
		identities:    cfg.Identities,
		validator:     cfg.Validator,
		tokens:        cfg.Tokens,
		resolver:      cfg.Resolver,
		delegations:   cfg.Delegations,
		reset:         cfg.Reset,
		ratePerSecond: cfg.RateLimitPerSecond,
		rateBurst:     cfg.RateLimitBurst,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/reset", a.handleResetInitiate)
	a.mux.HandleFunc("/v1/auth/reset/confirm", a.handleResetConfirm)

	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)
	a.mux.HandleFunc("/v1/delegations", a.handleDelegations)
	a.mux.HandleFunc("/v1/delegations/", a.handleDelegationByID)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	if a.ratePerSecond > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	}
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "ratedesk-auth",
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Shared response helpers ---------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
