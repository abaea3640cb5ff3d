package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ratedesk.org/internal/obs"
)

// Token type discriminator values. A refresh token must never be accepted
// where an access token is required and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	defaultIssuer     = "ratedesk"
	defaultAccessTTL  = 2 * time.Hour
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Claims is the signed token payload exchanged at the boundary.
type Claims struct {
	LoginName       string `json:"login_name"`
	RoleCode        string `json:"role_code"`
	RoleRef         string `json:"role_ref,omitempty"`
	OrganizationRef string `json:"organization_ref,omitempty"`
	TokenType       string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService signs and validates access/refresh token pairs with a single
// shared HS256 secret supplied by configuration.
type TokenService struct {
	identities IdentityStore
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: access ttl must be positive", ErrInvalidInput)
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: refresh ttl must be positive", ErrInvalidInput)
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs the issuer/validator. The signing secret comes
// from configuration and is required.
func NewTokenService(identities IdentityStore, secret []byte, opts ...TokenOption) (*TokenService, error) {
	if identities == nil {
		return nil, errors.New("identity store is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	s := &TokenService{
		identities: identities,
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Issue signs a fresh access/refresh pair carrying the identity's claims.
func (s *TokenService) Issue(identity *Identity) (TokenPair, error) {
	if identity == nil || identity.ID == "" {
		return TokenPair{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	now := s.now().UTC()

	access, accessExp, err := s.sign(identity, TokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.sign(identity, TokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(identity *Identity, tokenType string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		LoginName:       identity.LoginName,
		RoleCode:        identity.RoleCode,
		RoleRef:         identity.RoleRef,
		OrganizationRef: identity.OrganizationRef,
		TokenType:       tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate checks signature, expiry and type in that order, then re-fetches
// the subject and confirms it is still active. Tokens are not the sole source
// of truth: a deactivated account loses access even with an unexpired token.
func (s *TokenService) Validate(ctx context.Context, token, expectedType string) (*Claims, error) {
	if expectedType != TokenTypeAccess && expectedType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", ErrInvalidInput, expectedType)
	}
	claims, err := s.parse(token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired):
			obs.TokenValidations.WithLabelValues("expired").Inc()
		default:
			obs.TokenValidations.WithLabelValues("malformed").Inc()
		}
		return nil, err
	}
	if claims.TokenType != expectedType {
		obs.TokenValidations.WithLabelValues("wrong_type").Inc()
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrTokenWrongType, expectedType, claims.TokenType)
	}

	identity, err := s.identities.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.TokenValidations.WithLabelValues("subject_inactive").Inc()
			return nil, ErrSubjectInactive
		}
		obs.TokenValidations.WithLabelValues("error").Inc()
		return nil, err
	}
	if !identity.Active {
		obs.TokenValidations.WithLabelValues("subject_inactive").Inc()
		return nil, ErrSubjectInactive
	}

	obs.TokenValidations.WithLabelValues("ok").Inc()
	return claims, nil
}

// Refresh rotates a refresh token: the live identity is re-resolved and a
// fresh pair is issued. The previous refresh token is not blacklisted and
// stays valid until its natural expiry.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.Validate(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	identity, err := s.identities.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrSubjectInactive
		}
		return TokenPair{}, err
	}
	return s.Issue(identity)
}

func (s *TokenService) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenMalformed
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrTokenMalformed
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
