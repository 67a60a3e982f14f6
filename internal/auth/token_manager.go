package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingIssuer        = errors.New("auth: issuer required")
	ErrMissingAudience      = errors.New("auth: audience required")
	ErrMissingCredential    = errors.New("auth: credential required")
	ErrInvalidCredential    = errors.New("auth: invalid credential")
	ErrExpiredCredential    = errors.New("auth: credential expired")
	ErrMissingPrincipal     = errors.New("auth: principal required")
)

// TokenManagerConfig configures the HS256 bearer token issuer and verifier.
type TokenManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenManager issues bearer credentials on login and resolves them back to principal ids.
// It is the gatekeeper consulted by every authenticated write.
type TokenManager struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenManager validates the configuration and constructs a TokenManager.
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenManager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// IssueToken produces a signed JWT for the principal and its lifetime in seconds.
func (m *TokenManager) IssueToken(_ context.Context, principalID string) (string, int64, error) {
	subject := strings.TrimSpace(principalID)
	if subject == "" {
		return "", 0, ErrMissingPrincipal
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.ttl)

	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.issuer,
		Audience:  []string{m.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(m.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Verify resolves a bearer credential to the principal id it was issued for.
func (m *TokenManager) Verify(_ context.Context, credential string) (string, error) {
	token := strings.TrimSpace(credential)
	if token == "" {
		return "", ErrMissingCredential
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidCredential, t.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithAudience(m.audience),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredential
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", ErrInvalidCredential
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingPrincipal
	}
	return claims.Subject, nil
}
