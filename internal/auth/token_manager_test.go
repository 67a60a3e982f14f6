package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokenManager(t *testing.T, clock func() time.Time) *TokenManager {
	t.Helper()
	manager, err := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "inkwell-auth",
		Audience:      "inkwell-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return manager
}

func TestTokenManagerIssuesTokens(t *testing.T) {
	manager := newTestTokenManager(t, nil)

	tokenString, expiresIn, err := manager.IssueToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "inkwell-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "inkwell-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenManagerVerifiesIssuedTokens(t *testing.T) {
	manager := newTestTokenManager(t, nil)

	tokenString, _, err := manager.IssueToken(context.Background(), "user-321")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	principal, err := manager.Verify(context.Background(), tokenString)
	if err != nil {
		t.Fatalf("expected verification success: %v", err)
	}
	if principal != "user-321" {
		t.Fatalf("unexpected principal %s", principal)
	}

	if _, err := manager.Verify(context.Background(), "invalid.token"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected invalid credential error, got %v", err)
	}
	if _, err := manager.Verify(context.Background(), "  "); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}

func TestTokenManagerRejectsExpiredTokens(t *testing.T) {
	issuedAt := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	current := issuedAt
	manager := newTestTokenManager(t, func() time.Time { return current })

	tokenString, _, err := manager.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	current = issuedAt.Add(2 * time.Hour)
	if _, err := manager.Verify(context.Background(), tokenString); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected expired credential error, got %v", err)
	}
}

func TestTokenManagerRejectsForeignAudience(t *testing.T) {
	manager := newTestTokenManager(t, nil)
	other, err := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "inkwell-auth",
		Audience:      "someone-else",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := other.IssueToken(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := manager.Verify(context.Background(), tokenString); err == nil {
		t.Fatalf("expected audience mismatch to be rejected")
	}
}

func TestNewTokenManagerValidatesConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  TokenManagerConfig
		want error
	}{
		{
			name: "missing-secret",
			cfg:  TokenManagerConfig{Issuer: "inkwell-auth", Audience: "inkwell-api"},
			want: ErrMissingSigningSecret,
		},
		{
			name: "missing-issuer",
			cfg:  TokenManagerConfig{SigningSecret: []byte("secret"), Audience: "inkwell-api"},
			want: ErrMissingIssuer,
		},
		{
			name: "missing-audience",
			cfg:  TokenManagerConfig{SigningSecret: []byte("secret"), Issuer: "inkwell-auth", Audience: " "},
			want: ErrMissingAudience,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewTokenManager(testCase.cfg); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestIssueTokenRequiresPrincipal(t *testing.T) {
	manager := newTestTokenManager(t, nil)
	if _, _, err := manager.IssueToken(context.Background(), " "); !errors.Is(err, ErrMissingPrincipal) {
		t.Fatalf("expected missing principal error, got %v", err)
	}
}
