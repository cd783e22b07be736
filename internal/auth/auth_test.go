package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123"

func TestIssueAndVerify(t *testing.T) {
	tokens, err := NewTokens(testSecret, WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, err := tokens.Issue("idp|42", "someone@example.com", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "idp|42" || claims.Email != "someone@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := NewTokens(testSecret, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	good, err := tokens.Issue("idp|1", "", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, _ := NewTokens("another-secret-of-length", WithClock(func() time.Time { return now }))
	forged, _ := other.Issue("idp|1", "", time.Minute)

	foreign, _ := NewTokens(testSecret, WithIssuer("elsewhere"), WithClock(func() time.Time { return now }))
	wrongIssuer, _ := foreign.Issue("idp|1", "", time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer: defaultIssuer, Subject: "idp|1",
		IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	later, _ := NewTokens(testSecret, WithClock(func() time.Time { return now.Add(time.Hour) }))

	cases := map[string]struct {
		tokens *Tokens
		token  string
	}{
		"empty":        {tokens, ""},
		"garbage":      {tokens, "not-a-jwt"},
		"wrong secret": {tokens, forged},
		"wrong issuer": {tokens, wrongIssuer},
		"alg none":     {tokens, unsigned},
		"expired":      {later, good},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := tc.tokens.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens(" "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewTokens("short"); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestIssueValidatesInput(t *testing.T) {
	tokens, _ := NewTokens(testSecret)
	if _, err := tokens.Issue("", "", time.Minute); err == nil {
		t.Fatal("expected missing subject error")
	}
	if _, err := tokens.Issue("idp|1", "", 0); err == nil {
		t.Fatal("expected ttl error")
	}
}

func TestViewerContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := ViewerFromContext(ctx); ok {
		t.Fatal("expected no viewer")
	}
	ctx = ContextWithViewer(ctx, Viewer{UserID: " u1 ", Role: "admin"})
	v, ok := ViewerFromContext(ctx)
	if !ok || v.UserID != "u1" || v.Role != "admin" {
		t.Fatalf("unexpected viewer: %+v %v", v, ok)
	}
	if id, ok := UserIDFromContext(ctx); !ok || id != "u1" {
		t.Fatalf("unexpected user id %q", id)
	}
}
