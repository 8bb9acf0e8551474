package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func parseClaims(t *testing.T, secret, tokenStr string) *Claims {
	t.Helper()
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	cl := &Claims{}
	if _, err := parser.ParseWithClaims(tokenStr, cl, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		t.Fatalf("ParseWithClaims error: %v", err)
	}
	return cl
}

func TestGenerateRefreshToken(t *testing.T) {
	token, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken error: %v", err)
	}
	raw, err := hex.DecodeString(token)
	if err != nil {
		t.Fatalf("expected hex token, got error: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 random bytes, got %d", len(raw))
	}
}

func TestNewToken_RoundTrip(t *testing.T) {
	secret := "test-secret"
	subject := uuid.New().String()

	tokenStr, err := NewToken(secret, "jobpilot-test", subject, []string{"user", "admin"}, 2*time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	cl := parseClaims(t, secret, tokenStr)
	if cl.Issuer != "jobpilot-test" {
		t.Fatalf("expected issuer jobpilot-test, got %q", cl.Issuer)
	}
	if cl.UserID != subject || cl.Sub != subject {
		t.Fatalf("expected subject %q in user_id and sub, got %q / %q", subject, cl.UserID, cl.Sub)
	}
	if len(cl.Roles) != 2 || cl.Roles[0] != "user" || cl.Roles[1] != "admin" {
		t.Fatalf("unexpected roles: %v", cl.Roles)
	}
	if cl.ExpiresAt == nil || cl.IssuedAt == nil {
		t.Fatalf("expected iat/exp to be set")
	}
	if got := cl.ExpiresAt.Sub(cl.IssuedAt.Time); got != 2*time.Minute {
		t.Fatalf("expected 2m lifetime, got %s", got)
	}
}

func TestNewToken_ExpiredRejected(t *testing.T) {
	tokenStr, err := NewToken("test-secret", "jobpilot-test", uuid.New().String(), []string{"user"}, -time.Minute)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err = parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	if err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestNewTokenPair(t *testing.T) {
	pair, err := NewTokenPair("test-secret", "jobpilot-test", uuid.New(), []string{"user"}, time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenPair error: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatal("expected non-empty access token")
	}
	if len(pair.RefreshToken) != 64 {
		t.Fatalf("expected 64-char refresh token, got %d", len(pair.RefreshToken))
	}

	cl := parseClaims(t, "test-secret", pair.AccessToken)
	if cl.UserID == "" {
		t.Fatal("expected user_id claim in access token")
	}
}
