package remote

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenSource_MintsVerifiableToken(t *testing.T) {
	ts := newTokenSource("test-secret", "terminal-1", "biz-1")

	signed, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatal("unexpected claims type")
	}
	if claims["terminal_id"] != "terminal-1" || claims["business_id"] != "biz-1" {
		t.Errorf("unexpected identity claims: %v", claims)
	}
}

func TestTokenSource_CachesUntilNearExpiry(t *testing.T) {
	ts := newTokenSource("test-secret", "terminal-1", "biz-1")

	first, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	second, err := ts.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	if first != second {
		t.Error("a fresh token must be reused, not re-minted per request")
	}
}
