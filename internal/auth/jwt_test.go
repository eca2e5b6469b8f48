package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssuerRoundTrip(t *testing.T) {
	iss, err := NewIssuer("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, expiresAt, err := iss.GenerateClientToken("browser-1")
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Until(expiresAt); d < 59*time.Minute || d > time.Hour {
		t.Errorf("unexpected expiry in %v", d)
	}

	claims, err := iss.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ClientID != "browser-1" || claims.Subject != "browser-1" || claims.Role != RoleClient {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssuerRejects(t *testing.T) {
	iss, _ := NewIssuer("secret", time.Hour)
	other, _ := NewIssuer("other", time.Hour)
	foreign, _, _ := other.GenerateClientToken("x")

	if _, err := iss.ValidateToken(foreign); err == nil {
		t.Error("token signed with another secret must fail")
	}
	if _, err := iss.ValidateToken("garbage"); err == nil {
		t.Error("garbage must fail")
	}

	expired, _ := NewIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.GenerateClientToken("x")
	if _, err := iss.ValidateToken(old); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expected expiry error, got %v", err)
	}

	claims := &JWTClaims{ClientID: "x", Role: "device"}
	wrongRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if _, err := iss.ValidateToken(wrongRole); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("", time.Hour); err == nil {
		t.Error("expected an error")
	}
}
