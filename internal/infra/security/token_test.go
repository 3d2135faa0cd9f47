package security

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator("secret", "marketchat-test", time.Hour)

	token, err := auth.GenerateToken("user-1", "Alex")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := auth.ResolveToken(token)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Name != "Alex" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.Issuer != "marketchat-test" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestResolveTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthenticator("secret", "marketchat-test", time.Hour)
	for _, bad := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := auth.ResolveToken(bad); err == nil {
			t.Fatalf("ResolveToken(%q) accepted garbage", bad)
		}
	}
}

func TestResolveTokenRejectsWrongSecret(t *testing.T) {
	issuerA := NewAuthenticator("secret-a", "marketchat-test", time.Hour)
	issuerB := NewAuthenticator("secret-b", "marketchat-test", time.Hour)

	token, err := issuerA.GenerateToken("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuerB.ResolveToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}

func TestResolveTokenRejectsExpired(t *testing.T) {
	auth := NewAuthenticator("secret", "marketchat-test", time.Hour)
	auth.validity = -time.Minute

	token, err := auth.GenerateToken("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.ResolveToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestResolveTokenRejectsEmptySubject(t *testing.T) {
	auth := NewAuthenticator("secret", "marketchat-test", time.Hour)
	token, err := auth.GenerateToken("", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.ResolveToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
