package auth

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyTrainerToken(t *testing.T) {
	token, err := SignTrainerToken("tr-1", "coach@example.com", "owner", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := VerifyTrainerToken(token, "secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TrainerID != "tr-1" {
		t.Fatalf("unexpected trainer id: %s", claims.TrainerID)
	}
	if claims.Role != "owner" {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
}

func TestVerifyTrainerToken_WrongSecret(t *testing.T) {
	token, err := SignTrainerToken("tr-1", "coach@example.com", "owner", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyTrainerToken(token, "other-secret"); err == nil {
		t.Fatal("expected verification to fail with wrong secret")
	}
}

func TestVerifyTrainerToken_Expired(t *testing.T) {
	token, err := SignTrainerToken("tr-1", "coach@example.com", "owner", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyTrainerToken(token, "secret"); err == nil {
		t.Fatal("expected verification to fail for expired token")
	}
}

func TestTrainerFromRequest(t *testing.T) {
	token, err := SignTrainerToken("tr-9", "coach@example.com", "owner", "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/v1/students", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := TrainerFromRequest(r, "secret")
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if claims.TrainerID != "tr-9" {
		t.Fatalf("unexpected trainer id: %s", claims.TrainerID)
	}

	r = httptest.NewRequest("GET", "/api/v1/students", nil)
	if _, err := TrainerFromRequest(r, "secret"); err == nil {
		t.Fatal("expected error without Authorization header")
	}
}
