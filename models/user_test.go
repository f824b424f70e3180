package models

import (
	"testing"

	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

func TestVerifyLoginPassword_AcceptsMatchingPassword(t *testing.T) {
	hashed, err := utils.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if err := verifyLoginPassword(string(hashed), "s3cret-pass"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
}

func TestVerifyLoginPassword_RejectsWrongPassword(t *testing.T) {
	hashed, err := utils.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if err := verifyLoginPassword(string(hashed), "other-pass"); err == nil {
		t.Fatal("expected rejection for wrong password")
	}
}

func TestVerifyLoginPassword_RejectsMalformedStoredHash(t *testing.T) {
	// Compare errors other than a plain mismatch must also fail the login.
	if err := verifyLoginPassword("not-a-bcrypt-hash", "s3cret-pass"); err == nil {
		t.Fatal("expected rejection for malformed stored hash")
	}
}
