package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueAndVerify_RoundTrip(t *testing.T) {
	issuer := NewIssuer(testSigningKey, time.Hour)
	userID := uuid.New()

	tokenStr, err := issuer.IssueToken(userID, RolePatient, "pat@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verifier := NewLocalVerifier(testSigningKey)
	claims, err := verifier.Verify(tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if claims.Subject != userID.String() {
		t.Errorf("expected subject %s, got %s", userID, claims.Subject)
	}
	if claims.Role != RolePatient {
		t.Errorf("expected role PATIENT, got %s", claims.Role)
	}
	if claims.Issuer != LocalIssuer {
		t.Errorf("expected issuer %q, got %q", LocalIssuer, claims.Issuer)
	}
	if claims.Provider != "local" {
		t.Errorf("expected provider local, got %s", claims.Provider)
	}
}

func TestVerify_RejectsForeignIssuer(t *testing.T) {
	claims := validTestClaims(RolePatient)
	claims.Issuer = "https://rogue.example.com"
	tokenStr := createTestToken(t, claims, testSigningKey)

	verifier := NewLocalVerifier(testSigningKey)
	if _, err := verifier.Verify(tokenStr); err == nil {
		t.Fatal("expected error for unknown issuer")
	}
}

func TestVerify_RejectsHMACWithoutSecret(t *testing.T) {
	claims := validTestClaims(RolePatient)
	tokenStr := createTestToken(t, claims, testSigningKey)

	verifier := &Verifier{} // no secret, no JWKS
	if _, err := verifier.Verify(tokenStr); err == nil {
		t.Fatal("expected error when HS256 tokens are not accepted")
	}
}

func TestVerify_RejectsGarbage(t *testing.T) {
	verifier := NewLocalVerifier(testSigningKey)
	for _, tok := range []string{"", "garbage", "a.b.c", strings.Repeat("x", 512)} {
		if _, err := verifier.Verify(tok); err == nil {
			t.Errorf("expected error for token %q", tok)
		}
	}
}

func TestIssueToken_Expiry(t *testing.T) {
	issuer := NewIssuer(testSigningKey, -time.Minute) // already expired
	tokenStr, err := issuer.IssueToken(uuid.New(), RoleProvider, "doc@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verifier := NewLocalVerifier(testSigningKey)
	if _, err := verifier.Verify(tokenStr); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func TestVerify_AudienceCheck(t *testing.T) {
	// External-issuer claims carrying the wrong audience must be rejected even
	// when the signature is fine.
	v := &Verifier{secret: testSigningKey, issuer: "https://idp.example.com", audience: "radshare-api"}

	claims := validTestClaims(RolePatient)
	claims.Issuer = "https://idp.example.com"
	claims.Audience = jwt.ClaimStrings{"someone-else"}
	tokenStr := createTestToken(t, claims, testSigningKey)

	if _, err := v.Verify(tokenStr); err == nil {
		t.Fatal("expected error for wrong audience")
	}

	claims.Audience = jwt.ClaimStrings{"radshare-api"}
	tokenStr = createTestToken(t, claims, testSigningKey)
	if _, err := v.Verify(tokenStr); err != nil {
		t.Fatalf("unexpected error for correct audience: %v", err)
	}
}
