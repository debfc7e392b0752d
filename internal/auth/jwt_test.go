package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateThenVerifyRoundTrips(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	tok, err := manager.Generate(42, "google", "sub-123")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	claims, err := manager.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("claims.UserID = %d, want 42", claims.UserID)
	}
	if claims.OAuthProvider != "google" || claims.OAuthSub != "sub-123" {
		t.Fatalf("claims = %+v, want provider=google sub=sub-123", claims)
	}
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issuer := NewJWTManager("secret-a", time.Hour)
	verifier := NewJWTManager("secret-b", time.Hour)

	tok, err := issuer.Generate(1, "p", "s")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if _, err := verifier.Verify(tok); err == nil {
		t.Fatal("Verify() with mismatched secret should fail")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Hour)
	tok, err := manager.Generate(1, "p", "s")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if _, err := manager.Verify(tok); err == nil {
		t.Fatal("Verify() should reject a token whose ExpiresAt is in the past")
	}
}

func TestExtractTokenFromHeaderRequiresBearerPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	if _, err := ExtractTokenFromHeader(req); err == nil {
		t.Fatal("ExtractTokenFromHeader should reject a non-Bearer scheme")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Bearer sometoken")
	tok, err := ExtractTokenFromHeader(req2)
	if err != nil || tok != "sometoken" {
		t.Fatalf("ExtractTokenFromHeader() = (%q, %v), want (\"sometoken\", nil)", tok, err)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	called := false
	handler := manager.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatal("downstream handler should not run without a valid token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewarePassesClaimsThrough(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)
	tok, err := manager.Generate(7, "p", "s")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	var gotUserID int64
	handler := manager.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in request context")
		}
		gotUserID = claims.UserID
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotUserID != 7 {
		t.Fatalf("gotUserID = %d, want 7", gotUserID)
	}
}
