package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate_DevModeFailsOpen(t *testing.T) {
	s := NewService(Config{}, nil)
	if s.Enabled() {
		t.Fatal("expected service to be disabled with no keys configured")
	}
	role, err := s.Authenticate("", false)
	if err != nil || role != RoleAdmin {
		t.Fatalf("dev mode should fail open as admin, got role=%q err=%v", role, err)
	}
}

func TestAuthenticate_UserAndAdminKeys(t *testing.T) {
	s := NewService(Config{APIKey: "user-key", AdminKey: "admin-key"}, nil)

	if role, err := s.Authenticate("user-key", false); err != nil || role != RoleUser {
		t.Fatalf("user key: got role=%q err=%v", role, err)
	}
	if role, err := s.Authenticate("admin-key", false); err != nil || role != RoleAdmin {
		t.Fatalf("admin key as user endpoint: got role=%q err=%v", role, err)
	}
	if _, err := s.Authenticate("user-key", true); err == nil {
		t.Fatal("user key should not satisfy requireAdmin")
	}
	if _, err := s.Authenticate("bogus", false); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 0)
	token, err := svc.Generate("operator-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	subject, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if subject != "operator-1" {
		t.Fatalf("got subject %q", subject)
	}
	if _, err := svc.Validate("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMiddleware_RejectsMissingKey(t *testing.T) {
	s := NewService(Config{APIKey: "k"}, nil)
	handler := Middleware(s, false, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/engine/agents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/engine/agents", nil)
	req.Header.Set("X-API-Key", "k")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
