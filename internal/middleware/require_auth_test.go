package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAuthenticated_NoPrincipal_Returns401(t *testing.T) {
	next := &recordingHandler{}
	rec := httptest.NewRecorder()
	NewRequireAuthenticatedMiddleware()(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	assertUnauthorized(t, rec)
	if next.called {
		t.Error("next handler should not be called")
	}
	if got := rec.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("WWW-Authenticate header should be set")
	}
}

func TestRequireAuthenticated_WithPrincipal_Passes(t *testing.T) {
	next := &recordingHandler{}
	rec := httptest.NewRecorder()
	req := requestWithPrincipal(http.MethodGet, "/auth/me", scopedPrincipal(testUserID, "laptop-1", 1))
	NewRequireAuthenticatedMiddleware()(next).ServeHTTP(rec, req)

	if !next.called {
		t.Error("next handler should be called")
	}
}

func TestUserIDFromContext(t *testing.T) {
	req := requestWithPrincipal(http.MethodGet, "/", scopedPrincipal(testUserID, "laptop-1", 1))
	got, err := UserIDFromContext(req.Context())
	if err != nil || got != testUserID {
		t.Errorf("UserIDFromContext = (%q, %v), want (%q, nil)", got, err, testUserID)
	}

	if _, err := UserIDFromContext(t.Context()); err == nil {
		t.Error("expected error for context without principal")
	}
}
