package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("ping without deadline")
	}
	return m.err
}

func TestHealthHandler_OK(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(&mockPinger{})(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestHealthHandler_DatabaseDown_Returns503(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(&mockPinger{err: errors.New("connection refused")})(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "unhealthy" {
		t.Errorf("status field = %v", body["status"])
	}
}
