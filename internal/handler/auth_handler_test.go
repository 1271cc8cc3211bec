package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/authservice/internal/auth"
	"github.com/hitoshi/authservice/internal/middleware"
	"github.com/hitoshi/authservice/internal/model"
	"github.com/hitoshi/authservice/internal/token"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn     func(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	loginFn        func(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	logoutFn       func(ctx context.Context, userID, deviceID string) (int, error)
	logoutAllFn    func(ctx context.Context, userID string) (int64, error)
	currentUserFn  func(ctx context.Context, userID string) (*model.User, error)
	listSessionsFn func(ctx context.Context, userID string) ([]*model.DeviceSession, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, errors.New("register not mocked")
}

func (m *mockAuthService) Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, in)
	}
	return nil, errors.New("login not mocked")
}

func (m *mockAuthService) Logout(ctx context.Context, userID, deviceID string) (int, error) {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, userID, deviceID)
	}
	return 0, nil
}

func (m *mockAuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if m.logoutAllFn != nil {
		return m.logoutAllFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, errors.New("current user not mocked")
}

func (m *mockAuthService) ListSessions(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, userID)
	}
	return nil, nil
}

// --- ヘルパー ---

const testUserID = "8f14e45f-ceea-467f-a0e6-1f5b4d3c2a10"

func testUser() *model.User {
	return &model.User{
		ID:          testUserID,
		Email:       "alice@example.com",
		DisplayName: "Alice",
	}
}

func withPrincipal(req *http.Request, userID, deviceID string) *http.Request {
	claims := &token.Claims{DeviceID: deviceID, SessionVersion: token.NewVersion(1)}
	claims.Subject = userID
	p := &middleware.Principal{UserID: userID, DeviceID: deviceID, Claims: claims}
	return req.WithContext(middleware.ContextWithPrincipal(req.Context(), p))
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v (raw %q)", err, w.Body.String())
	}
	return body
}

// --- Register ---

func TestAuthHandler_Register_Returns201(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(_ context.Context, in auth.RegisterInput) (*model.User, error) {
			if in.Email != "alice@example.com" || in.Password != "password123" || in.DisplayName != "Alice" {
				t.Errorf("RegisterInput = %+v", in)
			}
			return testUser(), nil
		},
	}
	h := NewAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Register(w, jsonRequest(http.MethodPost, "/auth/register",
		`{"email":"alice@example.com","password":"password123","display_name":"Alice"}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	body := decodeBody(t, w)
	if body["user_id"] != testUserID || body["email"] != "alice@example.com" || body["display_name"] != "Alice" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["token"]; ok {
		t.Error("register must not issue a token")
	}
}

func TestAuthHandler_Register_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"email taken", model.NewEmailTakenError(), http.StatusConflict, model.ErrCodeEmailTaken},
		{"validation", model.NewValidationError("password is too short"), http.StatusBadRequest, model.ErrCodeValidation},
		{"wrapped api error", fmt.Errorf("register: %w", model.NewEmailTakenError()), http.StatusConflict, model.ErrCodeEmailTaken},
		{"internal", errors.New("disk full"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				registerFn: func(context.Context, auth.RegisterInput) (*model.User, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			NewAuthHandler(svc).Register(w, jsonRequest(http.MethodPost, "/auth/register",
				`{"email":"alice@example.com","password":"password123"}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeBody(t, w)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %q", body["code"], tt.wantCode)
			}
			if strings.Contains(w.Body.String(), "disk full") {
				t.Error("internal error detail must not leak")
			}
		})
	}
}

func TestAuthHandler_Register_InvalidJSON_Returns400(t *testing.T) {
	called := false
	svc := &mockAuthService{
		registerFn: func(context.Context, auth.RegisterInput) (*model.User, error) {
			called = true
			return testUser(), nil
		},
	}

	for _, body := range []string{"", "{", `{"email":1}`} {
		w := httptest.NewRecorder()
		NewAuthHandler(svc).Register(w, jsonRequest(http.MethodPost, "/auth/register", body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
	if called {
		t.Error("service should not be called for malformed bodies")
	}
}

func TestAuthHandler_Register_BodyTooLarge_Returns413(t *testing.T) {
	big := `{"email":"` + strings.Repeat("a", maxRequestBodyBytes) + `"}`
	w := httptest.NewRecorder()
	NewAuthHandler(&mockAuthService{}).Register(w, jsonRequest(http.MethodPost, "/auth/register", big))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

// --- Login ---

func TestAuthHandler_Login_ReturnsToken(t *testing.T) {
	expires := time.Date(2026, 5, 1, 12, 10, 0, 0, time.UTC)
	svc := &mockAuthService{
		loginFn: func(_ context.Context, in auth.LoginInput) (*auth.LoginResult, error) {
			if in.DeviceID != "laptop-1" {
				t.Errorf("DeviceID = %q, want %q", in.DeviceID, "laptop-1")
			}
			return &auth.LoginResult{
				Token:     "signed.jwt.token",
				ExpiresAt: expires,
				User:      testUser(),
				Session:   &model.DeviceSession{DeviceID: "laptop-1", SessionVersion: 1},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	NewAuthHandler(svc).Login(w, jsonRequest(http.MethodPost, "/auth/login",
		`{"email":"alice@example.com","password":"password123","device_id":"laptop-1"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["token"] != "signed.jwt.token" {
		t.Errorf("token = %v", body["token"])
	}
	if body["user_id"] != testUserID || body["email"] != "alice@example.com" || body["display_name"] != "Alice" {
		t.Errorf("body = %v", body)
	}
	if body["expires_at"] != "2026-05-01T12:10:00Z" {
		t.Errorf("expires_at = %v", body["expires_at"])
	}
}

func TestAuthHandler_Login_InvalidCredentials_Returns401(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(context.Context, auth.LoginInput) (*auth.LoginResult, error) {
			return nil, auth.ErrInvalidCredentials
		},
	}

	w := httptest.NewRecorder()
	NewAuthHandler(svc).Login(w, jsonRequest(http.MethodPost, "/auth/login",
		`{"email":"alice@example.com","password":"wrong","device_id":"laptop-1"}`))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	body := decodeBody(t, w)
	if body["error"] != "Invalid email or password" {
		t.Errorf("error = %v", body["error"])
	}
}

// --- Logout ---

func TestAuthHandler_Logout_DefaultsToTokenDevice(t *testing.T) {
	var gotUser, gotDevice string
	svc := &mockAuthService{
		logoutFn: func(_ context.Context, userID, deviceID string) (int, error) {
			gotUser, gotDevice = userID, deviceID
			return 2, nil
		},
	}

	for _, body := range []string{"", "{}", `{"device_id":""}`} {
		gotUser, gotDevice = "", ""
		w := httptest.NewRecorder()
		req := withPrincipal(jsonRequest(http.MethodPost, "/auth/logout", body), testUserID, "laptop-1")
		NewAuthHandler(svc).Logout(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("body %q: status = %d, want 200", body, w.Code)
		}
		if gotUser != testUserID || gotDevice != "laptop-1" {
			t.Errorf("body %q: Logout(%q, %q), want (%q, %q)", body, gotUser, gotDevice, testUserID, "laptop-1")
		}
	}
}

func TestAuthHandler_Logout_ExplicitDevice(t *testing.T) {
	var gotDevice string
	svc := &mockAuthService{
		logoutFn: func(_ context.Context, _, deviceID string) (int, error) {
			gotDevice = deviceID
			return 0, nil
		},
	}

	w := httptest.NewRecorder()
	req := withPrincipal(jsonRequest(http.MethodPost, "/auth/logout", `{"device_id":"phone-1"}`), testUserID, "laptop-1")
	NewAuthHandler(svc).Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotDevice != "phone-1" {
		t.Errorf("device = %q, want %q", gotDevice, "phone-1")
	}
	if body := decodeBody(t, w); body["message"] != "Logged out successfully" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestAuthHandler_ProtectedEndpoints_NoPrincipal_Return401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})
	endpoints := map[string]http.HandlerFunc{
		"logout":     h.Logout,
		"logout-all": h.LogoutAll,
		"me":         h.Me,
		"sessions":   h.Sessions,
	}

	for name, fn := range endpoints {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, jsonRequest(http.MethodPost, "/auth/"+name, "{}"))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if body := decodeBody(t, w); body["error"] != model.UnauthorizedMessage {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

func TestAuthHandler_LogoutAll(t *testing.T) {
	svc := &mockAuthService{
		logoutAllFn: func(_ context.Context, userID string) (int64, error) {
			if userID != testUserID {
				t.Errorf("userID = %q", userID)
			}
			return 3, nil
		},
	}

	w := httptest.NewRecorder()
	NewAuthHandler(svc).LogoutAll(w, withPrincipal(jsonRequest(http.MethodPost, "/auth/logout-all", ""), testUserID, "laptop-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody(t, w); body["sessions"] != float64(3) {
		t.Errorf("sessions = %v, want 3", body["sessions"])
	}
}

// --- Me / Sessions ---

func TestAuthHandler_Me(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(_ context.Context, userID string) (*model.User, error) {
			return testUser(), nil
		},
	}

	w := httptest.NewRecorder()
	NewAuthHandler(svc).Me(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/me", nil), testUserID, "laptop-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["user_id"] != testUserID || body["email"] != "alice@example.com" || body["display_name"] != "Alice" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthHandler_Me_UserNotFound_Returns404(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(context.Context, string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}

	w := httptest.NewRecorder()
	NewAuthHandler(svc).Me(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/me", nil), testUserID, "laptop-1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAuthHandler_Sessions_MarksCurrentDevice(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockAuthService{
		listSessionsFn: func(context.Context, string) ([]*model.DeviceSession, error) {
			return []*model.DeviceSession{
				{DeviceID: "laptop-1", SessionVersion: 2, LastLoginAt: now, CreatedAt: now},
				{DeviceID: "phone-1", SessionVersion: 1, LastLoginAt: now, CreatedAt: now},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	NewAuthHandler(svc).Sessions(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/sessions", nil), testUserID, "phone-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Current || !got[1].Current {
		t.Errorf("current flags = %v/%v, want false/true", got[0].Current, got[1].Current)
	}
	if got[0].SessionVersion != 2 {
		t.Errorf("session_version = %d, want 2", got[0].SessionVersion)
	}
}

func TestAuthHandler_Sessions_EmptyListIsArray(t *testing.T) {
	w := httptest.NewRecorder()
	NewAuthHandler(&mockAuthService{}).Sessions(w, withPrincipal(httptest.NewRequest(http.MethodGet, "/auth/sessions", nil), testUserID, "laptop-1"))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

// --- エラーマッピング ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeValidation, http.StatusBadRequest},
		{model.ErrCodeEmailTaken, http.StatusConflict},
		{model.ErrCodeInvalidCredentials, http.StatusUnauthorized},
		{model.ErrCodeUnauthorized, http.StatusUnauthorized},
		{model.ErrCodeUserNotFound, http.StatusNotFound},
		{model.ErrCodeSessionNotFound, http.StatusNotFound},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{model.ErrCodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
			t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
