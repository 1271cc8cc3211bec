// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/authservice/internal/auth"
	"github.com/hitoshi/authservice/internal/middleware"
	"github.com/hitoshi/authservice/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	Logout(ctx context.Context, userID, deviceID string) (int, error)
	LogoutAll(ctx context.Context, userID string) (int64, error)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	ListSessions(ctx context.Context, userID string) ([]*model.DeviceSession, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type logoutRequest struct {
	DeviceID string `json:"device_id"`
}

type userResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type registerResponse struct {
	userResponse
	Message string `json:"message"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type logoutAllResponse struct {
	Message  string `json:"message"`
	Sessions int64  `json:"sessions"`
}

type sessionResponse struct {
	DeviceID       string    `json:"device_id"`
	SessionVersion int       `json:"session_version"`
	LastLoginAt    time.Time `json:"last_login_at"`
	CreatedAt      time.Time `json:"created_at"`
	Current        bool      `json:"current"`
}

// Register はユーザーを登録する。トークンは発行しない。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		userResponse: toUserResponse(user),
		Message:      "User registered successfully. Please login.",
	})
}

// Login は認証情報を検証し、デバイスに紐づくアクセストークンを返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:       result.Token,
		UserID:      result.User.ID,
		Email:       result.User.Email,
		DisplayName: result.User.DisplayName,
		ExpiresAt:   result.ExpiresAt.UTC(),
	})
}

// Logout はデバイスのセッションを無効化する。
// device_idを省略した場合はトークンのデバイスが対象となる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	var req logoutRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = p.DeviceID
	}

	if _, err := h.service.Logout(r.Context(), p.UserID, deviceID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// LogoutAll はユーザーの全デバイスのセッションを無効化する。
// POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	n, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutAllResponse{
		Message:  "Logged out from all devices",
		Sessions: n,
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	user, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Sessions はユーザーのデバイスセッション一覧を返す。
// GET /auth/sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResponse{
			DeviceID:       s.DeviceID,
			SessionVersion: s.SessionVersion,
			LastLoginAt:    s.LastLoginAt.UTC(),
			CreatedAt:      s.CreatedAt.UTC(),
			Current:        s.DeviceID == p.DeviceID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}
}
