// Package auth は登録・ログイン・ログアウトなどセッションバージョン方式の認証フローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/authservice/internal/metrics"
	"github.com/hitoshi/authservice/internal/model"
	"github.com/hitoshi/authservice/internal/repository"
	"github.com/hitoshi/authservice/internal/token"
)

// 入力値の制約
const (
	MinPasswordLength = 8
	MaxPasswordBytes  = 72
	MaxDisplayNameLen = 100
	MaxDeviceIDLen    = 255
	maxEmailLen       = 320
)

// ErrInvalidCredentials は未登録メールアドレスまたはパスワード誤りを示す。
// 両者を区別せず同じエラーを返す。
var ErrInvalidCredentials = model.NewInvalidCredentialsError()

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
	VerifyDummy(password string) bool
}

// TokenIssuer はアクセストークン発行のインターフェース。
type TokenIssuer interface {
	Issue(userID, email, deviceID string, sessionVersion int) (*token.Issued, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions repository.DeviceSessionRepository
	hasher   PasswordHasher
	issuer   TokenIssuer
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	users repository.UserRepository,
	sessions repository.DeviceSessionRepository,
	hasher PasswordHasher,
	issuer TokenIssuer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		issuer:   issuer,
		metrics:  collector,
		now:      time.Now,
	}
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// LoginInput はログインの入力。
type LoginInput struct {
	Email    string
	Password string
	DeviceID string
}

// LoginResult はログイン結果。トークンはデバイスセッションの現在のバージョンを保持する。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
	Session   *model.DeviceSession
}

// NormalizeEmail はメールアドレスを前後空白除去・小文字化して正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register はユーザーを登録する。トークンは発行しない（登録とログインは別操作）。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := NormalizeEmail(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(displayName) > MaxDisplayNameLen {
		return nil, model.NewValidationError(fmt.Sprintf("display_name must be at most %d characters", MaxDisplayNameLen))
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		// 同時登録で事前チェックをすり抜けた場合も一意制約で検出する
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
	)
	return user, nil
}

// Login は認証情報を検証し、デバイスセッションを作成または更新してトークンを発行する。
// 既存セッションのバージョンは変更しないため、同一デバイスの既存トークンは引き続き有効。
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := NormalizeEmail(in.Email)
	deviceID := strings.TrimSpace(in.DeviceID)

	if email == "" || in.Password == "" {
		return nil, model.NewValidationError("email and password are required")
	}
	if err := validateDeviceID(deviceID); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginError)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.hasher.VerifyDummy(in.Password)
		s.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		slog.InfoContext(ctx, "login failed", slog.String("reason", "unknown_email"))
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(user.PasswordHash, in.Password) {
		s.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		slog.InfoContext(ctx, "login failed",
			slog.String("reason", "wrong_password"),
			slog.String("user_id", user.ID),
		)
		return nil, ErrInvalidCredentials
	}

	session, created, err := s.sessions.GetOrCreate(ctx, user.ID, deviceID)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginError)
		return nil, fmt.Errorf("failed to get or create device session: %w", err)
	}
	if !created {
		if err := s.sessions.Touch(ctx, session); err != nil {
			s.metrics.RecordLogin(metrics.LoginError)
			return nil, fmt.Errorf("failed to update device session: %w", err)
		}
	}

	issued, err := s.issuer.Issue(user.ID, user.Email, deviceID, session.SessionVersion)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginError)
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	s.metrics.RecordLogin(metrics.LoginSuccess)
	s.metrics.RecordTokenIssued()

	slog.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("device_id", deviceID),
		slog.Int("session_version", session.SessionVersion),
		slog.Bool("new_device", created),
	)

	return &LoginResult{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      user,
		Session:   session,
	}, nil
}

// Logout はデバイスのセッションバージョンをインクリメントし、そのデバイス向けに発行済みの全トークンを無効化する。
// ログインしたことのないデバイスの場合は何もせず0を返す。
func (s *Service) Logout(ctx context.Context, userID, deviceID string) (int, error) {
	deviceID = strings.TrimSpace(deviceID)
	if err := validateDeviceID(deviceID); err != nil {
		return 0, err
	}

	version, err := s.sessions.BumpVersion(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		slog.InfoContext(ctx, "logout for unknown device ignored",
			slog.String("user_id", userID),
			slog.String("device_id", deviceID),
		)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump session version: %w", err)
	}
	s.metrics.RecordLogout(metrics.LogoutDevice, 1)

	slog.InfoContext(ctx, "user logged out",
		slog.String("user_id", userID),
		slog.String("device_id", deviceID),
		slog.Int("session_version", version),
	)
	return version, nil
}

// LogoutAll はユーザーの全デバイスのセッションバージョンをインクリメントする。
// 戻り値は無効化したデバイスセッション数。
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.BumpAllVersions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to bump all session versions: %w", err)
	}
	s.metrics.RecordLogout(metrics.LogoutAll, n)

	slog.InfoContext(ctx, "user logged out from all devices",
		slog.String("user_id", userID),
		slog.Int64("sessions", n),
	)
	return n, nil
}

// CurrentUser はユーザー情報を返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ListSessions はユーザーのデバイスセッション一覧を返す。
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	sessions, err := s.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device sessions: %w", err)
	}
	return sessions, nil
}

// RevokeInput は管理者による強制ログアウトの入力。DeviceIDが空の場合は全デバイスが対象。
type RevokeInput struct {
	Email    string
	DeviceID string
}

// Revoke はメールアドレスで指定したユーザーのセッションを強制的に無効化する。
// パスワードリセットや不正利用検知時の運用操作として使う。戻り値は無効化したデバイスセッション数。
func (s *Service) Revoke(ctx context.Context, in RevokeInput) (int64, error) {
	email := NormalizeEmail(in.Email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return 0, model.NewUserNotFoundError()
	}

	var n int64
	if in.DeviceID == "" {
		n, err = s.sessions.BumpAllVersions(ctx, user.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to bump all session versions: %w", err)
		}
	} else {
		_, err = s.sessions.BumpVersion(ctx, user.ID, in.DeviceID)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, model.NewSessionNotFoundError(in.DeviceID)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to bump session version: %w", err)
		}
		n = 1
	}
	s.metrics.RecordLogout(metrics.LogoutAdmin, n)

	slog.WarnContext(ctx, "sessions revoked by administrator",
		slog.String("user_id", user.ID),
		slog.String("device_id", in.DeviceID),
		slog.Int64("sessions", n),
	)
	return n, nil
}

func validateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	if len(email) > maxEmailLen {
		return model.NewValidationError("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email is invalid")
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}

func validateDeviceID(deviceID string) error {
	if deviceID == "" {
		return model.NewValidationError("device_id is required")
	}
	if len(deviceID) > MaxDeviceIDLen {
		return model.NewValidationError(fmt.Sprintf("device_id must be at most %d bytes", MaxDeviceIDLen))
	}
	return nil
}
