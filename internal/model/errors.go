package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはクライアントにそのまま返すため、内部情報を含めてはならない。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// UnauthorizedMessage は認証拒否時にクライアントへ返す唯一のメッセージ。
// トークン欠落・署名不正・期限切れ・セッションバージョン不一致のいずれでも同じ値を返し、
// 拒否理由はログでのみ区別する。
const UnauthorizedMessage = "Session expired or invalid"

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:    ErrCodeValidation,
		Message: reason,
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:    ErrCodeEmailTaken,
		Message: "User with this email already exists",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// 未登録メールアドレスとパスワード誤りを区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidCredentials,
		Message: "Invalid email or password",
	}
}

// NewUnauthorizedError は認証拒否エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: UnauthorizedMessage,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:    ErrCodeUserNotFound,
		Message: "User not found",
	}
}

// NewSessionNotFoundError はデバイスセッションが見つからない場合のエラーを生成する。
func NewSessionNotFoundError(deviceID string) *APIError {
	return &APIError{
		Code:    ErrCodeSessionNotFound,
		Message: fmt.Sprintf("No session for device: %s", deviceID),
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "Internal server error",
	}
}
