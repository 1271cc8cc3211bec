// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authservice/internal/model"
)

// ErrNotFound は対象のデバイスセッションが存在しないことを示す。
var ErrNotFound = errors.New("device session not found")

// ErrEmailAlreadyExists はメールアドレスが既に登録済みであることを示す。
var ErrEmailAlreadyExists = errors.New("email already exists")

// UserRepository はユーザー認証情報の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複する場合はErrEmailAlreadyExistsを返す。
	Create(ctx context.Context, user *model.User) error
}

// DeviceSessionRepository はデバイスごとのセッションバージョンの永続化インターフェース。
// 同一キーに対する書き込みは、直後の読み取りに必ず反映されなければならない。
type DeviceSessionRepository interface {
	// GetOrCreate は(userID, deviceID)のセッションを取得し、存在しなければバージョン1で作成する。
	// createdは今回の呼び出しで作成された場合にtrueとなる。既存行は変更しない。
	GetOrCreate(ctx context.Context, userID, deviceID string) (session *model.DeviceSession, created bool, err error)

	// Touch はlast_login_atとupdated_atを現在時刻に更新する。セッションバージョンは変更しない。
	Touch(ctx context.Context, session *model.DeviceSession) error

	// BumpVersion はセッションバージョンを単一のUPDATE文でインクリメントし、新しい値を返す。
	// 同時に呼ばれても更新が失われることはない。行が存在しない場合はErrNotFoundを返す。
	BumpVersion(ctx context.Context, userID, deviceID string) (int, error)

	// GetVersion は現在のセッションバージョンを返す。行が存在しない場合はErrNotFoundを返す。
	GetVersion(ctx context.Context, userID, deviceID string) (int, error)

	// ListByUserID はユーザーの全デバイスセッションを最終ログイン降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.DeviceSession, error)

	// BumpAllVersions はユーザーの全デバイスのセッションバージョンを一括でインクリメントし、
	// 更新した行数を返す。
	BumpAllVersions(ctx context.Context, userID string) (int64, error)

	// DeleteIdle は最終ログインと最終更新がともにcutoffより前のセッションを削除し、削除した行数を返す。
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}
