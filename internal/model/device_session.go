package model

import "time"

// InitialSessionVersion は新規デバイスセッションのセッションバージョン。
const InitialSessionVersion = 1

// DeviceSession は(ユーザー, デバイス)の組ごとのログイン状態を表す。
// SessionVersionは単調増加し、トークンに埋め込まれた値と一致する間だけそのトークンが有効となる。
// ログアウトや管理者による強制ログアウトでインクリメントされる。
type DeviceSession struct {
	ID             string
	UserID         string
	DeviceID       string
	SessionVersion int
	LastLoginAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
