package token

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims はアクセストークンのクレーム。Validatorが1回だけデコードし、以降は型付きで参照する。
// subはユーザーID(UUID)、device_idとsvはデバイスセッションの識別子とセッションバージョン。
type Claims struct {
	Email          string  `json:"email,omitempty"`
	DeviceID       string  `json:"device_id,omitempty"`
	SessionVersion Version `json:"sv"`
	jwt.RegisteredClaims
}

// Version はsvクレームの値。
// 整数と整数を表す文字列の両方を受け付け、欠落や不正な値の場合はValid=falseとなる。
// デコード自体は失敗させず、扱いはセッションバージョンガードに委ねる。
type Version struct {
	Value int
	Valid bool
}

// NewVersion は有効なVersionを生成する。
func NewVersion(v int) Version {
	return Version{Value: v, Valid: v >= 1}
}

// MarshalJSON はsvをJSON整数として出力する。無効な場合はnullを出力する。
func (v Version) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(v.Value)), nil
}

// UnmarshalJSON はsvを寛容にデコードする。エラーは返さない。
func (v *Version) UnmarshalJSON(data []byte) error {
	*v = Version{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return nil
	}
	*v = Version{Value: n, Valid: true}
	return nil
}

// Scope はトークンが指すデバイスセッションと、発行時点のセッションバージョン。
type Scope struct {
	UserID         string
	DeviceID       string
	SessionVersion int
}

// SessionScope はクレームからデバイスセッションのスコープを取り出す。
// subがUUIDでない、device_idが空、svが欠落または不正のいずれかの場合はfalseを返す。
func (c *Claims) SessionScope() (Scope, bool) {
	if c == nil {
		return Scope{}, false
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Scope{}, false
	}
	if c.DeviceID == "" || !c.SessionVersion.Valid {
		return Scope{}, false
	}
	return Scope{
		UserID:         userID.String(),
		DeviceID:       c.DeviceID,
		SessionVersion: c.SessionVersion.Value,
	}, true
}
