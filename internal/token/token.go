// Package token はセッションバージョン付きアクセストークン(HS256 JWT)の発行と検証を提供する。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSecret は署名鍵が設定されていないことを示す。起動時の設定エラーとして扱う。
var ErrMissingSecret = errors.New("jwt secret is not configured")

// ErrInvalidToken はトークンの検証に失敗したことを示す。
// 署名不正・期限切れ・issuer/audience不一致などの理由は区別せずこのエラーで返す。
var ErrInvalidToken = errors.New("invalid token")

const (
	DefaultIssuer   = "auth-service"
	DefaultAudience = "auth-service"
	DefaultTTL      = 10 * time.Minute
)

var signingMethod = jwt.SigningMethodHS256

// Config はトークンの発行・検証設定。IssuerとValidatorで同じ値を使う必要がある。
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration

	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

func (c Config) withDefaults() (Config, error) {
	if c.Secret == "" {
		return c, ErrMissingSecret
	}
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c, nil
}
