package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer はアクセストークンを発行する。
type Issuer struct {
	cfg Config
	key []byte
}

// Issued は発行したトークンとその有効期限。
type Issued struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// NewIssuer はIssuerを生成する。Secretが空の場合はErrMissingSecretを返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Issuer{cfg: cfg, key: []byte(cfg.Secret)}, nil
}

// Issue はデバイスセッションの現在のセッションバージョンを埋め込んだトークンを発行する。
// jtiは毎回新しいUUIDを割り当てる。
func (i *Issuer) Issue(userID, email, deviceID string, sessionVersion int) (*Issued, error) {
	if sessionVersion < 1 {
		return nil, fmt.Errorf("session version must be positive: %d", sessionVersion)
	}

	now := i.cfg.Now()
	expiresAt := jwt.NewNumericDate(expiryAfter(now, i.cfg.TTL))
	tokenID := uuid.New().String()

	claims := &Claims{
		Email:          email,
		DeviceID:       deviceID,
		SessionVersion: NewVersion(sessionVersion),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
			ID:        tokenID,
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Issued{
		Token:     signed,
		TokenID:   tokenID,
		ExpiresAt: expiresAt.Time,
	}, nil
}

// expiryAfter はnow+ttlを秒単位に切り上げる。
// expは秒精度でエンコードされるため、切り捨てると実際の有効期間がTTLより短くなる。
func expiryAfter(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if truncated := exp.Truncate(time.Second); !truncated.Equal(exp) {
		return truncated.Add(time.Second)
	}
	return exp
}

// TTL は発行するトークンの有効期間を返す。
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}
