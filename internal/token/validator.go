package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// Validator はアクセストークンの署名・issuer・audience・有効期限を検証する。
// セッションバージョンの照合は行わない。
type Validator struct {
	key    []byte
	parser *jwt.Parser
}

// NewValidator はValidatorを生成する。Secretが空の場合はErrMissingSecretを返す。
func NewValidator(cfg Config) (*Validator, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	// 有効期限は now < exp を要求し、時計ずれの猶予は設けない。
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	)

	return &Validator{key: []byte(cfg.Secret), parser: parser}, nil
}

// Validate はトークンを検証し、型付きのクレームを返す。
// 失敗した場合はErrInvalidTokenをラップしたエラーを返し、理由のみをWARNでログ出力する。
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "token validation failed",
			slog.String("reason", FailureReason(err)),
		)
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return claims, nil
}

// FailureReason は検証エラーをログ・メトリクス用の短い理由文字列に変換する。
func FailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "bad_issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "bad_audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "not_valid_yet"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "invalid"
	}
}
