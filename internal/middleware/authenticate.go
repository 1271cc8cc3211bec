package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/authservice/internal/token"
)

// TokenValidator はアクセストークンの検証インターフェース。
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*token.Claims, error)
}

// NewAuthenticateMiddleware はAuthorizationヘッダーのBearerトークンを検証し、
// 成功した場合のみ認証主体をコンテキストに注入するミドルウェアを返す。
// このミドルウェア自体はリクエストを拒否しない。拒否はSessionVersionGuardと
// RequireAuthenticatedが行う。
func NewAuthenticateMiddleware(validator TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.Validate(r.Context(), raw)
			if err != nil {
				// 理由はValidatorがログ出力済み
				next.ServeHTTP(w, r)
				return
			}

			// subはユーザーIDそのもの。UUIDでなければ認証主体として扱わない
			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				slog.WarnContext(r.Context(), "token subject is not a user id")
				next.ServeHTTP(w, r)
				return
			}

			p := &Principal{
				UserID:   userID.String(),
				Email:    claims.Email,
				DeviceID: claims.DeviceID,
				Claims:   claims,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。スキーム名は大文字小文字を区別しない。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
