// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/authservice/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey  = contextKey("principal")
	requestLogContextKey = contextKey("request_log")
)

// Principal は署名検証済みトークンから得た認証主体。
// セッションバージョンの照合はSessionVersionGuardが行う。
type Principal struct {
	UserID   string
	Email    string
	DeviceID string
	Claims   *token.Claims
}

// PrincipalFromContext はリクエストコンテキストから認証主体を取得する。
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストに認証主体を注入する。
// ロギングミドルウェアの内側で呼ばれた場合は、アクセスログにもuser_idを反映する。
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.userID = p.UserID
	}
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// Authenticateミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.UserID, nil
}
