package middleware

import "net/http"

// NewRequireAuthenticatedMiddleware は認証主体のないリクエストを401で拒否するミドルウェアを返す。
// 保護対象のルートグループに適用する。
func NewRequireAuthenticatedMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
