package middleware

import "net/http"

// Middleware はhttp.Handlerをラップするミドルウェア。
type Middleware = func(next http.Handler) http.Handler

// Chain はミドルウェアを記述順に実行する1つのミドルウェアへ合成する。
// Chain(a, b)(h) は a → b → h の順にリクエストを処理する。
func Chain(mws ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
