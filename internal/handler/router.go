package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authservice/internal/metrics"
	"github.com/hitoshi/authservice/internal/middleware"
	"github.com/hitoshi/authservice/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenValidator    middleware.TokenValidator
	SessionVersions   middleware.SessionVersionLookup
	GuardConfig       middleware.GuardConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface

	// 運用エンドポイント
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Authenticate → SessionVersionGuard → ルーティング
//
// 保護ルートはさらに RequireAuthenticated → RateLimit(General) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guardCfg := deps.GuardConfig
	if guardCfg.Metrics == nil {
		guardCfg.Metrics = deps.Metrics
	}

	r := chi.NewRouter()

	r.Use(
		middleware.NewRecoveryMiddleware(),
		middleware.NewLoggingMiddleware(logger, deps.Metrics),
		middleware.NewSecurityHeadersMiddleware(),
		middleware.NewCORSMiddleware(deps.CORSAllowedOrigin),
		middleware.Chain(
			middleware.NewAuthenticateMiddleware(deps.TokenValidator),
			middleware.NewSessionVersionGuard(deps.SessionVersions, guardCfg),
		),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:    "NOT_FOUND",
			Message: "Resource not found",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "Method not allowed",
		})
	})

	authHandler := NewAuthHandler(deps.AuthService)

	// --- 認証不要のルート ---
	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: RequireAuthenticated → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireAuthenticatedMiddleware())
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/me", authHandler.Me)
			r.Get("/sessions", authHandler.Sessions)
		})
	})

	return r
}
