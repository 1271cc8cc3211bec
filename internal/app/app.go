package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authservice/internal/auth"
	"github.com/hitoshi/authservice/internal/config"
	"github.com/hitoshi/authservice/internal/database"
	"github.com/hitoshi/authservice/internal/handler"
	"github.com/hitoshi/authservice/internal/logger"
	"github.com/hitoshi/authservice/internal/metrics"
	"github.com/hitoshi/authservice/internal/middleware"
	"github.com/hitoshi/authservice/internal/security"
	"github.com/hitoshi/authservice/internal/token"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
		logger.SetLevel("info")
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRevoke:
		return runRevoke(ctx, cfg, args[1:], w)
	default:
		return runServe(ctx, cfg)
	}
}

// server はHTTPサーバーと、停止時に解放するリソースを保持する。
type server struct {
	handler     http.Handler
	stores      *stores
	rateLimiter *middleware.RateLimiter
}

func (s *server) Close() error {
	s.rateLimiter.Stop()
	return s.stores.Close()
}

// newServer はDB接続を開き、全依存関係をワイヤリングしたHTTPハンドラーを構築する。
// JWT_SECRETが未設定の場合はトラフィックを受け付ける前にエラーを返す。
func newServer(cfg *config.Config) (*server, error) {
	// 1. トークンの発行・検証（署名鍵の欠落は起動時エラー）
	tokenCfg := token.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	issuer, err := token.NewIssuer(tokenCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure token issuer: %w", err)
	}
	validator, err := token.NewValidator(tokenCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure token validator: %w", err)
	}

	// 2. DB接続とリポジトリ
	st, err := openStores(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established", slog.String("dialect", string(st.dialect)))

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービス
	authService := auth.NewService(
		st.users, st.sessions,
		security.NewPasswordHasher(cfg.BcryptCost),
		issuer, collector,
	)

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		TokenValidator:  validator,
		SessionVersions: st.sessions,
		GuardConfig: middleware.GuardConfig{
			RejectUnscoped: cfg.GuardRejectUnscoped,
			Metrics:        collector,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		AuthService:       authService,
		DB:                st.db,
		MetricsHandler:    metrics.Handler(registry),
	})

	return &server{handler: router, stores: st, rateLimiter: rateLimiter}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM受信）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	stopCleanup := startSessionCleanup(ctx, cfg.SessionRetention, srv.stores.sessions)
	defer stopCleanup()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
			slog.Duration("token_ttl", cfg.JWTTTL),
			slog.Bool("guard_reject_unscoped", cfg.GuardRejectUnscoped),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
