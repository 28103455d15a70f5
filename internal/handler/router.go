package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/accountd/internal/metrics"
	"github.com/hitoshi/accountd/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.TokenAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス（nilの場合は/metricsを公開しない）
	StatusRecorder  middleware.StatusRecorder
	MetricsGatherer prometheus.Gatherer

	// サービス
	RegistrationService RegistrationServiceInterface
	AuthService         AuthServiceInterface
	AccountService      AccountServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// 登録・ログインとOTPにはそれぞれ独立したレート制限を適用する。
// /api/auth/profile, /api/auth/me, /api/auth/stats はBearerトークンが必要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.RegistrationService, deps.AuthService)
	accountHandler := NewAccountHandler(deps.AuthService, deps.AccountService)

	// --- 認証不要のルート ---
	r.Get("/health", Health)
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
		r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)

		r.Route("/otp", func(r chi.Router) {
			r.Use(deps.RateLimiter.OTPMiddleware())
			r.Post("/verify", authHandler.VerifyOTP)
			r.Post("/resend", authHandler.ResendOTP)
		})

		r.Get("/test", accountHandler.Test)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Authenticator))

			r.Get("/profile", accountHandler.Profile)
			r.Delete("/me", accountHandler.Deactivate)
			r.Get("/stats", accountHandler.Stats)
		})
	})

	return r
}
