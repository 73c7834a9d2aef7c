package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/saaskit/internal/gate"
	"github.com/hitoshi/saaskit/internal/metrics"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/model"
)

// UserLookup はセッション・APIキー双方のユーザー取得に必要なインターフェース。
type UserLookup interface {
	middleware.UserFinder
	middleware.APIKeyFinder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	Memberships       middleware.MembershipLister
	Users             UserLookup
	CORSAllowedOrigin string
	HSTS              bool
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 組織
	OrganizationService  OrganizationServiceInterface
	OrganizationSwitcher OrganizationSwitcher

	// 課金
	Organizations     OrganizationFinder
	CheckoutInitiator CheckoutInitiator
	StripePriceID     string
	WebhookReconciler WebhookReconciler

	// ユーザー・管理
	UserService  UserServiceInterface
	AdminService AdminServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS
//	  セッションルート: Session → CSRF → RateLimit(General) [→ Capability/Admin]
//	  APIキールート:   APIKey → RateLimit(General) [→ APICapability]
//
// Webhookは署名で認証するため、セッションとCSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	orgHandler := NewOrganizationHandler(deps.OrganizationService, deps.OrganizationSwitcher)
	billingHandler := NewBillingHandler(deps.CheckoutInitiator, deps.Organizations, deps.Users, deps.StripePriceID)
	webhookHandler := NewWebhookHandler(deps.WebhookReconciler, deps.Metrics)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.AdminService)

	sessionMiddleware := middleware.NewSessionMiddleware(deps.SessionFinder, deps.Memberships)
	ownerOnly := gate.Role(model.RoleOwner)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
	r.Post("/payments/stripe/webhook", webhookHandler.HandleStripe)

	// 認証試行系はIP単位の厳しいレート制限
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/forgot-password", authHandler.ForgotPassword)
	})
	r.Post("/auth/logout", authHandler.Logout)
	r.Get("/auth/confirm/{token}", authHandler.ConfirmEmail)
	r.Post("/auth/reset-password/{token}", authHandler.ResetPassword)

	// Googleログイン
	r.Get("/auth/google/login", authHandler.GoogleLogin)
	r.Get("/auth/google/callback", authHandler.GoogleCallback)

	// --- セッション認証ルート ---
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get(middleware.DashboardPath, authHandler.Dashboard)
		r.Get("/auth/me", authHandler.Me)
		r.Post("/auth/resend", authHandler.ResendConfirmation)

		// 課金（ownerのみ。拒否時はダッシュボードへリダイレクト）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCapabilityRedirectMiddleware(ownerOnly))
			r.Post("/payments/create-checkout-session", billingHandler.CreateCheckoutSession)
			r.Post("/payments/customer-portal", billingHandler.CustomerPortal)
		})

		// 組織
		r.Route("/api/organizations", func(r chi.Router) {
			r.Get("/", orgHandler.List)
			r.Post("/{id}/select", orgHandler.Select)
			r.With(middleware.NewCapabilityMiddleware(ownerOnly)).Patch("/current", orgHandler.RenameCurrent)
		})

		r.With(middleware.NewCapabilityMiddleware(gate.Subscribed())).
			Get("/api/features/premium", PremiumFeature)

		// ユーザー管理
		r.Delete("/api/users/me", userHandler.Withdraw)

		// 管理画面
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminMiddleware(deps.Users))
			r.Get("/organizations", adminHandler.ListOrganizations)
			r.Get("/users", adminHandler.ListUsers)
		})
	})

	// --- APIキー認証ルート ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.Users, deps.Memberships))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/status", APIStatus)
		r.With(middleware.NewAPICapabilityMiddleware(gate.Subscribed())).Post("/generate", APIGenerate)
	})

	return r
}
