package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/saaskit/internal/auth"
	"github.com/hitoshi/saaskit/internal/billing"
	"github.com/hitoshi/saaskit/internal/config"
	"github.com/hitoshi/saaskit/internal/database"
	"github.com/hitoshi/saaskit/internal/handler"
	"github.com/hitoshi/saaskit/internal/logger"
	"github.com/hitoshi/saaskit/internal/mail"
	"github.com/hitoshi/saaskit/internal/metrics"
	"github.com/hitoshi/saaskit/internal/middleware"
	"github.com/hitoshi/saaskit/internal/organization"
	"github.com/hitoshi/saaskit/internal/queue"
	"github.com/hitoshi/saaskit/internal/repository"
	"github.com/hitoshi/saaskit/internal/security"
	"github.com/hitoshi/saaskit/internal/token"
	"github.com/hitoshi/saaskit/internal/user"
	"github.com/hitoshi/saaskit/internal/worker/cleanup"
	"github.com/hitoshi/saaskit/internal/worker/mailer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
)

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

	// 3. 設定値でログレベルを反映する
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if !cmd.RequiresConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	positional, err := cmd.PositionalArgs(args)
	if err != nil {
		return err
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg, positional[0], positional[1])
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newAuthService は認証サービスを組み立てる。GOOGLE_*が揃っていない場合はソーシャルログインを無効にする。
func newAuthService(cfg *config.Config, db *sql.DB, jobs queue.Enqueuer) *auth.Service {
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}

	return auth.NewService(
		oauthProvider,
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresIdentityRepo(db),
		repository.NewPostgresSessionRepo(db),
		repository.NewPostgresMembershipRepo(db),
		token.NewSigner(cfg.SecretKey),
		jobs,
		auth.ServiceConfig{
			SessionMaxAge:      cfg.SessionMaxAge,
			BaseURL:            cfg.BaseURL,
			ConfirmTokenMaxAge: cfg.ConfirmTokenMaxAge,
			ResetTokenMaxAge:   cfg.ResetTokenMaxAge,
		},
	)
}

// runServe はAPIサーバーモードで起動する。
// DB接続とRedis接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 外部接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := queue.Connect(context.Background(), cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	jobs := queue.NewRedisQueue(redisClient)

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	orgRepo := repository.NewPostgresOrganizationRepo(db)
	membershipRepo := repository.NewPostgresMembershipRepo(db)

	// 4. ドメインサービス
	authService := newAuthService(cfg, db, jobs)
	orgService := organization.NewService(orgRepo, membershipRepo, security.NewNameSanitizer())
	userService := user.NewService(userRepo, sessionRepo)

	processor := billing.NewStripeProcessor(billing.StripeConfig{
		SecretKey: cfg.StripeSecretKey,
		Timeout:   cfg.StripeTimeout,
		APIURL:    cfg.StripeAPIURL,
	})
	initiator := billing.NewInitiator(processor, cfg.BaseURL, collector)
	reconciler := billing.NewReconciler(orgRepo, cfg.StripeWebhookSecret, cfg.StripeWebhookTolerance, collector)
	if !reconciler.Configured() {
		slog.Warn("STRIPE_WEBHOOK_SECRET is not set; webhook requests will be rejected")
	}

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
		Logger:         slog.Default(),
		Metrics:        collector,

		SessionFinder:     sessionRepo,
		Memberships:       membershipRepo,
		Users:             userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		OrganizationService:  orgService,
		OrganizationSwitcher: authService,

		Organizations:     orgRepo,
		CheckoutInitiator: initiator,
		StripePriceID:     cfg.StripePriceID,
		WebhookReconciler: reconciler,

		UserService:  userService,
		AdminService: handler.NewAdminServiceAdapter(orgService, userService),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// メール送信ジョブのコンシューマーと、cronによる期限切れセッションの削除を実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. 外部接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := queue.Connect(context.Background(), cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. ジョブの初期化
	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.MailServer,
		Port:     cfg.MailPort,
		Username: cfg.MailUsername,
		Password: cfg.MailPassword,
		From:     cfg.MailDefaultSender,
	})
	consumer := mailer.NewConsumer(queue.NewRedisQueue(redisClient), sender, collector, slog.Default())
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 3. クリーンアップのスケジュール登録
	scheduler, err := newCleanupScheduler(ctx, cfg.CleanupSchedule, cleanupJob)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	// 4. メトリクスの公開（任意）
	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics server error", slog.String("error", err.Error()))
			}
		}()
		defer metricsServer.Close()
	}

	slog.Info("worker starting",
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	// メールコンシューマーをメインgoroutineで実行（ブロッキング）
	consumer.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// cleanupRunner はcronから呼び出すジョブ。
type cleanupRunner interface {
	Run(ctx context.Context) error
}

// newCleanupScheduler はスケジュール式に従ってjobを実行するcronを生成する。
// 前回の実行が終わっていない場合はその回をスキップする。
func newCleanupScheduler(ctx context.Context, schedule string, job cleanupRunner) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		if err := job.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid CLEANUP_SCHEDULE %q: %w", schedule, err)
	}
	return c, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("from_version", uint64(result.From)),
		slog.Uint64("to_version", uint64(result.To)),
		slog.Bool("changed", result.Changed()),
	)
	return nil
}

// runCreateAdmin は管理者ユーザーと、そのユーザーがownerとなる組織を作成する。
func runCreateAdmin(cfg *config.Config, email, password string) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 管理者は作成時点で確認済みのため、確認メールは投入しない
	authService := newAuthService(cfg, db, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := authService.CreateAdmin(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("create-admin completed", slog.String("email", admin.Email))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
// パースできない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
