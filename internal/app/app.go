package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/receiptman/internal/config"
	"github.com/hitoshi/receiptman/internal/database"
	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/handler"
	"github.com/hitoshi/receiptman/internal/logger"
	"github.com/hitoshi/receiptman/internal/metrics"
	"github.com/hitoshi/receiptman/internal/middleware"
	"github.com/hitoshi/receiptman/internal/notification"
	"github.com/hitoshi/receiptman/internal/receipt"
	"github.com/hitoshi/receiptman/internal/repository"
	"github.com/hitoshi/receiptman/internal/security"
	"github.com/hitoshi/receiptman/internal/session"
	"github.com/hitoshi/receiptman/internal/worker/bindpoll"
	"github.com/hitoshi/receiptman/internal/worker/cleanup"
	"github.com/hitoshi/receiptman/internal/worker/receiptsync"
	"github.com/hitoshi/receiptman/internal/worker/unbindsync"
)

// liveSessionsInterval はWebSocketセッション数ゲージの更新間隔。
const liveSessionsInterval = 15 * time.Second

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

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("platform_base_url", cfg.PlatformBaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRegister:
		return runRegister(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// 接続申請の承認待ちポーリングとWebSocketセッションもこのモードが担う。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	receiptRepo := repository.NewPostgresReceiptRepo(db)
	bindingRepo := repository.NewPostgresBindingRepo(db)
	markerRepo := repository.NewPostgresMarkerRepo(db)

	// 3. プラットフォームクライアントとメトリクスの初期化
	fdoClient := fdo.NewClient(
		&http.Client{Timeout: cfg.PlatformTimeout},
		slog.Default(), cfg.PlatformBaseURL, cfg.PartnerID,
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. セッションと通知の初期化
	registry := session.NewInMemoryRegistry(slog.Default())
	sessionHandler := session.NewHandler(registry, slog.Default())

	sanitizer := security.NewContentSanitizer()
	dispatcher := notification.NewDispatcher(
		fdoClient, bindingRepo, registry, sanitizer, slog.Default(),
	).WithMetrics(collector)

	// 5. 同期サービスと承認待ちポーリングの初期化
	ingest := receipt.NewIngestService(receiptRepo, userRepo, slog.Default())
	syncer := receiptsync.NewSyncer(
		fdoClient, ingest, markerRepo, dispatcher.Dispatch,
		cfg.MarkerTTL, slog.Default(),
	).WithMetrics(collector)
	queryService := receipt.NewQueryService(receiptRepo, userRepo)

	poller := bindpoll.NewPoller(
		fdoClient, userRepo, bindingRepo, registry, syncer, dispatcher.Dispatch,
		cfg.BindPollInterval, cfg.BindPollDeadline, slog.Default(),
	).WithMetrics(collector)
	pool := bindpoll.NewPool(poller, cfg.BindPollWorkers, slog.Default())

	// ポーリングタスクの生存コンテキスト。シャットダウンで打ち切る。
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,

		Platform:      fdoClient,
		BindingRepo:   bindingRepo,
		UserRepo:      userRepo,
		PollSubmitter: pool,
		PollCtx:       rootCtx,

		ReceiptLister: queryService,
		PhoneSyncer:   syncer,

		SessionHandler: sessionHandler,
		MetricsHandler: metrics.Handler(reg),
	})

	// WebSocketセッション数を定期的にゲージへ反映する
	go func() {
		ticker := time.NewTicker(liveSessionsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				collector.SetLiveSessions(registry.LiveSessions())
			}
		}
	}()

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 進行中のポーリングタスクを打ち切って完了を待つ
	cancel()
	pool.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は同期ワーカーモードで起動する。
// レシート同期スケジューラ、接続解除イベントの排出処理、
// 期限切れカーソルのクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	receiptRepo := repository.NewPostgresReceiptRepo(db)
	bindingRepo := repository.NewPostgresBindingRepo(db)
	markerRepo := repository.NewPostgresMarkerRepo(db)

	// 3. プラットフォームクライアントの初期化
	fdoClient := fdo.NewClient(
		&http.Client{Timeout: cfg.PlatformTimeout},
		slog.Default(), cfg.PlatformBaseURL, cfg.PartnerID,
	)

	// 4. 通知の初期化
	// ワーカープロセスにWebSocketセッションは接続されないため、
	// レジストリへのフレーム送出は実質no-opとなる。
	registry := session.NewInMemoryRegistry(slog.Default())
	sanitizer := security.NewContentSanitizer()
	dispatcher := notification.NewDispatcher(
		fdoClient, bindingRepo, registry, sanitizer, slog.Default(),
	)

	// 5. 同期サービスの初期化
	ingest := receipt.NewIngestService(receiptRepo, userRepo, slog.Default())
	syncer := receiptsync.NewSyncer(
		fdoClient, ingest, markerRepo, dispatcher.Dispatch,
		cfg.MarkerTTL, slog.Default(),
	)
	scheduler := receiptsync.NewScheduler(
		userRepo, syncer, slog.Default(), cfg.SyncMaxConcurrent,
	)

	drainer := unbindsync.NewDrainer(
		fdoClient, userRepo, bindingRepo, markerRepo, registry,
		dispatcher.Dispatch, cfg.MarkerTTL, slog.Default(),
	)

	cleanupJob := cleanup.NewCleanupJob(markerRepo, slog.Default())
	cleanupJob.TTL = cfg.MarkerTTL

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

	slog.Info("worker starting",
		slog.Duration("receipt_sync_interval", cfg.ReceiptSyncInterval),
		slog.Duration("unbind_sync_interval", cfg.UnbindSyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// 接続解除イベントの排出処理をバックグラウンドで起動
	go drainer.Start(ctx, cfg.UnbindSyncInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
		cleanupJob.Start(ctx, 24*time.Hour)
	}()

	// レシート同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ReceiptSyncInterval)

	slog.Info("worker stopped gracefully")
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

// runRegister はパートナー自身をプラットフォームに登録する。
// 初回セットアップ時に1回だけ実行する運用コマンド。
// 登録済みの場合はプラットフォーム側がビジネスエラーを返す。
func runRegister(cfg *config.Config) error {
	if cfg.PartnerINN == "" || cfg.PartnerName == "" {
		return fmt.Errorf("PARTNER_INN and PARTNER_NAME are required for registration")
	}

	fdoClient := fdo.NewClient(
		&http.Client{Timeout: cfg.PlatformTimeout},
		slog.Default(), cfg.PlatformBaseURL, cfg.PartnerID,
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PlatformTimeout)
	defer cancel()

	resp, err := fdoClient.RegisterPartner(ctx, fdo.RegisterPartnerRequest{
		Name:  cfg.PartnerName,
		Type:  "PARTNER",
		INN:   cfg.PartnerINN,
		Phone: cfg.PartnerPhone,
	})
	if err != nil {
		return fmt.Errorf("partner registration failed: %w", err)
	}

	slog.Info("partner registration completed",
		slog.String("partner_id", resp.ID),
	)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
