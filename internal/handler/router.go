package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/receiptman/internal/middleware"
	"github.com/hitoshi/receiptman/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 接続申請
	Platform      BindPlatform
	BindingRepo   repository.BindingRepository
	UserRepo      repository.UserRepository
	PollSubmitter PollSubmitter
	PollCtx       context.Context

	// レシート
	ReceiptLister ReceiptLister
	PhoneSyncer   PhoneSyncer

	// WebSocketセッション
	SessionHandler http.Handler

	// メトリクス
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → RateLimit(General)
//
// /health、/metrics、/ws はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	bindHandler := NewBindHandler(deps.Platform, deps.BindingRepo, deps.UserRepo, deps.PollSubmitter, deps.PollCtx)
	receiptHandler := NewReceiptHandler(deps.ReceiptLister, deps.PhoneSyncer)

	// --- レート制限の外のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	if deps.SessionHandler != nil {
		r.Method(http.MethodGet, "/ws", deps.SessionHandler)
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 接続申請管理
		r.Route("/api/bind", func(r chi.Router) {
			// POST /api/bind - 接続申請の作成（申請専用レート制限を追加）
			r.With(deps.RateLimiter.BindMiddleware()).Post("/", bindHandler.CreateBind)

			r.Get("/status", bindHandler.GetBindStatus)
		})

		// 接続解除
		r.Post("/api/unbind", bindHandler.Unbind)

		// レシート
		r.Post("/api/sync", receiptHandler.SyncNow)
		r.Get("/api/receipts", receiptHandler.ListReceipts)
	})

	return r
}
