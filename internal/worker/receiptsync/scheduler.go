package receiptsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/receiptman/internal/metrics"
	"github.com/hitoshi/receiptman/internal/repository"
)

// Scheduler はレシート同期のスケジューリングと並列制御を行う。
// 固定間隔のティッカーで接続中ユーザーを列挙し、
// semaphoreパターンで最大並列数を制御しながら同期を実行する。
type Scheduler struct {
	userRepo       repository.UserRepository
	syncer         *Syncer
	logger         *slog.Logger
	maxConcurrency int
	metrics        metrics.MetricsCollector
}

// WithMetrics はメトリクスコレクタを設定する。未設定の場合は記録しない。
func (s *Scheduler) WithMetrics(m metrics.MetricsCollector) *Scheduler {
	s.metrics = m
	return s
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	userRepo repository.UserRepository,
	syncer *Syncer,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		userRepo:       userRepo,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は固定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("レシート同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("レシート同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は接続中ユーザーを1回列挙し、並列で同期を実行する。
// 1ユーザーの失敗はそのユーザーの処理のみを中断し、サイクルは継続する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	phones, err := s.userRepo.ListConnectedPhones(ctx)
	if err != nil {
		return err
	}

	if len(phones) == 0 {
		s.logger.Info("同期対象のユーザーはいません")
		return nil
	}

	s.logger.Info("同期サイクルを開始します",
		slog.Int("user_count", len(phones)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, phone := range phones {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(p string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if _, err := s.syncer.SyncPhone(ctx, p); err != nil {
				s.logger.Error("ユーザーの同期に失敗しました",
					slog.String("phone", p),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(phone)
	}

	wg.Wait()

	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordSyncCycle(failed)
		s.metrics.RecordSyncLatency(duration)
	}
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("user_count", len(phones)),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
