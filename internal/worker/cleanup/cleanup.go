// Package cleanup は期限切れ同期カーソルの自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を超過したカーソルは次回同期時に
// 末尾からの再開として扱われるため、行自体は日次バッチで削除する。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/receiptman/internal/repository"
)

// CleanupJob は期限切れカーソルの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	markerRepo repository.MarkerRepository
	logger     *slog.Logger
	TTL        time.Duration // カーソルの保持期間（デフォルト: 7日）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(markerRepo repository.MarkerRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		markerRepo: markerRepo,
		logger:     logger,
		TTL:        7 * 24 * time.Hour,
	}
}

// Run は保持期間を超過したカーソル行を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.markerRepo.DeleteExpired(ctx, j.TTL)
	if err != nil {
		j.logger.Error("カーソルクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	duration := time.Since(start)
	j.logger.Info("カーソルクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("ttl", j.TTL),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は指定間隔でクリーンアップを繰り返し実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("カーソルクリーンアップを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("カーソルクリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
