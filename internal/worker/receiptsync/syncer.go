// Package receiptsync はレシートテープの定期同期処理を提供する。
// スケジューラと1ユーザー分の同期ロジックを含む。
package receiptsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/metrics"
	"github.com/hitoshi/receiptman/internal/notification"
	"github.com/hitoshi/receiptman/internal/receipt"
	"github.com/hitoshi/receiptman/internal/repository"
)

// PageFetcher はレシートテープの1ページ取得に必要なクライアント機能。
type PageFetcher interface {
	FetchReceiptsPage(ctx context.Context, marker string) (*fdo.ReceiptsPage, error)
}

// NotifyFunc は新着レシート件数と合計金額の通知を配信する。
type NotifyFunc func(ctx context.Context, phone string, kind notification.Kind, variables map[string]string)

// Syncer は1ユーザー分のレシート同期を実行する。
// 電話番号ごとのカーソルを1ページ進め、新規文書を取り込み、
// 新着があれば通知を配信する。
type Syncer struct {
	fetcher    PageFetcher
	ingest     *receipt.IngestService
	markerRepo repository.MarkerRepository
	notify     NotifyFunc
	markerTTL  time.Duration
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// WithMetrics はメトリクスコレクタを設定する。未設定の場合は記録しない。
func (s *Syncer) WithMetrics(m metrics.MetricsCollector) *Syncer {
	s.metrics = m
	return s
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(
	fetcher PageFetcher,
	ingest *receipt.IngestService,
	markerRepo repository.MarkerRepository,
	notify NotifyFunc,
	markerTTL time.Duration,
	logger *slog.Logger,
) *Syncer {
	return &Syncer{
		fetcher:    fetcher,
		ingest:     ingest,
		markerRepo: markerRepo,
		notify:     notify,
		markerTTL:  markerTTL,
		logger:     logger,
	}
}

// SyncPhone は指定ユーザーのカーソルを1ページ進めて取り込みを行い、
// 新規保存件数を返す。カーソルが未保存または期限切れの場合は
// テープの末尾から再開する。
func (s *Syncer) SyncPhone(ctx context.Context, phone string) (int, error) {
	marker, err := s.markerRepo.Get(ctx, phone, s.markerTTL)
	if err != nil {
		return 0, fmt.Errorf("カーソルの取得に失敗: %w", err)
	}
	return s.syncPage(ctx, phone, marker)
}

// SyncFromBeginning は保存済みカーソルを無視してテープの先頭から
// 取り込みを行う。接続承認直後の初回同期に使用する。
func (s *Syncer) SyncFromBeginning(ctx context.Context, phone string) (int, error) {
	return s.syncPage(ctx, phone, fdo.MarkerFromBeginning)
}

func (s *Syncer) syncPage(ctx context.Context, phone, marker string) (int, error) {
	page, err := s.fetcher.FetchReceiptsPage(ctx, marker)
	if err != nil {
		if s.metrics != nil {
			var platformErr *fdo.Error
			if errors.As(err, &platformErr) {
				s.metrics.RecordPlatformError(platformErr.Kind.String())
			}
		}
		return 0, fmt.Errorf("レシートページの取得に失敗: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordPageFetched("receipts")
	}

	result, err := s.ingest.SyncForPhone(ctx, phone, page.Receipts)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && result.SavedCount > 0 {
		s.metrics.RecordReceiptsIngested(result.SavedCount)
	}

	// 空ページでもリモートがカーソルを返した場合は前進させる
	if page.NextMarker != "" {
		if err := s.markerRepo.Save(ctx, phone, page.NextMarker); err != nil {
			// 保存失敗は再実行時に重複排除で吸収されるため同期自体は成功扱い
			s.logger.Error("カーソルの保存に失敗",
				"phone", phone,
				"error", err,
			)
		}
	}

	if result.SavedCount > 0 {
		s.notify(ctx, phone, notification.KindNewReceiptsAvailable, map[string]string{
			"count":  fmt.Sprintf("%d", result.SavedCount),
			"amount": result.TotalSum.StringFixed(2),
		})
	}

	return result.SavedCount, nil
}
