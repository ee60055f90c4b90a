// Package unbindsync はパートナー接続解除イベントの定期同期処理を提供する。
package unbindsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/notification"
	"github.com/hitoshi/receiptman/internal/repository"
	"github.com/hitoshi/receiptman/internal/session"
)

// StreamKey は接続解除イベントのグローバルカーソルのストリームキー。
const StreamKey = "unbound:global"

// UnboundFetcher は接続解除イベントテープの1ページ取得に必要なクライアント機能。
type UnboundFetcher interface {
	FetchUnboundPage(ctx context.Context, marker string) (*fdo.UnboundPage, error)
}

// NotifyFunc は接続解除完了の通知を配信する。
type NotifyFunc func(ctx context.Context, phone string, kind notification.Kind, variables map[string]string)

// Drainer は接続解除イベントストリームの排出処理を行う。
// hasMoreが続く限り同一実行内で次ページを続けて取得し、
// ページ境界ごとにカーソルを永続化する。
type Drainer struct {
	fetcher     UnboundFetcher
	userRepo    repository.UserRepository
	bindingRepo repository.BindingRepository
	markerRepo  repository.MarkerRepository
	registry    session.Registry
	notify      NotifyFunc
	markerTTL   time.Duration
	logger      *slog.Logger
}

// NewDrainer はDrainerの新しいインスタンスを生成する。
func NewDrainer(
	fetcher UnboundFetcher,
	userRepo repository.UserRepository,
	bindingRepo repository.BindingRepository,
	markerRepo repository.MarkerRepository,
	registry session.Registry,
	notify NotifyFunc,
	markerTTL time.Duration,
	logger *slog.Logger,
) *Drainer {
	return &Drainer{
		fetcher:     fetcher,
		userRepo:    userRepo,
		bindingRepo: bindingRepo,
		markerRepo:  markerRepo,
		registry:    registry,
		notify:      notify,
		markerTTL:   markerTTL,
		logger:      logger,
	}
}

// Start は固定間隔のティッカーで排出処理を起動する。
func (d *Drainer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("接続解除同期を開始しました",
		slog.Duration("interval", interval),
	)

	if err := d.RunOnce(ctx); err != nil {
		d.logger.Error("接続解除同期の実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("接続解除同期を停止しました")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				d.logger.Error("接続解除同期の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はグローバルカーソルからイベントストリームを排出する。
// 次のティックを待たず、hasMoreが偽になるまでページを続けて取得する。
// 中間ページごとにカーソルを保存するため、途中でクラッシュしても
// 排出済みページを再処理しない。
func (d *Drainer) RunOnce(ctx context.Context) error {
	marker, err := d.markerRepo.Get(ctx, StreamKey, d.markerTTL)
	if err != nil {
		return fmt.Errorf("カーソルの取得に失敗: %w", err)
	}

	pages := 0
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := d.fetcher.FetchUnboundPage(ctx, marker)
		if err != nil {
			return fmt.Errorf("接続解除ページの取得に失敗: %w", err)
		}
		pages++

		for _, event := range page.Entries {
			if err := d.processEvent(ctx, event); err != nil {
				d.logger.Error("接続解除イベントの処理に失敗しました",
					slog.String("user_identifier", event.UserIdentifier),
					slog.String("error", err.Error()),
				)
			} else {
				processed++
			}
		}

		if page.NextMarker != "" {
			if err := d.markerRepo.Save(ctx, StreamKey, page.NextMarker); err != nil {
				return fmt.Errorf("カーソルの保存に失敗: %w", err)
			}
			marker = page.NextMarker
		}

		if !page.HasMore || page.NextMarker == "" {
			break
		}
	}

	if processed > 0 {
		d.logger.Info("接続解除イベントを処理しました",
			slog.Int("processed", processed),
			slog.Int("pages", pages),
		)
	}
	return nil
}

// processEvent は1件の接続解除イベントを処理する。
// 接続中のユーザーのみフラグを落とし、セッションへUNBINDフレームを
// 配信し、解除完了通知を送信する。
func (d *Drainer) processEvent(ctx context.Context, event fdo.UnbindEvent) error {
	phone := event.UserIdentifier
	if phone == "" {
		return nil
	}

	user, err := d.userRepo.FindByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if user == nil || !user.PartnerConnected {
		return nil
	}

	if err := d.userRepo.SetConnected(ctx, phone, false); err != nil {
		return err
	}
	if err := d.bindingRepo.UpdateState(ctx, phone, model.BindingUnbound, false, false); err != nil {
		return err
	}

	d.logger.Info("ユーザーの接続を解除しました",
		slog.String("phone", phone),
		slog.String("request_id", event.RequestID),
	)

	d.registry.PushToPhone(phone, session.Frame{
		Type:  session.FrameUnbind,
		Phone: phone,
		Data:  map[string]any{"requestId": event.RequestID},
	})
	d.notify(ctx, phone, notification.KindUnbindingCompleted, nil)
	return nil
}
