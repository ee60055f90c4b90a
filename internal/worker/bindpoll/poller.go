// Package bindpoll は接続申請の承認待ちポーリング処理を提供する。
// 申請ごとに独立したポーリングタスクをワーカープールで実行する。
package bindpoll

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/metrics"
	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/notification"
	"github.com/hitoshi/receiptman/internal/repository"
	"github.com/hitoshi/receiptman/internal/session"
)

// StatusChecker は接続申請の状態照会に必要なクライアント機能。
type StatusChecker interface {
	GetBindStatus(ctx context.Context, requestIDs []string) (*fdo.GetBindStatusResponse, error)
}

// InitialSyncer は承認直後の初回レシート同期を実行する。
type InitialSyncer interface {
	SyncFromBeginning(ctx context.Context, phone string) (int, error)
}

// NotifyFunc は接続完了の通知を配信する。
type NotifyFunc func(ctx context.Context, phone string, kind notification.Kind, variables map[string]string)

// Poller は1件の接続申請の状態遷移を追跡する。
// 固定間隔で状態を照会し、終了状態または期限到達で停止する。
type Poller struct {
	checker     StatusChecker
	userRepo    repository.UserRepository
	bindingRepo repository.BindingRepository
	registry    session.Registry
	syncer      InitialSyncer
	notify      NotifyFunc
	interval    time.Duration
	deadline    time.Duration
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// WithMetrics はメトリクスコレクタを設定する。未設定の場合は記録しない。
func (p *Poller) WithMetrics(m metrics.MetricsCollector) *Poller {
	p.metrics = m
	return p
}

// recordOutcome はポーリングの結果を記録する。
func (p *Poller) recordOutcome(result string) {
	if p.metrics != nil {
		p.metrics.RecordPollOutcome(result)
	}
}

// NewPoller はPollerの新しいインスタンスを生成する。
// intervalが0以下の場合は10秒、deadlineが0以下の場合は6分を使用する。
func NewPoller(
	checker StatusChecker,
	userRepo repository.UserRepository,
	bindingRepo repository.BindingRepository,
	registry session.Registry,
	syncer InitialSyncer,
	notify NotifyFunc,
	interval time.Duration,
	deadline time.Duration,
	logger *slog.Logger,
) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if deadline <= 0 {
		deadline = 6 * time.Minute
	}
	return &Poller{
		checker:     checker,
		userRepo:    userRepo,
		bindingRepo: bindingRepo,
		registry:    registry,
		syncer:      syncer,
		notify:      notify,
		interval:    interval,
		deadline:    deadline,
		logger:      logger,
	}
}

// Poll は申請の状態を終了状態または期限到達まで照会し続ける。
// 承認時のみユーザーを更新して初回同期と完了通知を行う。
// その他の終了状態は記録とセッション通知のみでユーザーを変更しない。
// コンテキストのキャンセルを各待機で監視し、速やかに終了する。
func (p *Poller) Poll(ctx context.Context, requestID, phone string) {
	p.logger.Info("承認ポーリングを開始します",
		slog.String("request_id", requestID),
		slog.String("phone", phone),
	)

	deadline := time.NewTimer(p.deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("承認ポーリングがキャンセルされました",
				slog.String("request_id", requestID),
			)
			return
		case <-deadline.C:
			p.expire(ctx, requestID, phone)
			return
		case <-ticker.C:
			if done := p.checkOnce(ctx, requestID, phone); done {
				return
			}
		}
	}
}

// checkOnce は状態を1回照会する。終了状態に達した場合trueを返す。
// 一時的な照会失敗はポーリング継続として扱う。
func (p *Poller) checkOnce(ctx context.Context, requestID, phone string) bool {
	resp, err := p.checker.GetBindStatus(ctx, []string{requestID})
	if err != nil {
		if fdo.IsRetryable(err) {
			p.logger.Warn("状態照会が一時的に失敗しました。ポーリングを継続します",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
			return false
		}
		p.logger.Error("状態照会で回復不能なエラーが発生しました",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		p.registry.PushToRequest(requestID, session.Frame{
			Type:      session.FrameError,
			RequestID: requestID,
			Message:   err.Error(),
		})
		return true
	}

	var result string
	if len(resp.Statuses) > 0 {
		result = resp.Statuses[0].Result
	}

	switch result {
	case fdo.ResultApproved:
		p.recordOutcome(result)
		p.approve(ctx, requestID, phone)
		return true
	case fdo.ResultDeclined, fdo.ResultCancelledAsDuplicate, fdo.ResultExpired:
		p.recordOutcome(result)
		p.terminate(ctx, requestID, phone, result)
		return true
	default:
		// REQUEST_IN_PROGRESSまたは未知の中間状態は継続
		return false
	}
}

// approve は承認時の副作用を実行する。ユーザー更新、状態記録、
// セッション通知、先頭からの初回同期、完了通知の順に行う。
func (p *Poller) approve(ctx context.Context, requestID, phone string) {
	p.logger.Info("接続申請が承認されました",
		slog.String("request_id", requestID),
		slog.String("phone", phone),
	)

	if _, err := p.userRepo.FindOrCreateByPhone(ctx, phone, ""); err != nil {
		p.logger.Error("ユーザーの解決に失敗しました",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.userRepo.SetConnected(ctx, phone, true); err != nil {
		p.logger.Error("接続フラグの更新に失敗しました",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bindingRepo.UpdateState(ctx, phone, model.BindingApproved, true, true); err != nil {
		p.logger.Error("接続状態の記録に失敗しました",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
	}

	p.registry.PushToRequest(requestID, session.Frame{
		Type:      session.FrameBindStatus,
		RequestID: requestID,
		Phone:     phone,
		Data:      map[string]any{"result": fdo.ResultApproved},
	})

	// 承認直後にテープの先頭から初回同期を行う
	if count, err := p.syncer.SyncFromBeginning(ctx, phone); err != nil {
		p.logger.Error("初回同期に失敗しました",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
	} else {
		p.logger.Info("初回同期が完了しました",
			slog.String("phone", phone),
			slog.Int("ingested", count),
		)
	}

	p.notify(ctx, phone, notification.KindBindingCompleted, nil)
}

// terminate は承認以外の終了状態を記録する。ユーザーは変更しない。
func (p *Poller) terminate(ctx context.Context, requestID, phone, result string) {
	p.logger.Warn("接続申請が承認以外の状態で終了しました",
		slog.String("request_id", requestID),
		slog.String("result", result),
	)

	if err := p.bindingRepo.UpdateState(ctx, phone, stateForResult(result), false, false); err != nil {
		p.logger.Error("接続状態の記録に失敗しました",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
	}

	p.registry.PushToRequest(requestID, session.Frame{
		Type:      session.FrameBindStatus,
		RequestID: requestID,
		Phone:     phone,
		Data:      map[string]any{"result": result},
	})
}

// expire は期限到達を記録する。エラーではなく諦め条件として扱い、
// 呼び出し元は後から新しい申請を送信できる。
func (p *Poller) expire(ctx context.Context, requestID, phone string) {
	p.recordOutcome("POLL_TIMEOUT")
	p.logger.Warn("承認ポーリングが期限に達しました",
		slog.String("request_id", requestID),
		slog.Duration("deadline", p.deadline),
	)

	if err := p.bindingRepo.UpdateState(ctx, phone, model.BindingExpired, false, false); err != nil {
		p.logger.Error("接続状態の記録に失敗しました",
			slog.String("phone", phone),
			slog.String("error", err.Error()),
		)
	}

	p.registry.PushToRequest(requestID, session.Frame{
		Type:      session.FrameBindStatus,
		RequestID: requestID,
		Phone:     phone,
		Data:      map[string]any{"result": fdo.ResultExpired},
	})
}

// stateForResult はプラットフォームの結果値をローカルの状態に写像する。
func stateForResult(result string) model.BindingState {
	switch result {
	case fdo.ResultApproved:
		return model.BindingApproved
	case fdo.ResultDeclined:
		return model.BindingDeclined
	case fdo.ResultCancelledAsDuplicate:
		return model.BindingCancelled
	case fdo.ResultExpired:
		return model.BindingExpired
	case fdo.ResultInProgress:
		return model.BindingInProgress
	default:
		return model.BindingPending
	}
}
