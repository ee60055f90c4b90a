package notification

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/metrics"
	"github.com/hitoshi/receiptman/internal/repository"
	"github.com/hitoshi/receiptman/internal/security"
	"github.com/hitoshi/receiptman/internal/session"
)

// Sender はプラットフォーム経由のプッシュ送信に必要なクライアント機能。
type Sender interface {
	SendNotification(ctx context.Context, req fdo.NotificationRequest) (*fdo.NotificationResponse, error)
}

// Dispatcher は通知の組み立てと二重チャネル配信を行う。
// パートナーのプッシュ基盤への送信と、ライブWebSocketセッションへの
// ミラー配信を担う。通知の失敗は呼び出し元の業務処理を失敗させない。
type Dispatcher struct {
	sender      Sender
	bindingRepo repository.BindingRepository
	registry    session.Registry
	sanitizer   security.ContentSanitizerService
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// WithMetrics はメトリクスコレクタを設定する。未設定の場合は記録しない。
func (d *Dispatcher) WithMetrics(m metrics.MetricsCollector) *Dispatcher {
	d.metrics = m
	return d
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	sender Sender,
	bindingRepo repository.BindingRepository,
	registry session.Registry,
	sanitizer security.ContentSanitizerService,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		bindingRepo: bindingRepo,
		registry:    registry,
		sanitizer:   sanitizer,
		logger:      logger,
	}
}

// Dispatch は種別と変数から通知を展開して配信する。
// 全ての失敗はログに記録して握りつぶす。ビジネスエラー
// （未接続ユーザー、重複通知など）はwarn、それ以外はerrorで記録する。
func (d *Dispatcher) Dispatch(ctx context.Context, phone string, kind Kind, variables map[string]string) {
	d.DispatchWithKey(ctx, phone, kind, variables, uuid.New().String())
}

// DispatchWithKey は冪等キーを指定して配信する。
// 同一キーの再送はプラットフォーム側で重複排除される。
func (d *Dispatcher) DispatchWithKey(ctx context.Context, phone string, kind Kind, variables map[string]string, idempotencyKey string) {
	if err := d.dispatch(ctx, phone, kind, variables, idempotencyKey); err != nil {
		if d.metrics != nil {
			d.metrics.RecordNotificationFailed(string(kind))
		}
		if fdo.IsBusiness(err) {
			d.logger.Warn("通知を送信できなかった",
				"phone", phone,
				"kind", string(kind),
				"error", err,
			)
			return
		}
		d.logger.Error("通知送信でエラー",
			"phone", phone,
			"kind", string(kind),
			"error", err,
		)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, phone string, kind Kind, variables map[string]string, idempotencyKey string) error {
	binding, err := d.bindingRepo.FindByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if binding == nil || !binding.IsBound() {
		return &fdo.Error{
			Kind:    fdo.KindBusiness,
			Code:    fdo.CodeUserNotBound,
			Message: "user is not bound: " + phone,
		}
	}

	// 変数はリモートペイロード由来の値を含み得るためサニタイズする
	cleaned := make(map[string]string, len(variables))
	for name, value := range variables {
		cleaned[name] = d.sanitizer.Sanitize(value)
	}

	filled, ok := FillAll(kind, cleaned)
	if !ok {
		return &fdo.Error{
			Kind:    fdo.KindFatal,
			Code:    fdo.CodeInternalError,
			Message: "unknown notification kind: " + string(kind),
		}
	}

	requestID := uuid.New().String()
	resp, err := d.sender.SendNotification(ctx, fdo.NotificationRequest{
		RequestID:      requestID,
		UserIdentifier: phone,
		Title:          filled.Title,
		Message:        filled.Message,
		ShortMessage:   filled.ShortMessage,
		Category:       filled.Category,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return err
	}

	if d.metrics != nil {
		d.metrics.RecordNotificationSent(string(kind))
	}
	d.logger.Info("通知を送信",
		"phone", phone,
		"kind", string(kind),
		"request_id", resp.RequestID,
	)

	d.mirror(phone, kind, filled, cleaned)
	return nil
}

// mirror はライブセッションにコンパクトなフレームを配信する。
// フレーム種別に対応しない通知はプッシュ送信のみとする。
func (d *Dispatcher) mirror(phone string, kind Kind, filled Filled, variables map[string]string) {
	var frameType session.FrameType
	switch kind {
	case KindNewReceiptsAvailable:
		frameType = session.FrameNewReceipts
	case KindUnbindingCompleted:
		frameType = session.FrameUnbind
	case KindBindingCompleted, KindBindingReminder:
		frameType = session.FrameBindStatus
	default:
		return
	}

	data := map[string]any{
		"title":        filled.Title,
		"shortMessage": filled.ShortMessage,
	}
	for name, value := range variables {
		data[name] = value
	}

	d.registry.PushToPhone(phone, session.Frame{
		Type:  frameType,
		Phone: phone,
		Data:  data,
	})
}
