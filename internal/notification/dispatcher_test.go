package notification

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/security"
	"github.com/hitoshi/receiptman/internal/session"
)

// --- テスト用モック ---

// mockSender はテスト用のSenderモック。
type mockSender struct {
	sendCalls int
	lastReq   fdo.NotificationRequest
	err       error
}

func (m *mockSender) SendNotification(_ context.Context, req fdo.NotificationRequest) (*fdo.NotificationResponse, error) {
	m.sendCalls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &fdo.NotificationResponse{RequestID: req.RequestID}, nil
}

// mockBindingRepo はテスト用のBindingRepositoryモック。
type mockBindingRepo struct {
	byPhone map[string]*model.UserBinding
}

func newMockBindingRepo() *mockBindingRepo {
	return &mockBindingRepo{byPhone: make(map[string]*model.UserBinding)}
}

func (m *mockBindingRepo) FindByPhone(_ context.Context, phone string) (*model.UserBinding, error) {
	return m.byPhone[phone], nil
}

func (m *mockBindingRepo) Upsert(_ context.Context, binding *model.UserBinding) error {
	m.byPhone[binding.PhoneNumber] = binding
	return nil
}

func (m *mockBindingRepo) UpdateState(_ context.Context, phone string, state model.BindingState, receiptsEnabled, notificationsEnabled bool) error {
	if b, ok := m.byPhone[phone]; ok {
		b.State = state
		b.ReceiptsEnabled = receiptsEnabled
		b.NotificationsEnabled = notificationsEnabled
	}
	return nil
}

// mockRegistry はテスト用のsession.Registryモック。
type mockRegistry struct {
	pushedFrames []session.Frame
}

func (m *mockRegistry) Subscribe(requestID, phone string, conn *session.Conn) {}
func (m *mockRegistry) Unsubscribe(conn *session.Conn)                       {}
func (m *mockRegistry) PushToRequest(requestID string, frame session.Frame) {
	m.pushedFrames = append(m.pushedFrames, frame)
}
func (m *mockRegistry) PushToPhone(phone string, frame session.Frame) {
	m.pushedFrames = append(m.pushedFrames, frame)
}

func newTestDispatcher(sender *mockSender, bindingRepo *mockBindingRepo, registry *mockRegistry) *Dispatcher {
	return NewDispatcher(
		sender,
		bindingRepo,
		registry,
		security.NewContentSanitizer(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func boundBinding(phone string) *model.UserBinding {
	return &model.UserBinding{
		PhoneNumber:          phone,
		RequestID:            "req-1",
		State:                model.BindingApproved,
		ReceiptsEnabled:      true,
		NotificationsEnabled: true,
	}
}

// --- テスト ---

// TestDispatch_Success は接続済みユーザーへの通知が送信とミラー配信されることを検証する。
func TestDispatch_Success(t *testing.T) {
	sender := &mockSender{}
	bindingRepo := newMockBindingRepo()
	registry := &mockRegistry{}
	bindingRepo.byPhone["79991234567"] = boundBinding("79991234567")

	d := newTestDispatcher(sender, bindingRepo, registry)
	d.Dispatch(context.Background(), "79991234567", KindNewReceiptsAvailable, map[string]string{
		"count":  "3",
		"amount": "1499.90",
	})

	if sender.sendCalls != 1 {
		t.Fatalf("sendCalls = %d, want 1", sender.sendCalls)
	}
	if !strings.Contains(sender.lastReq.Message, "3") || !strings.Contains(sender.lastReq.Message, "1499.90") {
		t.Errorf("本文に変数が展開されていない: %s", sender.lastReq.Message)
	}
	if sender.lastReq.Category != CategoryGeneral {
		t.Errorf("Category = %s, want %s", sender.lastReq.Category, CategoryGeneral)
	}
	if sender.lastReq.IdempotencyKey == "" {
		t.Error("IdempotencyKeyが設定されていない")
	}

	if len(registry.pushedFrames) != 1 {
		t.Fatalf("ミラーフレーム数 = %d, want 1", len(registry.pushedFrames))
	}
	if registry.pushedFrames[0].Type != session.FrameNewReceipts {
		t.Errorf("フレーム種別 = %s, want %s", registry.pushedFrames[0].Type, session.FrameNewReceipts)
	}
}

// TestDispatch_UnboundUser は未接続ユーザーには送信しないことを検証する。
func TestDispatch_UnboundUser(t *testing.T) {
	sender := &mockSender{}
	registry := &mockRegistry{}

	d := newTestDispatcher(sender, newMockBindingRepo(), registry)
	d.Dispatch(context.Background(), "79991234567", KindNewReceiptsAvailable, nil)

	if sender.sendCalls != 0 {
		t.Errorf("未接続ユーザーへの送信が行われた: sendCalls = %d", sender.sendCalls)
	}
	if len(registry.pushedFrames) != 0 {
		t.Errorf("未接続ユーザーへのミラー配信が行われた: %d件", len(registry.pushedFrames))
	}
}

// TestDispatch_SendFailureSwallowed は送信失敗が呼び出し元に伝播しないことを検証する。
func TestDispatch_SendFailureSwallowed(t *testing.T) {
	sender := &mockSender{err: &fdo.Error{
		Kind:    fdo.KindRetryable,
		Code:    fdo.CodeTooManyRequests,
		Message: "slow down",
	}}
	bindingRepo := newMockBindingRepo()
	registry := &mockRegistry{}
	bindingRepo.byPhone["79991234567"] = boundBinding("79991234567")

	d := newTestDispatcher(sender, bindingRepo, registry)
	// パニックせず正常に戻ること
	d.Dispatch(context.Background(), "79991234567", KindBindingCompleted, nil)

	if len(registry.pushedFrames) != 0 {
		t.Errorf("送信失敗時にミラー配信が行われた: %d件", len(registry.pushedFrames))
	}
}

// TestDispatch_SanitizesVariables はリモート由来の変数からマークアップが
// 除去されることを検証する。
func TestDispatch_SanitizesVariables(t *testing.T) {
	sender := &mockSender{}
	bindingRepo := newMockBindingRepo()
	bindingRepo.byPhone["79991234567"] = boundBinding("79991234567")

	d := newTestDispatcher(sender, bindingRepo, &mockRegistry{})
	d.Dispatch(context.Background(), "79991234567", KindServiceUpdate, map[string]string{
		"message": `<script>alert(1)</script>Обновление`,
	})

	if sender.sendCalls != 1 {
		t.Fatalf("sendCalls = %d, want 1", sender.sendCalls)
	}
	if strings.Contains(sender.lastReq.Message, "<script>") {
		t.Errorf("本文にマークアップが残っている: %s", sender.lastReq.Message)
	}
	if !strings.Contains(sender.lastReq.Message, "Обновление") {
		t.Errorf("サニタイズでテキストが失われた: %s", sender.lastReq.Message)
	}
}

// TestDispatchWithKey_UsesSuppliedKey は指定した冪等キーが送信されることを検証する。
func TestDispatchWithKey_UsesSuppliedKey(t *testing.T) {
	sender := &mockSender{}
	bindingRepo := newMockBindingRepo()
	bindingRepo.byPhone["79991234567"] = boundBinding("79991234567")

	d := newTestDispatcher(sender, bindingRepo, &mockRegistry{})
	d.DispatchWithKey(context.Background(), "79991234567", KindBindingCompleted, nil, "bind-req-1-completed")

	if sender.lastReq.IdempotencyKey != "bind-req-1-completed" {
		t.Errorf("IdempotencyKey = %s, want bind-req-1-completed", sender.lastReq.IdempotencyKey)
	}
}
