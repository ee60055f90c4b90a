package receiptsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/notification"
	"github.com/hitoshi/receiptman/internal/receipt"
	"github.com/hitoshi/receiptman/internal/repository"
)

// --- テスト用モック ---

// mockFetcher はテスト用のPageFetcherモック。
type mockFetcher struct {
	mu         sync.Mutex
	pages      map[string]*fdo.ReceiptsPage // marker -> page
	err        error
	errMarker  string // このマーカーでの取得だけ失敗させる
	fetchCalls int
	lastMarker string
}

func (m *mockFetcher) FetchReceiptsPage(_ context.Context, marker string) (*fdo.ReceiptsPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	m.lastMarker = marker
	if m.err != nil {
		return nil, m.err
	}
	if m.errMarker != "" && marker == m.errMarker {
		return nil, &fdo.Error{Kind: fdo.KindRetryable, Code: fdo.CodeServiceUnavailable, Message: "unavailable"}
	}
	if page, ok := m.pages[marker]; ok {
		return page, nil
	}
	return &fdo.ReceiptsPage{}, nil
}

// mockMarkerRepo はテスト用のMarkerRepositoryモック。
type mockMarkerRepo struct {
	mu       sync.Mutex
	markers  map[string]string
	saveErr  error
	getCalls int
}

func newMockMarkerRepo() *mockMarkerRepo {
	return &mockMarkerRepo{markers: make(map[string]string)}
}

func (m *mockMarkerRepo) Get(_ context.Context, streamKey string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	return m.markers[streamKey], nil
}

func (m *mockMarkerRepo) Save(_ context.Context, streamKey, marker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.markers[streamKey] = marker
	return nil
}

func (m *mockMarkerRepo) DeleteExpired(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

// mockReceiptRepo はテスト用のReceiptRepositoryモック。
type mockReceiptRepo struct {
	mu       sync.Mutex
	byTriple map[model.FiscalTriple]*model.Receipt
}

func newMockReceiptRepo() *mockReceiptRepo {
	return &mockReceiptRepo{byTriple: make(map[model.FiscalTriple]*model.Receipt)}
}

func (m *mockReceiptRepo) ExistsByFiscalTriple(_ context.Context, triple model.FiscalTriple) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byTriple[triple]
	return ok, nil
}

func (m *mockReceiptRepo) Create(_ context.Context, r *model.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	triple := model.FiscalTriple{
		FiscalSign:           r.FiscalSign,
		FiscalDocumentNumber: r.FiscalDocumentNumber,
		FiscalDriveNumber:    r.FiscalDriveNumber,
	}
	if _, ok := m.byTriple[triple]; ok {
		return repository.ErrDuplicateReceipt
	}
	m.byTriple[triple] = r
	return nil
}

func (m *mockReceiptRepo) ListByUserID(_ context.Context, _ string, _ int) ([]*model.Receipt, error) {
	return nil, nil
}

// mockUserRepo はテスト用のUserRepositoryモック。
type mockUserRepo struct {
	mu        sync.Mutex
	byPhone   map[string]*model.User
	connected []string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{byPhone: make(map[string]*model.User)}
}

func (m *mockUserRepo) FindByPhone(_ context.Context, phone string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPhone[phone], nil
}

func (m *mockUserRepo) FindOrCreateByPhone(_ context.Context, phone, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byPhone[phone]; ok {
		return u, nil
	}
	u := &model.User{ID: "user-" + phone, PhoneNumber: phone, Email: email, IsActive: true}
	m.byPhone[phone] = u
	return u, nil
}

func (m *mockUserRepo) ListConnectedPhones(_ context.Context) ([]string, error) {
	return m.connected, nil
}

func (m *mockUserRepo) SetConnected(_ context.Context, _ string, _ bool) error {
	return nil
}

// notifyRecorder は配信された通知を記録するNotifyFunc。
type notifyRecorder struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	phone     string
	kind      notification.Kind
	variables map[string]string
}

func (n *notifyRecorder) notify(_ context.Context, phone string, kind notification.Kind, variables map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{phone: phone, kind: kind, variables: variables})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEntry(phone string, fiscalSign int64, totalSumKopeks int64) fdo.ReceiptEntry {
	payload := fmt.Sprintf(
		`{"fiscalSign":%d,"fiscalDocumentNumber":7,"fiscalDriveNumber":"9999078900005678","dateTime":1735689600,"totalSum":%d}`,
		fiscalSign, totalSumKopeks,
	)
	return fdo.ReceiptEntry{
		UserIdentifier: phone,
		Phone:          phone,
		Payload:        []byte(payload),
		ReceiveDate:    "2025-01-01T12:00:00Z",
		SourceCode:     "KKT_RECEIPT",
	}
}

func newTestSyncer(fetcher *mockFetcher, markerRepo *mockMarkerRepo, recorder *notifyRecorder) (*Syncer, *mockReceiptRepo) {
	receiptRepo := newMockReceiptRepo()
	ingest := receipt.NewIngestService(receiptRepo, newMockUserRepo(), testLogger())
	syncer := NewSyncer(fetcher, ingest, markerRepo, recorder.notify, 7*24*time.Hour, testLogger())
	return syncer, receiptRepo
}

// --- テスト ---

// TestSyncPhone_IngestsAndAdvancesMarker は取り込み成功でカーソルが前進し
// 通知が配信されることを検証する。
func TestSyncPhone_IngestsAndAdvancesMarker(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fdo.ReceiptsPage{
		"": {
			Receipts:   []fdo.ReceiptEntry{testEntry("79991234567", 100, 15050)},
			NextMarker: "marker-1",
		},
	}}
	markerRepo := newMockMarkerRepo()
	recorder := &notifyRecorder{}
	syncer, _ := newTestSyncer(fetcher, markerRepo, recorder)

	count, err := syncer.SyncPhone(context.Background(), "79991234567")
	if err != nil {
		t.Fatalf("SyncPhone() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if markerRepo.markers["79991234567"] != "marker-1" {
		t.Errorf("marker = %s, want marker-1", markerRepo.markers["79991234567"])
	}

	if len(recorder.calls) != 1 {
		t.Fatalf("通知配信数 = %d, want 1", len(recorder.calls))
	}
	call := recorder.calls[0]
	if call.kind != notification.KindNewReceiptsAvailable {
		t.Errorf("kind = %s, want %s", call.kind, notification.KindNewReceiptsAvailable)
	}
	if call.variables["count"] != "1" {
		t.Errorf("count変数 = %s, want 1", call.variables["count"])
	}
	if call.variables["amount"] != "150.50" {
		t.Errorf("amount変数 = %s, want 150.50", call.variables["amount"])
	}
}

// TestSyncPhone_ResumesFromSavedMarker は保存済みカーソルから再開することを検証する。
func TestSyncPhone_ResumesFromSavedMarker(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fdo.ReceiptsPage{}}
	markerRepo := newMockMarkerRepo()
	markerRepo.markers["79991234567"] = "marker-42"
	syncer, _ := newTestSyncer(fetcher, markerRepo, &notifyRecorder{})

	if _, err := syncer.SyncPhone(context.Background(), "79991234567"); err != nil {
		t.Fatalf("SyncPhone() error = %v", err)
	}
	if fetcher.lastMarker != "marker-42" {
		t.Errorf("lastMarker = %s, want marker-42", fetcher.lastMarker)
	}
}

// TestSyncPhone_EmptyPageNoNotification は新着なしの場合に通知されないことを検証する。
func TestSyncPhone_EmptyPageNoNotification(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fdo.ReceiptsPage{
		"": {NextMarker: "marker-1"},
	}}
	markerRepo := newMockMarkerRepo()
	recorder := &notifyRecorder{}
	syncer, _ := newTestSyncer(fetcher, markerRepo, recorder)

	count, err := syncer.SyncPhone(context.Background(), "79991234567")
	if err != nil {
		t.Fatalf("SyncPhone() error = %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	// 空ページでもリモートが返したカーソルは前進する
	if markerRepo.markers["79991234567"] != "marker-1" {
		t.Errorf("marker = %s, want marker-1", markerRepo.markers["79991234567"])
	}
	if len(recorder.calls) != 0 {
		t.Errorf("新着なしで通知が配信された: %d件", len(recorder.calls))
	}
}

// TestSyncPhone_FetchErrorAborts は取得失敗がそのユーザーの同期のみを
// エラーにすることを検証する。
func TestSyncPhone_FetchErrorAborts(t *testing.T) {
	fetcher := &mockFetcher{err: &fdo.Error{
		Kind:    fdo.KindRetryable,
		Code:    fdo.CodeServiceUnavailable,
		Message: "unavailable",
	}}
	syncer, _ := newTestSyncer(fetcher, newMockMarkerRepo(), &notifyRecorder{})

	if _, err := syncer.SyncPhone(context.Background(), "79991234567"); err == nil {
		t.Fatal("取得失敗でエラーが返されていない")
	}
}

// TestSyncPhone_ReplayIsIdempotent はカーソル保存に失敗した後の再実行でも
// レシートが重複しないことを検証する。
func TestSyncPhone_ReplayIsIdempotent(t *testing.T) {
	page := &fdo.ReceiptsPage{
		Receipts:   []fdo.ReceiptEntry{testEntry("79991234567", 100, 15050)},
		NextMarker: "marker-1",
	}
	fetcher := &mockFetcher{pages: map[string]*fdo.ReceiptsPage{"": page}}
	markerRepo := newMockMarkerRepo()
	markerRepo.saveErr = fmt.Errorf("db down")
	recorder := &notifyRecorder{}
	syncer, receiptRepo := newTestSyncer(fetcher, markerRepo, recorder)

	// 1回目: 取り込み成功、カーソル保存失敗
	count, err := syncer.SyncPhone(context.Background(), "79991234567")
	if err != nil {
		t.Fatalf("1回目のSyncPhone() error = %v", err)
	}
	if count != 1 {
		t.Errorf("1回目のcount = %d, want 1", count)
	}

	// 2回目: 同じページを再取得するが重複排除で吸収される
	markerRepo.saveErr = nil
	count, err = syncer.SyncPhone(context.Background(), "79991234567")
	if err != nil {
		t.Fatalf("2回目のSyncPhone() error = %v", err)
	}
	if count != 0 {
		t.Errorf("2回目のcount = %d, want 0", count)
	}
	if len(receiptRepo.byTriple) != 1 {
		t.Errorf("レシート行数 = %d, want 1", len(receiptRepo.byTriple))
	}
}

// TestRunOnce_PerPhoneFailureContinues は1ユーザーの失敗が他ユーザーの
// 同期を妨げないことを検証する。
func TestRunOnce_PerPhoneFailureContinues(t *testing.T) {
	fetcher := &mockFetcher{
		pages: map[string]*fdo.ReceiptsPage{
			"": {Receipts: []fdo.ReceiptEntry{testEntry("79990000002", 200, 5000)}, NextMarker: "m-1"},
		},
		errMarker: "broken", // 79990000001の取得だけ失敗させる
	}
	markerRepo := newMockMarkerRepo()
	markerRepo.markers["79990000001"] = "broken"
	recorder := &notifyRecorder{}
	syncer, receiptRepo := newTestSyncer(fetcher, markerRepo, recorder)

	userRepo := newMockUserRepo()
	userRepo.connected = []string{"79990000001", "79990000002"}
	scheduler := NewScheduler(userRepo, syncer, testLogger(), 2)

	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	// 両ユーザーともフェッチが実行され、失敗したユーザー以外は取り込まれている
	if fetcher.fetchCalls != 2 {
		t.Errorf("fetchCalls = %d, want 2", fetcher.fetchCalls)
	}
	if len(receiptRepo.byTriple) != 1 {
		t.Errorf("レシート行数 = %d, want 1", len(receiptRepo.byTriple))
	}
}

// TestRunOnce_NoConnectedUsers は対象ユーザーなしでエラーにならないことを検証する。
func TestRunOnce_NoConnectedUsers(t *testing.T) {
	syncer, _ := newTestSyncer(&mockFetcher{}, newMockMarkerRepo(), &notifyRecorder{})
	scheduler := NewScheduler(newMockUserRepo(), syncer, testLogger(), 2)

	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
}
