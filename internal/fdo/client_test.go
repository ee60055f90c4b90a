package fdo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newTestClient はhttptestサーバーに向けたClientを生成する。
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	client := NewClient(server.Client(), newTestLogger(&buf), server.URL, "partner-1")
	return client, server
}

func writeResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}
	_ = json.NewEncoder(w).Encode(envelope{Result: raw})
}

func TestClient_FetchReceiptsPage_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/GetReceiptsTape" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ReceiptsPageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Marker != "MARKER_123" {
			t.Errorf("marker = %q, want MARKER_123", req.Marker)
		}
		writeResult(t, w, ReceiptsPage{
			Receipts: []ReceiptEntry{
				{UserIdentifier: "79990000000", Payload: []byte(`{"fiscalSign":1}`), SourceCode: "KKT_RECEIPT"},
			},
			NextMarker:     "MARKER_124",
			RemainingPolls: 2,
		})
	})

	page, err := client.FetchReceiptsPage(context.Background(), "MARKER_123")
	if err != nil {
		t.Fatalf("FetchReceiptsPage returned error: %v", err)
	}
	if len(page.Receipts) != 1 {
		t.Fatalf("len(Receipts) = %d, want 1", len(page.Receipts))
	}
	if page.NextMarker != "MARKER_124" {
		t.Errorf("NextMarker = %q, want MARKER_124", page.NextMarker)
	}
}

func TestClient_FetchReceiptsPage_EmptyMarkerUsesEndSentinel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ReceiptsPageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Marker != MarkerFromEnd {
			t.Errorf("marker = %q, want %q", req.Marker, MarkerFromEnd)
		}
		writeResult(t, w, ReceiptsPage{})
	})

	if _, err := client.FetchReceiptsPage(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClient_PlatformErrorIsClassified(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(envelope{
			Error: &platformError{Code: CodeUserNotBound, Message: "user is not bound"},
		})
	})

	_, err := client.SendNotification(context.Background(), NotificationRequest{
		UserIdentifier: "79990000000",
	})
	if err == nil {
		t.Fatal("error expected")
	}
	var fdoErr *Error
	if !errors.As(err, &fdoErr) {
		t.Fatalf("error is not *fdo.Error: %v", err)
	}
	if fdoErr.Kind != KindBusiness {
		t.Errorf("Kind = %v, want KindBusiness", fdoErr.Kind)
	}
	if fdoErr.Code != CodeUserNotBound {
		t.Errorf("Code = %q, want %q", fdoErr.Code, CodeUserNotBound)
	}
}

func TestClient_HTTP5xxIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.FetchUnboundPage(context.Background(), MarkerFromEnd)
	if !IsRetryable(err) {
		t.Errorf("5xxはRetryableに分類されるべき: %v", err)
	}
}

func TestClient_HTTP429IsRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.FetchReceiptsPage(context.Background(), MarkerFromEnd)
	if !IsRetryable(err) {
		t.Errorf("429はRetryableに分類されるべき: %v", err)
	}
}

func TestClient_TransportFailureIsRetryable(t *testing.T) {
	var buf bytes.Buffer
	// 接続先のないクライアント
	client := NewClient(&http.Client{}, newTestLogger(&buf), "http://127.0.0.1:1", "partner-1")

	_, err := client.FetchReceiptsPage(context.Background(), MarkerFromEnd)
	if !IsRetryable(err) {
		t.Errorf("トランスポート障害はRetryableに分類されるべき: %v", err)
	}
}

func TestClient_GetBindStatus_Validation(t *testing.T) {
	var buf bytes.Buffer
	client := NewClient(&http.Client{}, newTestLogger(&buf), "http://unused", "partner-1")

	_, err := client.GetBindStatus(context.Background(), nil)
	if !IsBusinessCode(err, CodeRequestValidationError) {
		t.Errorf("空のrequestIdsはREQUEST_VALIDATION_ERRORになるべき: %v", err)
	}

	ids := make([]string, 51)
	for i := range ids {
		ids[i] = "r"
	}
	_, err = client.GetBindStatus(context.Background(), ids)
	if !IsBusinessCode(err, CodeTooManyRequestIDs) {
		t.Errorf("51件のrequestIdsはTOO_MANY_REQUEST_IDSになるべき: %v", err)
	}
}

func TestClient_NeverRetries(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusServiceUnavailable)
	})

	_, _ = client.FetchReceiptsPage(context.Background(), MarkerFromEnd)
	if calls != 1 {
		t.Errorf("クライアント自身はリトライしてはならない: calls = %d", calls)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, ReceiptsPage{})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchReceiptsPage(ctx, MarkerFromEnd)
	if err == nil {
		t.Fatal("キャンセル済みコンテキストではエラーを返すべき")
	}
}
