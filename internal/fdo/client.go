// Package fdo はフィスカルデータオペレータープラットフォームとの連携機能を提供する。
// リクエスト種別ごとの型付きRPC呼び出しと、プラットフォームエラーの
// Retryable/Business/Fatal 3分類を含む。
package fdo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// リクエスト種別。エンドポイントのパスセグメントとして使用される。
const (
	kindBindUser          = "BindUser"
	kindGetBindStatus     = "GetBindPartnerStatus"
	kindGetReceiptsTape   = "GetReceiptsTape"
	kindGetUnboundPartner = "GetUnboundPartner"
	kindPostNotification  = "PostNotification"
	kindUnbindPartner     = "PostUnbindPartner"
	kindRegisterPartner   = "PostPlatformRegistration"
)

// maxResponseSize はレスポンスボディの最大サイズ（10MB）。
const maxResponseSize = 10 << 20

// envelope はプラットフォームの応答エンベロープ。
// ResultとErrorは排他で、Errorが存在する場合はリクエスト失敗を意味する。
type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *platformError  `json:"error"`
}

// platformError はプラットフォームが宣言するエラー本体。
type platformError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client はプラットフォームAPIのクライアント。
// 自身ではリトライを行わない。リトライポリシーは呼び出し元が
// エラー分類に基づいて決定する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
	partnerID  string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, partnerID string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		partnerID:  partnerID,
	}
}

// send は型付きリクエストを送信し、型付き応答をoutにデコードする。
// プラットフォームがエラーを宣言した場合は分類済みの*Errorを返す。
func (c *Client) send(ctx context.Context, kind string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	url := c.baseURL + "/api/" + kind
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Partner-Id", c.partnerID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プラットフォームAPIの呼び出しに失敗しました",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		// トランスポート障害は一時的なものとして扱う
		return &Error{Kind: KindRetryable, Code: CodeServiceUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &Error{Kind: KindRetryable, Code: CodeServiceUnavailable,
			Message: fmt.Sprintf("レスポンスボディの読み取りに失敗しました: %s", err)}
	}

	// ステータスコードに関わらずエンベロープのデコードを試みる。
	// エラー宣言はHTTP 200でも届く。
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return c.classifyHTTPFailure(kind, resp.StatusCode, err)
	}

	if env.Error != nil {
		fdoErr := Classify(env.Error.Code, env.Error.Message)
		c.logger.Warn("プラットフォームがエラーを返しました",
			slog.String("kind", kind),
			slog.String("code", fdoErr.Code),
			slog.String("classification", fdoErr.Kind.String()),
		)
		return fdoErr
	}

	if resp.StatusCode != http.StatusOK {
		return c.classifyHTTPFailure(kind, resp.StatusCode, nil)
	}

	if out != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &Error{Kind: KindFatal, Code: CodeUnknown,
				Message: fmt.Sprintf("応答のデコードに失敗しました: %s", err)}
		}
	}

	return nil
}

// classifyHTTPFailure はエンベロープなしのHTTP失敗を分類する。
// 429/5xxは一時障害、その他は想定外として扱う。
func (c *Client) classifyHTTPFailure(kind string, status int, decodeErr error) *Error {
	c.logger.Error("プラットフォームAPIが不正な応答を返しました",
		slog.String("kind", kind),
		slog.Int("http_status", status),
	)
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRetryable, Code: CodeTooManyRequests,
			Message: fmt.Sprintf("HTTPステータス %d", status)}
	case status >= 500:
		return &Error{Kind: KindRetryable, Code: CodeServiceUnavailable,
			Message: fmt.Sprintf("HTTPステータス %d", status)}
	default:
		msg := fmt.Sprintf("HTTPステータス %d", status)
		if decodeErr != nil {
			msg = fmt.Sprintf("%s（デコード失敗: %s）", msg, decodeErr)
		}
		return &Error{Kind: KindFatal, Code: CodeUnknown, Message: msg}
	}
}

// BindUser はユーザー接続申請を作成する。
// 申請の承認は非同期で行われるため、結果はGetBindStatusで照会する。
func (c *Client) BindUser(ctx context.Context, req BindUserRequest) (*BindUserResponse, error) {
	c.logger.Info("接続申請を送信します",
		slog.String("request_id", req.RequestID),
		slog.String("user_identifier", req.UserIdentifier),
	)
	var resp BindUserResponse
	if err := c.send(ctx, kindBindUser, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBindStatus は接続申請の状態を照会する。requestIDsは最大50件。
func (c *Client) GetBindStatus(ctx context.Context, requestIDs []string) (*GetBindStatusResponse, error) {
	if len(requestIDs) == 0 {
		return nil, &Error{Kind: KindBusiness, Code: CodeRequestValidationError,
			Message: "requestIdsが空です"}
	}
	if len(requestIDs) > 50 {
		return nil, &Error{Kind: KindBusiness, Code: CodeTooManyRequestIDs,
			Message: fmt.Sprintf("requestIdsは最大50件です: %d", len(requestIDs))}
	}
	var resp GetBindStatusResponse
	if err := c.send(ctx, kindGetBindStatus, GetBindStatusRequest{RequestIDs: requestIDs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchReceiptsPage はレシートテープの1ページを取得する。
// markerが空の場合はMarkerFromEndを使用する。
func (c *Client) FetchReceiptsPage(ctx context.Context, marker string) (*ReceiptsPage, error) {
	if marker == "" {
		marker = MarkerFromEnd
	}
	var resp ReceiptsPage
	if err := c.send(ctx, kindGetReceiptsTape, ReceiptsPageRequest{Marker: marker}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchUnboundPage は接続解除イベントテープの1ページを取得する。
// markerが空の場合はMarkerFromEndを使用する。
func (c *Client) FetchUnboundPage(ctx context.Context, marker string) (*UnboundPage, error) {
	if marker == "" {
		marker = MarkerFromEnd
	}
	var resp UnboundPage
	if err := c.send(ctx, kindGetUnboundPartner, UnboundPageRequest{Marker: marker}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendNotification はプラットフォーム経由でプッシュ通知を送信する。
func (c *Client) SendNotification(ctx context.Context, req NotificationRequest) (*NotificationResponse, error) {
	var resp NotificationResponse
	if err := c.send(ctx, kindPostNotification, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnbindUser はパートナー側からユーザーの接続を解除する。
func (c *Client) UnbindUser(ctx context.Context, req UnbindUserRequest) (*UnbindUserResponse, error) {
	c.logger.Info("接続解除を送信します",
		slog.String("user_identifier", req.UserIdentifier),
	)
	var resp UnbindUserResponse
	if err := c.send(ctx, kindUnbindPartner, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterPartner はパートナー自身をプラットフォームに登録する。
// 初期セットアップ時に1回だけ呼び出される。
func (c *Client) RegisterPartner(ctx context.Context, req RegisterPartnerRequest) (*RegisterPartnerResponse, error) {
	c.logger.Info("パートナー登録を送信します", slog.String("name", req.Name))
	var resp RegisterPartnerResponse
	if err := c.send(ctx, kindRegisterPartner, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
