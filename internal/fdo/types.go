package fdo

import "time"

// ページネーションマーカーの番兵値。
// プラットフォームのテープAPIはこの2値を特別扱いする。
const (
	// MarkerFromBeginning はストリームの先頭からの取得を指示する。
	MarkerFromBeginning = "S_FROM_BEGINNING"
	// MarkerFromEnd はストリームの末尾（現在位置）からの取得を指示する。
	MarkerFromEnd = "S_FROM_END"
)

// 接続申請の結果値。GetBindStatusのResultフィールドに現れる。
const (
	ResultApproved             = "REQUEST_APPROVED"
	ResultDeclined             = "REQUEST_DECLINED"
	ResultCancelledAsDuplicate = "REQUEST_CANCELLED_AS_DUPLICATE"
	ResultExpired              = "REQUEST_EXPIRED"
	ResultInProgress           = "REQUEST_IN_PROGRESS"
)

// BindUserRequest はユーザー接続申請の作成リクエスト。
type BindUserRequest struct {
	RequestID        string    `json:"requestId"`
	UserIdentifier   string    `json:"userIdentifier"`
	PermissionGroups []string  `json:"permissionGroups"`
	ExpiredAt        time.Time `json:"expiredAt"`
}

// BindUserResponse は接続申請作成の応答。
type BindUserResponse struct {
	MessageID string `json:"messageId"`
}

// GetBindStatusRequest は接続申請の状態照会リクエスト。1回につき最大50件。
type GetBindStatusRequest struct {
	RequestIDs []string `json:"requestIds"`
}

// BindStatus は1件の接続申請の現在状態。
type BindStatus struct {
	RequestID        string `json:"requestId"`
	Result           string `json:"result"`
	UserIdentifier   string `json:"userIdentifier"`
	PermissionGroups string `json:"permissionGroups"`
	ResponseTime     string `json:"responseTime"`
	RejectionReason  string `json:"rejectionReasonMessage,omitempty"`
}

// GetBindStatusResponse は状態照会の応答。
type GetBindStatusResponse struct {
	Statuses []BindStatus `json:"statuses"`
}

// ReceiptsPageRequest はレシートテープの1ページ取得リクエスト。
type ReceiptsPageRequest struct {
	Marker string `json:"marker"`
}

// ReceiptEntry はテープ上の1レシートエントリ。
// Payloadはフィスカル文書のJSON本文（base64はトランスポート層で解決済み）。
type ReceiptEntry struct {
	UserIdentifier string `json:"userIdentifier"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Payload        []byte `json:"payload"`
	ReceiveDate    string `json:"receiveDate"`
	SourceCode     string `json:"sourceCode"`
}

// ReceiptsPage はレシートテープの1ページ。
// テープは複数ユーザーのエントリが多重化されている可能性がある。
type ReceiptsPage struct {
	Receipts       []ReceiptEntry `json:"receipts"`
	NextMarker     string         `json:"nextMarker"`
	RemainingPolls int64          `json:"totalExpectedRemainingPolls"`
}

// UnboundPageRequest は接続解除イベントテープの1ページ取得リクエスト。
type UnboundPageRequest struct {
	Marker string `json:"marker"`
}

// UnbindEvent は1件の接続解除イベント。
type UnbindEvent struct {
	RequestID      string `json:"requestId"`
	UserIdentifier string `json:"userIdentifier"`
	ResponseTime   string `json:"responseTime"`
}

// UnboundPage は接続解除イベントテープの1ページ。
type UnboundPage struct {
	Entries    []UnbindEvent `json:"unbounds"`
	NextMarker string        `json:"nextMarker"`
	HasMore    bool          `json:"hasMore"`
}

// NotificationRequest はプラットフォーム経由のプッシュ通知送信リクエスト。
// IdempotencyKeyが同じ送信はプラットフォーム側で重複排除される。
type NotificationRequest struct {
	RequestID      string `json:"requestId"`
	UserIdentifier string `json:"userIdentifier"`
	Title          string `json:"notificationTitle"`
	Message        string `json:"notificationMessage"`
	ShortMessage   string `json:"shortMessage"`
	Category       string `json:"notificationCategory"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// NotificationResponse は通知送信の応答。
type NotificationResponse struct {
	RequestID string `json:"requestId"`
}

// UnbindUserRequest はパートナー側からの接続解除リクエスト。
type UnbindUserRequest struct {
	UserIdentifier string `json:"userIdentifier"`
	UnbindReason   string `json:"unbindReason"`
}

// UnbindUserResponse は接続解除の応答。
type UnbindUserResponse struct {
	Status string `json:"status"`
}

// RegisterPartnerRequest はパートナー自身のプラットフォーム登録リクエスト。
type RegisterPartnerRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	TransitionLink string `json:"transitionLink"`
	Image          string `json:"image"`
	INN            string `json:"inn"`
	Phone          string `json:"phone"`
}

// RegisterPartnerResponse はパートナー登録の応答。
type RegisterPartnerResponse struct {
	ID string `json:"id"`
}
