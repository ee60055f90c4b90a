package fdo

import (
	"errors"
	"fmt"
)

// Kind はプラットフォームエラーの3分類。
// リトライ・伝播ポリシーはこの分類で決まる。
type Kind int

const (
	// KindRetryable は一時的な障害（レート制限・タイムアウト系）。
	// 呼び出し元はバックオフして再試行してよい。
	KindRetryable Kind = iota
	// KindBusiness は現在の状態ではリクエストが成立しない業務エラー
	// （未知の識別子、未接続ユーザー、権限なし、通知の重複など）。
	// そのまま再試行してはならず、起点のフローに返す。
	KindBusiness
	// KindFatal は想定外・未サポートの状態。フローを中断しログで警報する。
	KindFatal
)

// String はKindの文字列表現を返す。
func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindBusiness:
		return "business"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error はプラットフォームが宣言したエラーを表す。
// 元のエラーコードとメッセージを常に保持する。
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Kind, e.Message)
}

// プラットフォームのエラーコード。
const (
	CodeUserNotBound              = "USER_NOT_BOUND"
	CodeUserIdentifierNotFound    = "USER_IDENTIFIER_NOT_FOUND"
	CodeIdentifierUnbound         = "IDENTIFIER_UNBOUND"
	CodeRequestNotFound           = "REQUEST_NOT_FOUND"
	CodeRequestValidationError    = "REQUEST_VALIDATION_ERROR"
	CodeTooManyRequestIDs         = "TOO_MANY_REQUEST_IDS"
	CodeDuplicateNotification     = "DUPLICATE_NOTIFICATION"
	CodeNotificationNoPermission  = "NOTIFICATION_PERMISSION_DENIED"
	CodeNotificationRateLimited   = "NOTIFICATION_RATE_LIMIT_EXCEEDED"
	CodePartialRequestsNotFound   = "PARTIAL_REQUESTS_NOT_FOUND"
	CodeTooManyRequests           = "TOO_MANY_REQUESTS"
	CodeInternalError             = "INTERNAL_ERROR"
	CodeServiceUnavailable        = "SERVICE_UNAVAILABLE"
	CodeMessageProcessingTimeout  = "MESSAGE_PROCESSING_TIMEOUT"
	CodeUnknown                   = "UNKNOWN"
)

// classification はエラーコードから分類への静的対応表。
// 表にないコードはKindFatalとして扱う。
var classification = map[string]Kind{
	CodeTooManyRequests:          KindRetryable,
	CodeServiceUnavailable:       KindRetryable,
	CodeMessageProcessingTimeout: KindRetryable,

	CodeUserNotBound:             KindBusiness,
	CodeUserIdentifierNotFound:   KindBusiness,
	CodeIdentifierUnbound:        KindBusiness,
	CodeRequestNotFound:          KindBusiness,
	CodeRequestValidationError:   KindBusiness,
	CodeTooManyRequestIDs:        KindBusiness,
	CodeDuplicateNotification:    KindBusiness,
	CodeNotificationNoPermission: KindBusiness,
	CodeNotificationRateLimited:  KindBusiness,
	CodePartialRequestsNotFound:  KindBusiness,

	CodeInternalError: KindFatal,
	CodeUnknown:       KindFatal,
}

// Classify はプラットフォームのエラーコードとメッセージから分類済みエラーを生成する。
func Classify(code, message string) *Error {
	kind, ok := classification[code]
	if !ok {
		kind = KindFatal
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf はエラーからKindを取り出す。
// fdo.Errorでない場合はKindFatalと、取り出せたかどうかを返す。
func KindOf(err error) (Kind, bool) {
	var fdoErr *Error
	if errors.As(err, &fdoErr) {
		return fdoErr.Kind, true
	}
	return KindFatal, false
}

// IsRetryable はエラーがRetryable分類かどうかを返す。
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRetryable
}

// IsBusiness はエラーがBusiness分類かどうかを返す。
func IsBusiness(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindBusiness
}

// IsBusinessCode はエラーが指定コードのBusinessエラーかどうかを返す。
func IsBusinessCode(err error, code string) bool {
	var fdoErr *Error
	if errors.As(err, &fdoErr) {
		return fdoErr.Kind == KindBusiness && fdoErr.Code == code
	}
	return false
}
