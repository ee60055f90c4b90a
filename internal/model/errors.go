// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError はローカルAPIの統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, binding, sync, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPhone    = "INVALID_PHONE"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeUserNotBound    = "USER_NOT_BOUND"
	ErrCodeBindingNotFound = "BINDING_NOT_FOUND"
	ErrCodeSyncFailed      = "SYNC_FAILED"
)

// NewInvalidPhoneError は電話番号形式エラーを生成する。
func NewInvalidPhoneError(phone string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhone,
		Message:  fmt.Sprintf("無効な電話番号です: %s", phone),
		Category: "validation",
		Action:   "電話番号は先頭の国番号を含む数字列（例: 79990000000）で指定してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(phone string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", phone),
		Category: "binding",
		Action:   "電話番号を確認してください。",
	}
}

// NewUserNotBoundError は未接続ユーザーエラーを生成する。
func NewUserNotBoundError(phone string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotBound,
		Message:  fmt.Sprintf("ユーザーはパートナーに接続されていません: %s", phone),
		Category: "binding",
		Action:   "先に接続申請を作成し、承認を待ってください。",
	}
}

// NewBindingNotFoundError は接続申請未検出エラーを生成する。
func NewBindingNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeBindingNotFound,
		Message:  fmt.Sprintf("指定された接続申請が見つかりません: %s", requestID),
		Category: "binding",
		Action:   "requestIdを確認してください。",
	}
}
