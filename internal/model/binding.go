package model

import "time"

// BindingState は接続申請のライフサイクル状態。
type BindingState string

const (
	// BindingPending は申請作成直後、プラットフォーム送信前後の初期状態。
	BindingPending BindingState = "PENDING"
	// BindingInProgress はプラットフォーム側で処理中の状態。
	BindingInProgress BindingState = "IN_PROGRESS"
	// BindingApproved はユーザーが申請を承認した終了状態。
	BindingApproved BindingState = "APPROVED"
	// BindingDeclined はユーザーが申請を拒否した終了状態。
	BindingDeclined BindingState = "DECLINED"
	// BindingExpired は承認期限切れの終了状態。
	BindingExpired BindingState = "EXPIRED"
	// BindingUnbound は接続解除後の状態。
	BindingUnbound BindingState = "UNBOUND"
	// BindingCancelled は重複申請としてキャンセルされた終了状態。
	BindingCancelled BindingState = "CANCELLED"
)

// UserBinding はユーザーのパートナー接続申請とその状態の記録。
// 電話番号ごとに高々1件存在し、新しい申請は以前の申請を上書きする。
// 監査証跡のため削除されることはない。
type UserBinding struct {
	ID                   string
	PhoneNumber          string // 一意
	RequestID            string
	State                BindingState
	ReceiptsEnabled      bool
	NotificationsEnabled bool
	BoundAt              *time.Time
	UnboundAt            *time.Time
	LastStatusCheckAt    *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsBound は接続が有効な状態かどうかを返す。
func (b *UserBinding) IsBound() bool {
	return b.State == BindingApproved
}

// IsTerminal は状態がこれ以上遷移しない終了状態かどうかを返す。
// UNBOUNDは解除イベントにより到達するため終了状態として扱う。
func (s BindingState) IsTerminal() bool {
	switch s {
	case BindingApproved, BindingDeclined, BindingExpired, BindingCancelled, BindingUnbound:
		return true
	default:
		return false
	}
}
