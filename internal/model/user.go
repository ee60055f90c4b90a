package model

import "time"

// User は外部識別子（電話番号）で一意に特定される内部ユーザーを表す。
// ReceiptSyncまたはUnbindSyncが未知の識別子を初めて参照した時に
// find-or-createで作成される。削除されることはない。
type User struct {
	ID               string
	PhoneNumber      string // 一意
	Email            string
	PartnerConnected bool // パートナー接続フラグ
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
