package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt は取り込み済みのフィスカルレシート（1フィスカル文書）を表す。
// フィスカル識別トリプル（FiscalSign, FiscalDocumentNumber, FiscalDriveNumber）は
// グローバルに一意であり、同じトリプルを持つ行は2つ存在しない。
// 一度作成された行は更新も削除もされない。
type Receipt struct {
	ID                   string
	UserID               string
	UserIdentifier       string // プラットフォーム上の外部識別子（電話番号）
	Phone                string
	Email                string
	FiscalSign           int64
	FiscalDocumentNumber int64
	FiscalDriveNumber    string
	ReceiptDateTime      time.Time // レシート自体の日時（ペイロード内のdateTime）
	ReceiveDate          *time.Time // プラットフォームが観測した日時。未提供の場合はnil
	TotalSum             decimal.Decimal
	SourceCode           string // KKT_RECEIPT, SCAN_MPPCH, SCAN_LKDR, SCAN_PARTNER
	OperationType        int
	RetailPlace          string
	RawJSON              string // 受信したペイロードの原文
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// FiscalTriple はレシートのフィスカル識別トリプル。
type FiscalTriple struct {
	FiscalSign           int64
	FiscalDocumentNumber int64
	FiscalDriveNumber    string
}
