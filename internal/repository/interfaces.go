// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/receiptman/internal/model"
)

// ReceiptRepository はレシートデータの永続化インターフェース。
// レシートは挿入専用で、更新・削除は行わない。
type ReceiptRepository interface {
	// ExistsByFiscalTriple はフィスカル識別トリプルが既に取り込み済みかどうかを返す。
	ExistsByFiscalTriple(ctx context.Context, triple model.FiscalTriple) (bool, error)

	// Create はレシートを作成する。
	// トリプルの一意制約違反はErrDuplicateReceiptとして返す。
	Create(ctx context.Context, receipt *model.Receipt) error

	// ListByUserID は指定ユーザーのレシートをreceipt_date_time降順で返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Receipt, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByPhone は電話番号でユーザーを検索する。見つからない場合はnilを返す。
	FindByPhone(ctx context.Context, phone string) (*model.User, error)

	// FindOrCreateByPhone は電話番号でユーザーを取得し、存在しない場合は作成する。
	// 並行作成による一意制約違反は既存行の再取得として処理される。
	FindOrCreateByPhone(ctx context.Context, phone, email string) (*model.User, error)

	// ListConnectedPhones はパートナー接続中の全ユーザーの電話番号を返す。
	ListConnectedPhones(ctx context.Context) ([]string, error)

	// SetConnected はユーザーの接続フラグを更新する。
	SetConnected(ctx context.Context, phone string, connected bool) error
}

// BindingRepository は接続申請記録の永続化インターフェース。
// 電話番号ごとに高々1件で、新しい申請は以前の記録を上書きする。
type BindingRepository interface {
	// FindByPhone は電話番号で接続申請記録を検索する。見つからない場合はnilを返す。
	FindByPhone(ctx context.Context, phone string) (*model.UserBinding, error)

	// Upsert は接続申請記録を作成または上書きする。
	Upsert(ctx context.Context, binding *model.UserBinding) error

	// UpdateState は指定電話番号の記録の状態とフラグを更新する。
	UpdateState(ctx context.Context, phone string, state model.BindingState, receiptsEnabled, notificationsEnabled bool) error
}

// MarkerRepository は同期ストリームごとのページネーションマーカーの
// 永続化インターフェース。マーカーは最終更新からTTLを超過すると失効する。
type MarkerRepository interface {
	// Get は指定ストリームのマーカーを返す。
	// 存在しない場合またはTTL超過の場合は空文字列を返す。
	Get(ctx context.Context, streamKey string, ttl time.Duration) (string, error)

	// Save は指定ストリームのマーカーを保存する。last-write-wins。
	Save(ctx context.Context, streamKey, marker string) error

	// DeleteExpired はTTLを超過したマーカーを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}
