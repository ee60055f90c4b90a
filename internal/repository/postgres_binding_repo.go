package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/receiptman/internal/model"
)

// PostgresBindingRepo はPostgreSQLを使用した接続申請記録リポジトリ。
type PostgresBindingRepo struct {
	db *sql.DB
}

// NewPostgresBindingRepo はPostgresBindingRepoを生成する。
func NewPostgresBindingRepo(db *sql.DB) *PostgresBindingRepo {
	return &PostgresBindingRepo{db: db}
}

// FindByPhone は電話番号で接続申請記録を検索する。見つからない場合はnilを返す。
func (r *PostgresBindingRepo) FindByPhone(ctx context.Context, phone string) (*model.UserBinding, error) {
	binding := &model.UserBinding{}
	var boundAt, unboundAt, lastCheckAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, phone_number, request_id, binding_state,
		        receipts_enabled, notifications_enabled,
		        bound_at, unbound_at, last_status_check_at, created_at, updated_at
		 FROM user_bindings WHERE phone_number = $1`,
		phone,
	).Scan(
		&binding.ID, &binding.PhoneNumber, &binding.RequestID, &binding.State,
		&binding.ReceiptsEnabled, &binding.NotificationsEnabled,
		&boundAt, &unboundAt, &lastCheckAt, &binding.CreatedAt, &binding.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("接続申請記録の検索に失敗しました: %w", err)
	}

	if boundAt.Valid {
		binding.BoundAt = &boundAt.Time
	}
	if unboundAt.Valid {
		binding.UnboundAt = &unboundAt.Time
	}
	if lastCheckAt.Valid {
		binding.LastStatusCheckAt = &lastCheckAt.Time
	}

	return binding, nil
}

// Upsert は接続申請記録を作成または上書きする。
// 電話番号ごとに1行で、新しい申請は以前の申請を置き換える。
func (r *PostgresBindingRepo) Upsert(ctx context.Context, binding *model.UserBinding) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_bindings (
		   id, phone_number, request_id, binding_state,
		   receipts_enabled, notifications_enabled,
		   bound_at, unbound_at, last_status_check_at, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (phone_number) DO UPDATE SET
		   request_id = EXCLUDED.request_id,
		   binding_state = EXCLUDED.binding_state,
		   receipts_enabled = EXCLUDED.receipts_enabled,
		   notifications_enabled = EXCLUDED.notifications_enabled,
		   bound_at = EXCLUDED.bound_at,
		   unbound_at = EXCLUDED.unbound_at,
		   last_status_check_at = EXCLUDED.last_status_check_at,
		   updated_at = EXCLUDED.updated_at`,
		binding.ID, binding.PhoneNumber, binding.RequestID, binding.State,
		binding.ReceiptsEnabled, binding.NotificationsEnabled,
		nullableTime(binding.BoundAt), nullableTime(binding.UnboundAt),
		nullableTime(binding.LastStatusCheckAt), binding.CreatedAt, binding.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("接続申請記録の保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateState は指定電話番号の記録の状態とフラグを更新する。
// APPROVEDへの遷移ではbound_atを、UNBOUNDへの遷移ではunbound_atを刻印する。
func (r *PostgresBindingRepo) UpdateState(ctx context.Context, phone string, state model.BindingState, receiptsEnabled, notificationsEnabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_bindings SET
		   binding_state = $1,
		   receipts_enabled = $2,
		   notifications_enabled = $3,
		   bound_at = CASE WHEN $1 = 'APPROVED' THEN now() ELSE bound_at END,
		   unbound_at = CASE WHEN $1 = 'UNBOUND' THEN now() ELSE unbound_at END,
		   last_status_check_at = now(),
		   updated_at = now()
		 WHERE phone_number = $4`,
		state, receiptsEnabled, notificationsEnabled, phone,
	)
	if err != nil {
		return fmt.Errorf("接続申請状態の更新に失敗しました: %w", err)
	}
	return nil
}

// nullableTime は*time.Timeをsql.NullTimeに変換する。nilはNULL。
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
