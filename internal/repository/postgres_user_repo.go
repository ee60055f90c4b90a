package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/receiptman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByPhone は電話番号でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByPhone(ctx context.Context, phone string) (*model.User, error) {
	user := &model.User{}
	var email sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, phone_number, email, partner_connected, is_active, created_at, updated_at
		 FROM users WHERE phone_number = $1`,
		phone,
	).Scan(
		&user.ID, &user.PhoneNumber, &email,
		&user.PartnerConnected, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}

	user.Email = nullStringValue(email)
	return user, nil
}

// FindOrCreateByPhone は電話番号でユーザーを取得し、存在しない場合は作成する。
// 並行作成による一意制約違反は競合ではなく「既に存在」として扱い、
// 既存行を再取得して返す。
func (r *PostgresUserRepo) FindOrCreateByPhone(ctx context.Context, phone, email string) (*model.User, error) {
	existing, err := r.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	user := &model.User{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		Email:       email,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, phone_number, email, partner_connected, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.PhoneNumber, nullableString(user.Email),
		user.PartnerConnected, user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			// 並行する同期が先に作成した場合
			return r.FindByPhone(ctx, phone)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	return user, nil
}

// ListConnectedPhones はパートナー接続中の全ユーザーの電話番号を返す。
func (r *PostgresUserRepo) ListConnectedPhones(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT phone_number FROM users
		 WHERE partner_connected = true AND is_active = true
		 ORDER BY phone_number`,
	)
	if err != nil {
		return nil, fmt.Errorf("接続中ユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("電話番号の読み取りに失敗しました: %w", err)
		}
		phones = append(phones, phone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("接続中ユーザーの走査に失敗しました: %w", err)
	}

	return phones, nil
}

// SetConnected はユーザーの接続フラグを更新する。
func (r *PostgresUserRepo) SetConnected(ctx context.Context, phone string, connected bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET partner_connected = $1, updated_at = now() WHERE phone_number = $2`,
		connected, phone,
	)
	if err != nil {
		return fmt.Errorf("接続フラグの更新に失敗しました: %w", err)
	}
	return nil
}

// nullableString は空文字列をNULLに変換する。
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
