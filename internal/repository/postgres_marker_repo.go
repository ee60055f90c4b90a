package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresMarkerRepo はPostgreSQLを使用した同期マーカーリポジトリ。
// マーカーはストリームキー(電話番号または全体アンバインドストリーム)ごとに1行保持する。
type PostgresMarkerRepo struct {
	db *sql.DB
}

// NewPostgresMarkerRepo はPostgresMarkerRepoを生成する。
func NewPostgresMarkerRepo(db *sql.DB) *PostgresMarkerRepo {
	return &PostgresMarkerRepo{db: db}
}

// Get はストリームキーに対応するマーカーを返す。
// 未保存またはTTLを超えて古い場合は空文字列を返し、呼び出し側が先頭から再開する。
func (r *PostgresMarkerRepo) Get(ctx context.Context, streamKey string, ttl time.Duration) (string, error) {
	var marker string
	var updatedAt time.Time

	err := r.db.QueryRowContext(ctx,
		`SELECT marker, updated_at FROM sync_markers WHERE stream_key = $1`,
		streamKey,
	).Scan(&marker, &updatedAt)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("マーカーの取得に失敗: %w", err)
	}

	if time.Since(updatedAt) > ttl {
		return "", nil
	}
	return marker, nil
}

// Save はストリームキーのマーカーを保存する。既存行は上書きする。
func (r *PostgresMarkerRepo) Save(ctx context.Context, streamKey, marker string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_markers (stream_key, marker, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (stream_key) DO UPDATE
		 SET marker = EXCLUDED.marker, updated_at = now()`,
		streamKey, marker,
	)
	if err != nil {
		return fmt.Errorf("マーカーの保存に失敗: %w", err)
	}
	return nil
}

// DeleteExpired はTTLを超えたマーカー行を削除し、削除件数を返す。
func (r *PostgresMarkerRepo) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_markers WHERE updated_at < $1`,
		time.Now().Add(-ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れマーカーの削除に失敗: %w", err)
	}
	return result.RowsAffected()
}
