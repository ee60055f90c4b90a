package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/receiptman/internal/model"
)

// ErrDuplicateReceipt は同一フィスカルトリプルのレシートが既に存在することを示す。
// 再起動した同期と遅延した同期の競合では正常系として扱われる。
var ErrDuplicateReceipt = errors.New("receipt already exists")

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresReceiptRepo はPostgreSQLを使用したレシートリポジトリ。
type PostgresReceiptRepo struct {
	db *sql.DB
}

// NewPostgresReceiptRepo はPostgresReceiptRepoを生成する。
func NewPostgresReceiptRepo(db *sql.DB) *PostgresReceiptRepo {
	return &PostgresReceiptRepo{db: db}
}

// ExistsByFiscalTriple はフィスカル識別トリプルが既に取り込み済みかどうかを返す。
func (r *PostgresReceiptRepo) ExistsByFiscalTriple(ctx context.Context, triple model.FiscalTriple) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM receipts
		   WHERE fiscal_sign = $1 AND fiscal_document_number = $2 AND fiscal_drive_number = $3
		 )`,
		triple.FiscalSign, triple.FiscalDocumentNumber, triple.FiscalDriveNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("レシートの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create はレシートを作成する。
// 一意制約違反（並行する同期との競合）はErrDuplicateReceiptとして返す。
func (r *PostgresReceiptRepo) Create(ctx context.Context, receipt *model.Receipt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO receipts (
		   id, user_id, user_identifier, phone, email,
		   fiscal_sign, fiscal_document_number, fiscal_drive_number,
		   receipt_date_time, receive_date, total_sum, source_code,
		   operation_type, retail_place, raw_json, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		receipt.ID, receipt.UserID, receipt.UserIdentifier, receipt.Phone, receipt.Email,
		receipt.FiscalSign, receipt.FiscalDocumentNumber, receipt.FiscalDriveNumber,
		receipt.ReceiptDateTime, nullableTime(receipt.ReceiveDate), receipt.TotalSum.String(), receipt.SourceCode,
		receipt.OperationType, receipt.RetailPlace, receipt.RawJSON, receipt.CreatedAt, receipt.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateReceipt
		}
		return fmt.Errorf("レシートの作成に失敗しました: %w", err)
	}
	return nil
}

// ListByUserID は指定ユーザーのレシートをreceipt_date_time降順で返す。
func (r *PostgresReceiptRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Receipt, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, user_identifier, phone, email,
		        fiscal_sign, fiscal_document_number, fiscal_drive_number,
		        receipt_date_time, receive_date, total_sum, source_code,
		        operation_type, retail_place, raw_json, created_at, updated_at
		 FROM receipts
		 WHERE user_id = $1
		 ORDER BY receipt_date_time DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("レシート一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var receipts []*model.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("レシート一覧の走査に失敗しました: %w", err)
	}

	return receipts, nil
}

// scanReceipt は1行をmodel.Receiptに変換する。
func scanReceipt(rows *sql.Rows) (*model.Receipt, error) {
	receipt := &model.Receipt{}
	var phone, email, retailPlace sql.NullString
	var receiveDate sql.NullTime
	var operationType sql.NullInt64
	var totalSum string

	err := rows.Scan(
		&receipt.ID, &receipt.UserID, &receipt.UserIdentifier, &phone, &email,
		&receipt.FiscalSign, &receipt.FiscalDocumentNumber, &receipt.FiscalDriveNumber,
		&receipt.ReceiptDateTime, &receiveDate, &totalSum, &receipt.SourceCode,
		&operationType, &retailPlace, &receipt.RawJSON, &receipt.CreatedAt, &receipt.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("レシート行の読み取りに失敗しました: %w", err)
	}
	if receiveDate.Valid {
		receipt.ReceiveDate = &receiveDate.Time
	}

	sum, err := decimal.NewFromString(totalSum)
	if err != nil {
		return nil, fmt.Errorf("total_sumのパースに失敗しました: %w", err)
	}
	receipt.TotalSum = sum
	receipt.Phone = nullStringValue(phone)
	receipt.Email = nullStringValue(email)
	receipt.RetailPlace = nullStringValue(retailPlace)
	if operationType.Valid {
		receipt.OperationType = int(operationType.Int64)
	}

	return receipt, nil
}

// nullStringValue はsql.NullStringから値を取り出す。NULLは空文字列。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
