// Package receipt はフィスカルレシートの取り込み機能を提供する。
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/repository"
)

// kopeksInRuble は金額ペイロードの通貨最小単位（コペイカ）から
// ルーブルへの換算係数。
var kopeksInRuble = decimal.NewFromInt(100)

// SaveResult はレシート取り込み1回分の結果。
type SaveResult struct {
	SavedCount int
	TotalSum   decimal.Decimal
}

// EmptySaveResult は取り込み対象なしの結果を返す。
func EmptySaveResult() SaveResult {
	return SaveResult{SavedCount: 0, TotalSum: decimal.Zero}
}

// receiptPayload はエントリに埋め込まれたフィスカル文書ペイロード。
// dateTimeはエポック秒、totalSumはコペイカ単位の整数。
type receiptPayload struct {
	FiscalSign           int64  `json:"fiscalSign"`
	FiscalDocumentNumber int64  `json:"fiscalDocumentNumber"`
	FiscalDriveNumber    string `json:"fiscalDriveNumber"`
	DateTime             int64  `json:"dateTime"`
	TotalSum             int64  `json:"totalSum"`
	OperationType        int    `json:"operationType"`
	RetailPlace          string `json:"retailPlace"`
}

// IngestService はレシートテープの取り込みサービス。
// フィスカル識別トリプルによる重複排除を行い、未知のユーザーは
// find-or-createで解決する。
type IngestService struct {
	receiptRepo repository.ReceiptRepository
	userRepo    repository.UserRepository
	logger      *slog.Logger
}

// NewIngestService はIngestServiceの新しいインスタンスを生成する。
func NewIngestService(
	receiptRepo repository.ReceiptRepository,
	userRepo repository.UserRepository,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		receiptRepo: receiptRepo,
		userRepo:    userRepo,
		logger:      logger,
	}
}

// SaveReceipts はテープから取得したエントリを取り込み、
// 新規保存件数と合計金額を返す。
// エントリごとにペイロードをデコードしてフィスカルトリプルを抽出し、
// 既知のトリプルはスキップする。個別エントリの失敗はログに記録して
// 次のエントリへ進み、バッチ全体は中断しない。
func (s *IngestService) SaveReceipts(ctx context.Context, entries []fdo.ReceiptEntry) (SaveResult, error) {
	result := EmptySaveResult()

	for _, entry := range entries {
		saved, sum, err := s.saveOne(ctx, entry)
		if err != nil {
			s.logger.Error("レシートの保存に失敗",
				"user_identifier", entry.UserIdentifier,
				"error", err,
			)
			continue
		}
		if saved {
			result.SavedCount++
			result.TotalSum = result.TotalSum.Add(sum)
		}
	}

	s.logger.Info("レシート取り込み完了",
		"saved", result.SavedCount,
		"total_entries", len(entries),
		"total_sum", result.TotalSum.String(),
	)
	return result, nil
}

// saveOne は1エントリを取り込む。重複はskip(false)として返す。
func (s *IngestService) saveOne(ctx context.Context, entry fdo.ReceiptEntry) (bool, decimal.Decimal, error) {
	var payload receiptPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return false, decimal.Zero, fmt.Errorf("ペイロードのデコードに失敗: %w", err)
	}

	triple := model.FiscalTriple{
		FiscalSign:           payload.FiscalSign,
		FiscalDocumentNumber: payload.FiscalDocumentNumber,
		FiscalDriveNumber:    payload.FiscalDriveNumber,
	}

	exists, err := s.receiptRepo.ExistsByFiscalTriple(ctx, triple)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("重複チェックに失敗: %w", err)
	}
	if exists {
		s.logger.Debug("レシートは既に存在する",
			"fiscal_sign", triple.FiscalSign,
			"fiscal_document_number", triple.FiscalDocumentNumber,
			"fiscal_drive_number", triple.FiscalDriveNumber,
		)
		return false, decimal.Zero, nil
	}

	user, err := s.userRepo.FindOrCreateByPhone(ctx, entry.UserIdentifier, entry.Email)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("ユーザーの解決に失敗: %w", err)
	}

	receiveDate, err := parseReceiveDate(entry.ReceiveDate)
	if err != nil {
		return false, decimal.Zero, err
	}

	totalSum := decimal.NewFromInt(payload.TotalSum).DivRound(kopeksInRuble, 2)

	now := time.Now().UTC()
	rec := &model.Receipt{
		ID:                   uuid.New().String(),
		UserID:               user.ID,
		UserIdentifier:       entry.UserIdentifier,
		Phone:                entry.Phone,
		Email:                entry.Email,
		FiscalSign:           payload.FiscalSign,
		FiscalDocumentNumber: payload.FiscalDocumentNumber,
		FiscalDriveNumber:    payload.FiscalDriveNumber,
		ReceiptDateTime:      time.Unix(payload.DateTime, 0).UTC(),
		ReceiveDate:          receiveDate,
		TotalSum:             totalSum,
		SourceCode:           entry.SourceCode,
		OperationType:        payload.OperationType,
		RetailPlace:          payload.RetailPlace,
		RawJSON:              string(entry.Payload),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.receiptRepo.Create(ctx, rec); err != nil {
		// 並行する同期との挿入競合は既存扱いでスキップする
		if errors.Is(err, repository.ErrDuplicateReceipt) {
			return false, decimal.Zero, nil
		}
		return false, decimal.Zero, fmt.Errorf("レシートの挿入に失敗: %w", err)
	}

	s.logger.Info("レシートを保存",
		"fiscal_sign", payload.FiscalSign,
		"phone", user.PhoneNumber,
		"sum", totalSum.String(),
	)
	return true, totalSum, nil
}

// SyncForPhone は指定ユーザー宛のエントリだけを抽出して取り込む。
// テープは複数ユーザーのエントリが多重化されているため、
// UserIdentifierまたはPhoneの一致で絞り込む。
func (s *IngestService) SyncForPhone(ctx context.Context, phone string, entries []fdo.ReceiptEntry) (SaveResult, error) {
	filtered := FilterForPhone(phone, entries)
	if len(filtered) == 0 {
		s.logger.Info("新しいレシートなし", "phone", phone)
		return EmptySaveResult(), nil
	}
	return s.SaveReceipts(ctx, filtered)
}

// FilterForPhone はUserIdentifierまたはPhoneが一致するエントリのみを返す。
func FilterForPhone(phone string, entries []fdo.ReceiptEntry) []fdo.ReceiptEntry {
	var filtered []fdo.ReceiptEntry
	for _, entry := range entries {
		if entry.UserIdentifier == phone || entry.Phone == phone {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// parseReceiveDate はプラットフォームの観測日時をパースする。
// RFC3339とタイムゾーンなしの両形式を受け付ける。未提供の場合はnilを返す。
func parseReceiveDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return &t, nil
	}
	t, err = time.Parse("2006-01-02T15:04:05", raw)
	if err != nil {
		return nil, fmt.Errorf("受信日時のパースに失敗: %w", err)
	}
	return &t, nil
}
