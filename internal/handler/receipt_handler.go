package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/receiptman/internal/model"
)

// ReceiptLister はレシート一覧取得のインターフェース。
type ReceiptLister interface {
	// ListByPhone は指定ユーザーのレシートを新しい順で返す。
	ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Receipt, error)
}

// PhoneSyncer はユーザー単位の即時同期インターフェース。
type PhoneSyncer interface {
	// SyncPhone は1ユーザー分のレシートテープを1ページ取り込み、
	// 新規保存件数を返す。
	SyncPhone(ctx context.Context, phone string) (int, error)
}

// ReceiptHandler はレシート同期・一覧取得のHTTPハンドラー。
type ReceiptHandler struct {
	lister ReceiptLister
	syncer PhoneSyncer
}

// NewReceiptHandler はReceiptHandlerを生成する。
func NewReceiptHandler(lister ReceiptLister, syncer PhoneSyncer) *ReceiptHandler {
	return &ReceiptHandler{
		lister: lister,
		syncer: syncer,
	}
}

// syncRequest は即時同期リクエストのボディ。
type syncRequest struct {
	Phone string `json:"phone"`
}

// syncResponse は即時同期の応答。
type syncResponse struct {
	Ingested int `json:"ingested"`
}

// receiptResponse はレシート1件のAPIレスポンス。
type receiptResponse struct {
	ID                   string `json:"id"`
	FiscalSign           int64  `json:"fiscalSign"`
	FiscalDocumentNumber int64  `json:"fiscalDocumentNumber"`
	FiscalDriveNumber    string `json:"fiscalDriveNumber"`
	ReceiptDateTime      string `json:"receiptDateTime"`
	TotalSum             string `json:"totalSum"`
	OperationType        int    `json:"operationType"`
	RetailPlace          string `json:"retailPlace,omitempty"`
	SourceCode           string `json:"sourceCode,omitempty"`
}

// receiptListResponse はレシート一覧の応答。
type receiptListResponse struct {
	Receipts []receiptResponse `json:"receipts"`
}

// SyncNow は指定ユーザーの即時同期を実行する。
// POST /api/sync
//
// 定期同期とは独立にテープを1ページ取り込み、新規保存件数を返す。
func (h *ReceiptHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if !phonePattern.MatchString(req.Phone) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhoneError(req.Phone))
		return
	}

	ingested, err := h.syncer.SyncPhone(r.Context(), req.Phone)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(syncResponse{Ingested: ingested})
}

// ListReceipts は指定ユーザーの取り込み済みレシートを一覧する。
// GET /api/receipts?phone=&limit=
func (h *ReceiptHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if !phonePattern.MatchString(phone) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhoneError(phone))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitの形式が不正です。",
				Category: "validation",
				Action:   "limitは0以上の整数で指定してください。",
			})
			return
		}
		limit = parsed
	}

	receipts, err := h.lister.ListByPhone(r.Context(), phone, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := receiptListResponse{Receipts: make([]receiptResponse, 0, len(receipts))}
	for _, receipt := range receipts {
		resp.Receipts = append(resp.Receipts, toReceiptResponse(receipt))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toReceiptResponse はmodel.ReceiptからAPIレスポンスに変換する。
func toReceiptResponse(receipt *model.Receipt) receiptResponse {
	return receiptResponse{
		ID:                   receipt.ID,
		FiscalSign:           receipt.FiscalSign,
		FiscalDocumentNumber: receipt.FiscalDocumentNumber,
		FiscalDriveNumber:    receipt.FiscalDriveNumber,
		ReceiptDateTime:      receipt.ReceiptDateTime.Format(time.RFC3339),
		TotalSum:             receipt.TotalSum.StringFixed(2),
		OperationType:        receipt.OperationType,
		RetailPlace:          receipt.RetailPlace,
		SourceCode:           receipt.SourceCode,
	}
}
