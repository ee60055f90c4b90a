package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/receiptman/internal/fdo"
	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/repository"
)

// bindRequestTTL は接続申請の承認期限。プラットフォーム側の申請失効に合わせる。
const bindRequestTTL = 7 * 24 * time.Hour

// phonePattern は電話番号の形式（国番号を含む数字列）。
var phonePattern = regexp.MustCompile(`^[0-9]{10,15}$`)

// BindPlatform は接続申請ハンドラーが必要とするプラットフォーム操作。
type BindPlatform interface {
	// BindUser はユーザー接続申請をプラットフォームに起票する。
	BindUser(ctx context.Context, req fdo.BindUserRequest) (*fdo.BindUserResponse, error)
	// GetBindStatus は申請の現在状態を照会する。
	GetBindStatus(ctx context.Context, requestIDs []string) (*fdo.GetBindStatusResponse, error)
	// UnbindUser はパートナー側から接続を解除する。
	UnbindUser(ctx context.Context, req fdo.UnbindUserRequest) (*fdo.UnbindUserResponse, error)
}

// PollSubmitter は承認待ちポーリングタスクの投入インターフェース。
type PollSubmitter interface {
	Submit(ctx context.Context, requestID, phone string)
}

// BindHandler は接続申請管理のHTTPハンドラー。
type BindHandler struct {
	platform    BindPlatform
	bindingRepo repository.BindingRepository
	userRepo    repository.UserRepository
	submitter   PollSubmitter

	// pollCtx はポーリングタスクの生存コンテキスト。
	// リクエストコンテキストはレスポンス送信で打ち切られるため、
	// アプリケーションのルートコンテキストを使う。
	pollCtx context.Context
}

// NewBindHandler はBindHandlerを生成する。
func NewBindHandler(platform BindPlatform, bindingRepo repository.BindingRepository, userRepo repository.UserRepository, submitter PollSubmitter, pollCtx context.Context) *BindHandler {
	return &BindHandler{
		platform:    platform,
		bindingRepo: bindingRepo,
		userRepo:    userRepo,
		submitter:   submitter,
		pollCtx:     pollCtx,
	}
}

// createBindRequest は接続申請作成リクエストのボディ。
type createBindRequest struct {
	Phone string `json:"phone"`
}

// createBindResponse は接続申請作成の応答。
type createBindResponse struct {
	RequestID string `json:"requestId"`
}

// bindStatusResponse は接続申請状態照会の応答。
type bindStatusResponse struct {
	RequestID       string `json:"requestId"`
	Result          string `json:"result"`
	ResponseTime    string `json:"responseTime,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// unbindRequest は接続解除リクエストのボディ。
type unbindRequest struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// unbindResponse は接続解除の応答。
type unbindResponse struct {
	Status string `json:"status"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// CreateBind は接続申請を作成する。
// POST /api/bind
//
// 同じ電話番号の既存記録は新しい申請で上書きされる。
// 申請の起票に成功するとバックグラウンドの承認待ちポーリングを開始する。
func (h *BindHandler) CreateBind(w http.ResponseWriter, r *http.Request) {
	var req createBindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if !phonePattern.MatchString(req.Phone) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhoneError(req.Phone))
		return
	}

	requestID := uuid.New().String()
	now := time.Now().UTC()

	binding := &model.UserBinding{
		ID:          uuid.New().String(),
		PhoneNumber: req.Phone,
		RequestID:   requestID,
		State:       model.BindingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.bindingRepo.Upsert(r.Context(), binding); err != nil {
		handleServiceError(w, err)
		return
	}

	_, err := h.platform.BindUser(r.Context(), fdo.BindUserRequest{
		RequestID:        requestID,
		UserIdentifier:   req.Phone,
		PermissionGroups: []string{"DEFAULT"},
		ExpiredAt:        now.Add(bindRequestTTL),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.submitter.Submit(h.pollCtx, requestID, req.Phone)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(createBindResponse{RequestID: requestID})
}

// GetBindStatus は接続申請の現在状態をプラットフォームに照会する。
// GET /api/bind/status?requestId=
//
// バックグラウンドのポーリングとは独立した単発照会。ローカル状態は変更しない。
func (h *BindHandler) GetBindStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "requestIdが指定されていません。",
			Category: "validation",
			Action:   "クエリパラメータrequestIdを指定してください。",
		})
		return
	}

	resp, err := h.platform.GetBindStatus(r.Context(), []string{requestID})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if len(resp.Statuses) == 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewBindingNotFoundError(requestID))
		return
	}

	status := resp.Statuses[0]
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bindStatusResponse{
		RequestID:       status.RequestID,
		Result:          status.Result,
		ResponseTime:    status.ResponseTime,
		RejectionReason: status.RejectionReason,
	})
}

// Unbind はパートナー側から接続を解除する。
// POST /api/unbind
//
// プラットフォームがIDENTIFIER_UNBOUNDを返した場合は既に解除済みと
// みなし、ローカル状態の解除のみ行う。
func (h *BindHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	var req unbindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	if !phonePattern.MatchString(req.Phone) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPhoneError(req.Phone))
		return
	}

	user, err := h.userRepo.FindByPhone(r.Context(), req.Phone)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(req.Phone))
		return
	}

	_, err = h.platform.UnbindUser(r.Context(), fdo.UnbindUserRequest{
		UserIdentifier: req.Phone,
		UnbindReason:   req.Reason,
	})
	if err != nil && !fdo.IsBusinessCode(err, fdo.CodeIdentifierUnbound) {
		handleServiceError(w, err)
		return
	}

	if err := h.userRepo.SetConnected(r.Context(), req.Phone, false); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.bindingRepo.UpdateState(r.Context(), req.Phone, model.BindingUnbound, false, false); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(unbindResponse{Status: "UNBOUND"})
}

// --- ヘルパー関数 ---

// invalidRequestError はリクエストボディ解析失敗のエラーを生成する。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層・プラットフォームから返されたエラーを
// 適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var fdoErr *fdo.Error
	if errors.As(err, &fdoErr) {
		writeAPIErrorResponse(w, mapPlatformErrorToHTTPStatus(fdoErr), &model.APIError{
			Code:     fdoErr.Code,
			Message:  fdoErr.Message,
			Category: "platform",
			Action:   platformErrorAction(fdoErr),
		})
		return
	}

	// 分類できないエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidPhone:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound, model.ErrCodeBindingNotFound:
		return http.StatusNotFound
	case model.ErrCodeUserNotBound:
		return http.StatusConflict
	case model.ErrCodeSyncFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// mapPlatformErrorToHTTPStatus はプラットフォームエラーの分類から
// HTTPステータスコードにマッピングする。
func mapPlatformErrorToHTTPStatus(fdoErr *fdo.Error) int {
	switch fdoErr.Kind {
	case fdo.KindRetryable:
		return http.StatusBadGateway
	case fdo.KindBusiness:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// platformErrorAction は分類に応じた呼び出し元向け対処方法を返す。
func platformErrorAction(fdoErr *fdo.Error) string {
	switch fdoErr.Kind {
	case fdo.KindRetryable:
		return "プラットフォームが一時的に利用できません。しばらく待ってから再度お試しください。"
	case fdo.KindBusiness:
		return "リクエスト内容と対象ユーザーの接続状態を確認してください。"
	default:
		return "管理者に連絡してください。"
	}
}
