package receipt

import (
	"context"

	"github.com/hitoshi/receiptman/internal/model"
	"github.com/hitoshi/receiptman/internal/repository"
)

// defaultListLimit はレシート一覧取得の既定上限。
const defaultListLimit = 100

// QueryService はレシート参照系のサービス。
type QueryService struct {
	receiptRepo repository.ReceiptRepository
	userRepo    repository.UserRepository
}

// NewQueryService はQueryServiceの新しいインスタンスを生成する。
func NewQueryService(
	receiptRepo repository.ReceiptRepository,
	userRepo repository.UserRepository,
) *QueryService {
	return &QueryService{
		receiptRepo: receiptRepo,
		userRepo:    userRepo,
	}
}

// ListByPhone は電話番号に紐づくユーザーのレシートを新しい順で返す。
// ユーザーが未登録の場合はUserNotFoundエラーを返す。
func (s *QueryService) ListByPhone(ctx context.Context, phone string, limit int) ([]*model.Receipt, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	user, err := s.userRepo.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(phone)
	}

	return s.receiptRepo.ListByUserID(ctx, user.ID, limit)
}
