package repository

import (
	"context"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
)

// 通知先の解決に使う
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (model.User, error)
	ListByRole(ctx context.Context, role model.Role) ([]model.User, error)
	ListActiveIDs(ctx context.Context) ([]int64, error)
}
