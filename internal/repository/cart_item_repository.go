package repository

import (
	"context"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"github.com/shopspring/decimal"
)

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	FindByCartAndProduct(ctx context.Context, cartID int64, productID int64) (model.CartItem, error)
	// 同一商品は数量を加算
	UpsertAdd(ctx context.Context, cartID int64, productID int64, addQty decimal.Decimal) error
	Create(ctx context.Context, item model.CartItem) (model.CartItem, error)
	UpdateQuantity(ctx context.Context, cartItemID int64, qty decimal.Decimal) error
	DeleteByID(ctx context.Context, cartItemID int64) error
}
