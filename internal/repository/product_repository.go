package repository

import (
	"context"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"github.com/shopspring/decimal"
)

type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
	// 生産者の公開中の商品（名前順）
	ListActiveByProducer(ctx context.Context, producerID int64) ([]model.Product, error)

	// 公開中で 0 < stock <= threshold
	ListLowStock(ctx context.Context, threshold decimal.Decimal) ([]model.Product, error)
	// 在庫0のまま cutoff より前から更新なしのものを非公開にして返す
	DeactivateDormant(ctx context.Context, cutoff time.Time) ([]model.Product, error)
}
