package repository

import (
	"context"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 在庫台帳。減算は必ず原子的に行う
type StockRepository interface {
	Available(ctx context.Context, productID int64) (decimal.Decimal, error)

	// 在庫が足りるときだけ減らす
	DecreaseIfEnough(ctx context.Context, productID int64, qty decimal.Decimal) (bool, error)

	// 足りなければ在庫分まで減らし、実際に減らした量を返す
	DecreaseUpTo(ctx context.Context, productID int64, qty decimal.Decimal) (decimal.Decimal, error)

	// 在庫戻し（キャンセル）
	Increase(ctx context.Context, productID int64, qty decimal.Decimal) error

	RecordMovement(ctx context.Context, m model.StockMovement) error
}
