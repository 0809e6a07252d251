package repository

import (
	"context"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 同時減算に負けたときの読み直し回数
const maxDecreaseAttempts = 3

// 在庫台帳（products.stock）
type StockGormRepository struct {
	db *gorm.DB
}

func NewStockGormRepository(db *gorm.DB) *StockGormRepository {
	return &StockGormRepository{db: db}
}

// 行ロックを取って現在庫を読む
func (r *StockGormRepository) Available(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var p model.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "stock").
		Where("id = ?", productID).
		First(&p).Error
	if isNotFound(err) {
		return decimal.Zero, repo.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return p.Stock, nil
}

// 在庫が足りるときだけ減らす
func (r *StockGormRepository) DecreaseIfEnough(ctx context.Context, productID int64, qty decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		Updates(map[string]interface{}{
			"stock":             gorm.Expr("stock - ?", qty),
			"last_stock_update": time.Now().UTC(),
		})

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// 足りない分は切り詰めて減らす。減らせた量を返す
func (r *StockGormRepository) DecreaseUpTo(ctx context.Context, productID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, nil
	}

	for i := 0; i < maxDecreaseAttempts; i++ {
		available, err := r.Available(ctx, productID)
		if err != nil {
			return decimal.Zero, err
		}

		take := decimal.Min(qty, available)
		if !take.IsPositive() {
			return decimal.Zero, nil
		}

		//条件付きUPDATEなので、読んだ後に減っていたら0行
		ok, err := r.DecreaseIfEnough(ctx, productID, take)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			return take, nil
		}
	}
	return decimal.Zero, nil
}

// 在庫戻し（キャンセル）
func (r *StockGormRepository) Increase(ctx context.Context, productID int64, qty decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{
			"stock":             gorm.Expr("stock + ?", qty),
			"last_stock_update": time.Now().UTC(),
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 変動履歴
func (r *StockGormRepository) RecordMovement(ctx context.Context, m model.StockMovement) error {
	return r.db.WithContext(ctx).Create(&m).Error
}
