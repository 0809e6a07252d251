package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 在庫が少ないとみなす境界
var LowStockLevel = decimal.NewFromInt(10)

type StockStatus string

const (
	StockOutOfStock StockStatus = "out_of_stock"
	StockLow        StockStatus = "low"
	StockAvailable  StockStatus = "available"
)

// Stock が在庫台帳のカウンタ。更新は StockRepository 経由のみ
type Product struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProducerID      int64           `gorm:"not null;index" json:"producer_id"`
	Name            string          `gorm:"type:varchar(255);not null" json:"name"`
	Unit            string          `gorm:"type:varchar(20);not null;default:'kg'" json:"unit"`
	Price           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock           decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"stock"`
	IsActive        bool            `gorm:"not null;default:true;index" json:"is_active"`
	AutoDeactivate  bool            `gorm:"not null;default:true" json:"auto_deactivate"`
	LastStockUpdate time.Time       `gorm:"not null;index" json:"last_stock_update"`
	CreatedAt       time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p Product) StockStatus() StockStatus {
	switch {
	case !p.Stock.IsPositive():
		return StockOutOfStock
	case p.Stock.LessThan(LowStockLevel):
		return StockLow
	default:
		return StockAvailable
	}
}

// 購入可能か（公開中かつ在庫あり）
func (p Product) IsPurchasable() bool {
	return p.IsActive && p.Stock.IsPositive()
}
