package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockMovementReason string

const (
	StockReasonOrderFinalized StockMovementReason = "order_finalized"
	StockReasonOrderCancelled StockMovementReason = "order_cancelled"
	StockReasonAdjustment     StockMovementReason = "adjustment"
)

// 在庫台帳の変動履歴（減算はマイナス）
type StockMovement struct {
	ID        int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64               `gorm:"not null;index" json:"product_id"`
	OrderID   int64               `gorm:"not null;index" json:"order_id"` // 手動調整は0
	Delta     decimal.Decimal     `gorm:"type:numeric(12,3);not null" json:"delta"`
	Reason    StockMovementReason `gorm:"type:varchar(50);not null" json:"reason"`
	CreatedAt time.Time           `gorm:"not null;autoCreateTime" json:"created_at"`
}
