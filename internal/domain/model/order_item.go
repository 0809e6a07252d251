package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 注文明細。単価は注文時点のスナップショット
type OrderItem struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64           `gorm:"not null;uniqueIndex:idx_order_items_order_product" json:"order_id"`
	ProductID   int64           `gorm:"not null;uniqueIndex:idx_order_items_order_product;index" json:"product_id"`
	ProductName string          `gorm:"type:varchar(255);not null" json:"product_name"`
	Quantity    decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	Subtotal    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	CreatedAt   time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}

// 保存のたびに小計を計算し直す
func (it *OrderItem) BeforeSave(tx *gorm.DB) error {
	it.Subtotal = LineSubtotal(it.Quantity, it.UnitPrice)
	return nil
}
