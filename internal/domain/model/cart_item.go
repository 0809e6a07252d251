package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// カートの明細
// 価格は持たない（小計は常に現在価格で計算）
type CartItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_product" json:"cart_id"`
	ProductID int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_product;index" json:"product_id"`
	Quantity  decimal.Decimal `gorm:"type:numeric(12,3);not null" json:"quantity"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 現在価格での小計
func (ci CartItem) Subtotal(currentPrice decimal.Decimal) decimal.Decimal {
	return LineSubtotal(ci.Quantity, currentPrice)
}
