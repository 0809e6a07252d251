package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 決済作成時点のカートの中身
type CheckoutLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// チェックアウト画面と確定処理をつなぐ一時データ（DBには保存しない）
type PendingCheckoutContext struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	UserID          int64           `json:"user_id"`
	CartID          int64           `json:"cart_id"`
	ShippingAddress string          `json:"shipping_address"`
	Notes           string          `json:"notes"`
	Lines           []CheckoutLine  `json:"lines"`
	Total           decimal.Decimal `json:"total"`
	CreatedAt       time.Time       `json:"created_at"`
}
