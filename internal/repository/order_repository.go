package repository

import (
	"context"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"github.com/shopspring/decimal"
)

// 生産者ごとの売上集計
type ProducerSales struct {
	ProducerID int64
	OrderCount int64
	Total      decimal.Decimal
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	// 行ロック付き（ステータス変更用）
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	// payment_intent_id 重複なら ErrDuplicate
	Create(ctx context.Context, order *model.Order) error
	SetOrderNumber(ctx context.Context, orderID int64, number string) error
	SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) error

	// from の状態のときだけ更新。他で変わっていたら ErrNotFound
	UpdateStatus(ctx context.Context, orderID int64, from model.OrderStatus, to model.OrderStatus) error
	UpdateShipment(ctx context.Context, orderID int64, trackingNumber string) error
	UpdatePaymentStatus(ctx context.Context, orderID int64, status model.PaymentStatus) error

	SalesByProducer(ctx context.Context, from time.Time, to time.Time) ([]ProducerSales, error)
}
