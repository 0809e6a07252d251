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

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&o).Error
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}

	var items []model.Order
	offset := (page - 1) * limit
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return []model.Order{}, 0, err
	}

	return items, total, nil
}

func (r *OrderGormRepository) Create(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if isUniqueViolation(err) {
			return repo.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *OrderGormRepository) SetOrderNumber(ctx context.Context, orderID int64, number string) error {
	return r.updateColumn(ctx, orderID, "order_number", number)
}

func (r *OrderGormRepository) SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	return r.updateColumn(ctx, orderID, "total_amount", total)
}

func (r *OrderGormRepository) UpdateShipment(ctx context.Context, orderID int64, trackingNumber string) error {
	return r.updateColumn(ctx, orderID, "tracking_number", trackingNumber)
}

func (r *OrderGormRepository) UpdatePaymentStatus(ctx context.Context, orderID int64, status model.PaymentStatus) error {
	return r.updateColumn(ctx, orderID, "payment_status", status)
}

// 期待した状態のときだけ変える（取り合い対策）
func (r *OrderGormRepository) UpdateStatus(ctx context.Context, orderID int64, from model.OrderStatus, to model.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Update("status", to)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// [from, to) に作られた注文を生産者ごとに集計（キャンセル・返金は除く）
func (r *OrderGormRepository) SalesByProducer(ctx context.Context, from time.Time, to time.Time) ([]repo.ProducerSales, error) {
	type row struct {
		ProducerID int64
		OrderCount int64
		Total      decimal.Decimal
	}
	var rows []row

	err := r.db.WithContext(ctx).
		Table("order_items").
		Select("products.producer_id AS producer_id, COUNT(DISTINCT orders.id) AS order_count, COALESCE(SUM(order_items.subtotal), 0) AS total").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Joins("JOIN products ON products.id = order_items.product_id").
		Where("orders.created_at >= ? AND orders.created_at < ?", from, to).
		Where("orders.status NOT IN ?", []model.OrderStatus{model.OrderStatusCancelled, model.OrderStatusRefunded}).
		Group("products.producer_id").
		Order("products.producer_id").
		Scan(&rows).Error
	if err != nil {
		return []repo.ProducerSales{}, err
	}

	out := make([]repo.ProducerSales, 0, len(rows))
	for _, rw := range rows {
		out = append(out, repo.ProducerSales{ProducerID: rw.ProducerID, OrderCount: rw.OrderCount, Total: rw.Total})
	}
	return out, nil
}

func (r *OrderGormRepository) updateColumn(ctx context.Context, orderID int64, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update(column, value)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
