package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"go.uber.org/zap"
)

// 注文ステータスの変更（管理者の遷移・キャンセル・返金）
type OrderStatusUsecase struct {
	tx      repo.TransactionManager
	orders  repo.OrderRepository
	gateway PaymentGateway
	jobs    Enqueuer
	log     *zap.Logger
	now     func() time.Time
}

func NewOrderStatusUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	gateway PaymentGateway,
	jobs Enqueuer,
	log *zap.Logger,
) *OrderStatusUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderStatusUsecase{tx: tx, orders: orders, gateway: gateway, jobs: jobs, log: log, now: time.Now}
}

type TransitionInput struct {
	Status         string
	TrackingNumber string
}

// 管理者によるステータス変更。CANCELLED と REFUNDED は専用処理へ回す
func (u *OrderStatusUsecase) Transition(ctx context.Context, actorAdminUserID int64, orderID int64, in TransitionInput) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	to, ok := model.ParseOrderStatus(in.Status)
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	switch to {
	case model.OrderStatusCancelled:
		return u.Cancel(ctx, actorAdminUserID, orderID, true)
	case model.OrderStatusRefunded:
		return u.Refund(ctx, actorAdminUserID, orderID)
	}

	var (
		out     OrderOutput
		changed bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return errDB
		}

		// すでに同じなら何もしない
		if o.Status == to {
			out, err = loadOrderOutput(ctx, r, o)
			return err
		}
		if !o.Status.CanTransitionTo(to) {
			return ErrInvalidTransition
		}

		before := o.Status
		if err := r.Orders().UpdateStatus(ctx, orderID, before, to); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusConflict, "order status changed concurrently")
			}
			return errDB
		}
		o.Status = to
		if to == model.OrderStatusShipped && in.TrackingNumber != "" {
			if err := r.Orders().UpdateShipment(ctx, orderID, in.TrackingNumber); err != nil {
				return errDB
			}
			o.TrackingNumber = in.TrackingNumber
		}

		if err := u.audit(ctx, r, actorAdminUserID, model.AuditActionUpdateOrderStatus, orderID, before, to); err != nil {
			return err
		}
		changed = true
		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if changed {
		u.notifyStatus(ctx, out.UserID, out.ID, to)
	}
	return out, nil
}

// PENDING/CONFIRMED のみ。在庫戻しとステータス変更は同じトランザクション
func (u *OrderStatusUsecase) Cancel(ctx context.Context, actorUserID int64, orderID int64, asAdmin bool) (OrderOutput, error) {
	if actorUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return errDB
		}
		if !asAdmin && o.UserID != actorUserID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if !o.CanBeCancelled() {
			return ErrInvalidTransition
		}

		before := o.Status
		if err := r.Orders().UpdateStatus(ctx, orderID, before, model.OrderStatusCancelled); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusConflict, "order status changed concurrently")
			}
			return errDB
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errDB
		}
		for _, it := range items {
			if err := r.Stock().Increase(ctx, it.ProductID, it.Quantity); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return errDB
			}
			if err := r.Stock().RecordMovement(ctx, model.StockMovement{
				ProductID: it.ProductID,
				OrderID:   orderID,
				Delta:     it.Quantity,
				Reason:    model.StockReasonOrderCancelled,
			}); err != nil {
				return errDB
			}
		}

		if err := u.audit(ctx, r, actorUserID, model.AuditActionCancelOrder, orderID, before, model.OrderStatusCancelled); err != nil {
			return err
		}
		o.Status = model.OrderStatusCancelled
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}

	u.notifyStatus(ctx, out.UserID, out.ID, model.OrderStatusCancelled)
	return out, nil
}

// ゲートウェイで返金してから REFUNDED にする
func (u *OrderStatusUsecase) Refund(ctx context.Context, actorAdminUserID int64, orderID int64) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return OrderOutput{}, errDB
	}
	if !o.Status.CanTransitionTo(model.OrderStatusRefunded) {
		return OrderOutput{}, ErrInvalidTransition
	}
	if o.PaymentIntentID == nil {
		return OrderOutput{}, NewHTTPError(http.StatusConflict, "order has no payment")
	}

	log := logger.FromContext(ctx, u.log).With(zap.Int64("order_id", orderID))
	refund, err := u.gateway.CreateRefund(ctx, *o.PaymentIntentID)
	if err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) {
			log.Warn("refund rejected by gateway", zap.Error(err))
			return OrderOutput{}, NewHTTPError(http.StatusBadGateway, fmt.Sprintf("refund rejected: %s", apiErr.Message))
		}
		log.Error("refund failed", zap.Error(err))
		return OrderOutput{}, ErrPaymentGatewayUnavailable
	}
	log.Info("refund created", zap.String("refund_id", refund.ID))

	out, changed, err := u.markRefunded(ctx, o.ID, actorAdminUserID)
	if err != nil {
		return OrderOutput{}, err
	}
	if changed {
		u.notifyStatus(ctx, out.UserID, out.ID, model.OrderStatusRefunded)
	}
	return out, nil
}

// Webhook（charge.refunded）側の反映。何度呼ばれても結果は同じ。
// 対象外（注文なし・返金済み・返金できない状態）は false
func (u *OrderStatusUsecase) MarkRefunded(ctx context.Context, paymentIntentID string) (bool, error) {
	o, err := u.orders.FindByPaymentIntentID(ctx, paymentIntentID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errDB
	}
	if !o.Status.CanTransitionTo(model.OrderStatusRefunded) {
		return false, nil
	}

	out, changed, err := u.markRefunded(ctx, o.ID, 0)
	if err != nil {
		return false, err
	}
	if changed {
		u.notifyStatus(ctx, out.UserID, out.ID, model.OrderStatusRefunded)
	}
	return changed, nil
}

func (u *OrderStatusUsecase) markRefunded(ctx context.Context, orderID int64, actorID int64) (OrderOutput, bool, error) {
	var (
		out     OrderOutput
		changed bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return errDB
		}
		if o.Status == model.OrderStatusRefunded {
			out, err = loadOrderOutput(ctx, r, o)
			return err
		}
		if !o.Status.CanTransitionTo(model.OrderStatusRefunded) {
			return ErrInvalidTransition
		}

		before := o.Status
		if err := r.Orders().UpdateStatus(ctx, orderID, before, model.OrderStatusRefunded); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusConflict, "order status changed concurrently")
			}
			return errDB
		}
		if err := r.Orders().UpdatePaymentStatus(ctx, orderID, model.PaymentStatusRefunded); err != nil {
			return errDB
		}
		if err := u.audit(ctx, r, actorID, model.AuditActionRefundOrder, orderID, before, model.OrderStatusRefunded); err != nil {
			return err
		}

		o.Status = model.OrderStatusRefunded
		o.PaymentStatus = model.PaymentStatusRefunded
		changed = true
		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	return out, changed, err
}

func (u *OrderStatusUsecase) audit(ctx context.Context, r repo.TxRepos, actorID int64, action model.AuditAction, orderID int64, before, after model.OrderStatus) error {
	beforeJSON := `{"status":"` + string(before) + `"}`
	afterJSON := `{"status":"` + string(after) + `"}`
	if err := r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
		BeforeJSON:   beforeJSON,
		AfterJSON:    afterJSON,
		CreatedAt:    u.now(),
	}); err != nil {
		return errDB
	}
	return nil
}

// 購入者への通知。失敗してもステータス変更は戻さない
func (u *OrderStatusUsecase) notifyStatus(ctx context.Context, userID int64, orderID int64, status model.OrderStatus) {
	job := model.NotificationJob{
		Kind:    model.JobOrderStatusUpdate,
		UserID:  userID,
		OrderID: orderID,
		Payload: map[string]string{"status": string(status)},
	}
	if err := u.jobs.Enqueue(ctx, job); err != nil {
		logger.FromContext(ctx, u.log).Error("enqueue job failed",
			zap.String("kind", string(job.Kind)),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
}

func loadOrderOutput(ctx context.Context, r repo.TxRepos, o model.Order) (OrderOutput, error) {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, errDB
	}
	return toOrderOutput(o, items), nil
}
