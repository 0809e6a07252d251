package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 確定処理を呼んだ経路
type FinalizeSource string

const (
	SourceCallback FinalizeSource = "callback"
	SourceWebhook  FinalizeSource = "webhook"
)

// トランザクション内で既存注文を見つけた（同時確定の負け側）
var errAlreadyFinalized = errors.New("already finalized")

type OrderUsecase struct {
	tx       repo.TransactionManager
	orders   repo.OrderRepository
	items    repo.OrderItemRepository
	gateway  PaymentGateway
	checkout CheckoutContextStore
	jobs     Enqueuer
	log      *zap.Logger
	metrics  *metrics.Metrics

	numberPrefix string
	loc          *time.Location
	now          func() time.Time
}

type OrderDeps struct {
	Tx         repo.TransactionManager
	Orders     repo.OrderRepository
	OrderItems repo.OrderItemRepository
	Gateway    PaymentGateway
	Checkout   CheckoutContextStore
	Jobs       Enqueuer
	Log        *zap.Logger
	Metrics    *metrics.Metrics

	NumberPrefix string
	Location     *time.Location
}

func NewOrderUsecase(d OrderDeps) *OrderUsecase {
	if d.NumberPrefix == "" {
		d.NumberPrefix = "AGR"
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &OrderUsecase{
		tx:           d.Tx,
		orders:       d.Orders,
		items:        d.OrderItems,
		gateway:      d.Gateway,
		checkout:     d.Checkout,
		jobs:         d.Jobs,
		log:          d.Log,
		metrics:      d.Metrics,
		numberPrefix: d.NumberPrefix,
		loc:          d.Location,
		now:          time.Now,
	}
}

type FinalizeInput struct {
	PaymentIntentID string
	// Webhook（署名で信頼済み）は 0
	CallerUserID int64
	Source       FinalizeSource
}

type OrderItemOutput struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderOutput struct {
	ID              int64               `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          int64               `json:"user_id"`
	Status          model.OrderStatus   `json:"status"`
	PaymentStatus   model.PaymentStatus `json:"payment_status"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	ShippingAddress string              `json:"shipping_address"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	Items           []OrderItemOutput   `json:"items"`
}

// 在庫不足で数量を減らした／外した明細
type Warning struct {
	Kind      string          `json:"kind"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Requested decimal.Decimal `json:"requested"`
	Fulfilled decimal.Decimal `json:"fulfilled"`
}

const WarningPartialFulfillment = "partial_fulfillment"

type FinalizeResult struct {
	Order    OrderOutput `json:"order"`
	Warnings []Warning   `json:"warnings"`
	Created  bool        `json:"created"`
}

// Finalize は決済済みの PaymentIntent から注文を1件だけ作る。
// 同じ intent で何度呼ばれても同じ注文を返す
func (u *OrderUsecase) Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error) {
	log := logger.FromContext(ctx, u.log).With(
		zap.String("payment_intent_id", in.PaymentIntentID),
		zap.String("source", string(in.Source)),
	)

	res, err := u.finalize(ctx, log, in)
	switch {
	case err != nil:
		u.metrics.Finalization(string(in.Source), ErrorCode(err))
	case res.Created:
		u.metrics.Finalization(string(in.Source), "created")
	default:
		u.metrics.Finalization(string(in.Source), "existing")
	}
	return res, err
}

func (u *OrderUsecase) finalize(ctx context.Context, log *zap.Logger, in FinalizeInput) (FinalizeResult, error) {
	intentID := strings.TrimSpace(in.PaymentIntentID)
	if intentID == "" {
		return FinalizeResult{}, NewHTTPError(http.StatusBadRequest, "invalid payment_intent")
	}

	//決済状態の確認
	intent, err := u.gateway.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, payment.ErrIntentNotFound) {
			return FinalizeResult{}, ErrPaymentNotSucceeded
		}
		log.Error("retrieve payment intent failed", zap.Error(err))
		return FinalizeResult{}, ErrPaymentGatewayUnavailable
	}
	if !intent.Succeeded() {
		return FinalizeResult{}, ErrPaymentNotSucceeded
	}

	//本人確認（Webhook は署名で確認済み）
	metaUserID, err := intent.UserID()
	if in.CallerUserID != 0 && (err != nil || metaUserID != in.CallerUserID) {
		log.Warn("payment intent does not belong to caller",
			zap.Bool("security_event", true),
			zap.Int64("caller_user_id", in.CallerUserID),
			zap.Int64("intent_user_id", metaUserID),
		)
		return FinalizeResult{}, ErrPaymentUnauthorized
	}
	if err != nil {
		return FinalizeResult{}, ErrCheckoutMismatch
	}

	//確定済みならそのまま返す
	existing, err := u.orders.FindByPaymentIntentID(ctx, intent.ID)
	if err == nil {
		return u.existingResult(ctx, existing)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return FinalizeResult{}, errDB
	}

	pc, err := u.checkout.Load(ctx, intent.ID)
	if errors.Is(err, cache.ErrCacheMiss) {
		//同時に確定した側がもう消している
		if existing, ferr := u.orders.FindByPaymentIntentID(ctx, intent.ID); ferr == nil {
			return u.existingResult(ctx, existing)
		}
		return FinalizeResult{}, ErrMissingCheckoutContext
	}
	if err != nil {
		log.Error("load checkout context failed", zap.Error(err))
		return FinalizeResult{}, NewHTTPError(http.StatusInternalServerError, "cache error")
	}
	if err := validateCheckoutContext(pc, intent, metaUserID); err != nil {
		log.Warn("checkout context mismatch", zap.Error(err))
		return FinalizeResult{}, ErrCheckoutMismatch
	}

	var (
		order     model.Order
		items     []model.OrderItem
		warnings  []Warning
		producers = map[int64][]int64{}
	)

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByPaymentIntentID(ctx, intent.ID); err == nil {
			return errAlreadyFinalized
		} else if !errors.Is(err, repo.ErrNotFound) {
			return errDB
		}

		//仮番号で作成 → 主キーが決まってから本番号
		createdAt := u.now().In(u.loc)
		piID := intent.ID
		order = model.Order{
			UserID:          pc.UserID,
			OrderNumber:     "TMP-" + uuid.NewString(),
			Status:          model.OrderStatusConfirmed,
			TotalAmount:     decimal.Zero,
			ShippingAddress: pc.ShippingAddress,
			Notes:           pc.Notes,
			PaymentIntentID: &piID,
			PaymentStatus:   model.PaymentStatusSucceeded,
			CreatedAt:       createdAt,
			UpdatedAt:       createdAt,
		}
		if err := r.Orders().Create(ctx, &order); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errAlreadyFinalized
			}
			return errDB
		}
		order.OrderNumber = model.FormatOrderNumber(u.numberPrefix, createdAt, order.ID)
		if err := r.Orders().SetOrderNumber(ctx, order.ID, order.OrderNumber); err != nil {
			return errDB
		}

		//在庫は有る分だけ減らす
		for _, line := range pc.Lines {
			p, err := r.Products().FindByID(ctx, line.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				warnings = append(warnings, partialWarning(line, "", decimal.Zero))
				continue
			}
			if err != nil {
				return errDB
			}

			fulfilled := decimal.Zero
			if p.IsActive {
				fulfilled, err = r.Stock().DecreaseUpTo(ctx, p.ID, line.Quantity)
				if err != nil {
					return errDB
				}
			}
			if fulfilled.LessThan(line.Quantity) {
				warnings = append(warnings, partialWarning(line, p.Name, fulfilled))
			}
			if !fulfilled.IsPositive() {
				continue
			}

			items = append(items, model.OrderItem{
				OrderID:     order.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    fulfilled,
				UnitPrice:   p.Price,
				Subtotal:    model.LineSubtotal(fulfilled, p.Price),
			})
			if err := r.Stock().RecordMovement(ctx, model.StockMovement{
				ProductID: p.ID,
				OrderID:   order.ID,
				Delta:     fulfilled.Neg(),
				Reason:    model.StockReasonOrderFinalized,
			}); err != nil {
				return errDB
			}
			producers[p.ProducerID] = append(producers[p.ProducerID], p.ID)
		}

		if len(items) > 0 {
			if err := r.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
				return errDB
			}
		}
		order.TotalAmount = model.SumSubtotals(items)
		if err := r.Orders().SetTotal(ctx, order.ID, order.TotalAmount); err != nil {
			return errDB
		}

		if err := r.Carts().Clear(ctx, pc.CartID); err != nil {
			return errDB
		}
		return nil
	})

	if errors.Is(err, errAlreadyFinalized) {
		//負け側はトランザクションの外で読み直す
		existing, ferr := u.orders.FindByPaymentIntentID(ctx, intent.ID)
		if ferr != nil {
			return FinalizeResult{}, errDB
		}
		log.Info("order already finalized by concurrent call", zap.Int64("order_id", existing.ID))
		return u.existingResult(ctx, existing)
	}
	if err != nil {
		return FinalizeResult{}, err
	}

	log.Info("order finalized",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("items", len(items)),
		zap.Int("warnings", len(warnings)),
	)
	if len(items) == 0 {
		log.Warn("order finalized without fulfilled items", zap.Int64("order_id", order.ID))
	}

	//ここから先の失敗で確定は取り消さない
	if err := u.checkout.Delete(ctx, intent.ID); err != nil {
		log.Warn("delete checkout context failed", zap.Error(err))
	}
	u.enqueueAfterFinalize(ctx, log, order, producers)

	if warnings == nil {
		warnings = []Warning{}
	}
	return FinalizeResult{Order: toOrderOutput(order, items), Warnings: warnings, Created: true}, nil
}

func (u *OrderUsecase) enqueueAfterFinalize(ctx context.Context, log *zap.Logger, order model.Order, producers map[int64][]int64) {
	jobs := []model.NotificationJob{{
		Kind:    model.JobOrderConfirmation,
		UserID:  order.UserID,
		OrderID: order.ID,
	}}
	for producerID, productIDs := range producers {
		jobs = append(jobs, model.NotificationJob{
			Kind:       model.JobNewOrderForProducer,
			UserID:     producerID,
			OrderID:    order.ID,
			ProductIDs: productIDs,
		})
	}
	for _, job := range jobs {
		if err := u.jobs.Enqueue(ctx, job); err != nil {
			log.Error("enqueue job failed",
				zap.String("kind", string(job.Kind)),
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
}

func (u *OrderUsecase) existingResult(ctx context.Context, o model.Order) (FinalizeResult, error) {
	items, err := u.items.ListByOrderID(ctx, o.ID)
	if err != nil {
		return FinalizeResult{}, errDB
	}
	return FinalizeResult{Order: toOrderOutput(o, items), Warnings: []Warning{}, Created: false}, nil
}

// 決済作成時に保存した内容と PaymentIntent の突き合わせ
func validateCheckoutContext(pc model.PendingCheckoutContext, intent payment.Intent, userID int64) error {
	if pc.PaymentIntentID != intent.ID {
		return errors.New("payment intent id differs")
	}
	if pc.UserID != userID {
		return errors.New("user differs")
	}
	cartID, err := intent.CartID()
	if err != nil || cartID != pc.CartID {
		return errors.New("cart differs")
	}
	if payment.ToMinorUnits(pc.Total) != intent.Amount {
		return errors.New("amount differs: intent=" + strconv.FormatInt(intent.Amount, 10))
	}
	if len(pc.Lines) == 0 {
		return errors.New("no lines")
	}
	return nil
}

func partialWarning(line model.CheckoutLine, name string, fulfilled decimal.Decimal) Warning {
	return Warning{
		Kind:      WarningPartialFulfillment,
		ProductID: line.ProductID,
		Name:      name,
		Requested: line.Quantity,
		Fulfilled: fulfilled,
	}
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	//ページングでまずは固定で取る
	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return errDB
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return errDB
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return errDB
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return errDB
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  model.LineSubtotal(it.Quantity, it.UnitPrice),
		})
	}

	return OrderOutput{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		TrackingNumber:  o.TrackingNumber,
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
		Items:           outItems,
	}
}
