package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/mailer"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"go.uber.org/zap"
)

const bulkDeliveryTTL = 24 * time.Hour

// ジョブの処理本体（メールとアプリ内通知）。
// エラーを返すとディスパッチャが再試行する。
// 再試行でもアプリ内通知は job.ID ごとに1件、メールは最後に送る
type NotificationUsecase struct {
	users         repo.UserRepository
	orders        repo.OrderRepository
	orderItems    repo.OrderItemRepository
	products      repo.ProductRepository
	notifications repo.NotificationRepository
	unread        UnreadCounter
	markers       MarkerStore
	mail          Mailer
	log           *zap.Logger
}

func NewNotificationUsecase(
	users repo.UserRepository,
	orders repo.OrderRepository,
	orderItems repo.OrderItemRepository,
	products repo.ProductRepository,
	notifications repo.NotificationRepository,
	unread UnreadCounter,
	markers MarkerStore,
	mail Mailer,
	log *zap.Logger,
) *NotificationUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationUsecase{
		users:         users,
		orders:        orders,
		orderItems:    orderItems,
		products:      products,
		notifications: notifications,
		unread:        unread,
		markers:       markers,
		mail:          mail,
		log:           log,
	}
}

// 注文が消えていたら再試行しない
func (u *NotificationUsecase) SendOrderConfirmation(ctx context.Context, job model.NotificationJob) error {
	o, buyer, ok, err := u.orderAndUser(ctx, job.OrderID, job.UserID)
	if err != nil || !ok {
		return err
	}
	items, err := u.orderItems.ListByOrderID(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}

	if err := u.notify(ctx, job, model.Notification{
		UserID:         buyer.ID,
		Type:           model.NotificationPaymentSuccess,
		Title:          "Payment confirmed",
		Message:        fmt.Sprintf("Your order %s has been confirmed (%s).", o.OrderNumber, o.TotalAmount.StringFixed(2)),
		RelatedOrderID: &o.ID,
	}); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nThank you for your order %s.\n\n", buyer.DisplayName(), o.OrderNumber)
	writeItemLines(&b, items)
	fmt.Fprintf(&b, "\nTotal: %s\nShipping to: %s\n", o.TotalAmount.StringFixed(2), o.ShippingAddress)

	return u.send(ctx, buyer.Email, "Order confirmation "+o.OrderNumber, b.String())
}

// 生産者には自分の商品の明細だけを送る
func (u *NotificationUsecase) NotifyProducerNewOrder(ctx context.Context, job model.NotificationJob) error {
	o, producer, ok, err := u.orderAndUser(ctx, job.OrderID, job.UserID)
	if err != nil || !ok {
		return err
	}
	items, err := u.orderItems.ListByOrderID(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}

	wanted := map[int64]bool{}
	for _, id := range job.ProductIDs {
		wanted[id] = true
	}
	mine := make([]model.OrderItem, 0, len(items))
	for _, it := range items {
		if wanted[it.ProductID] {
			mine = append(mine, it)
		}
	}
	if len(mine) == 0 {
		return nil
	}

	if err := u.notify(ctx, job, model.Notification{
		UserID:         producer.ID,
		Type:           model.NotificationNewOrder,
		Title:          "New order",
		Message:        fmt.Sprintf("Order %s contains %d of your products.", o.OrderNumber, len(mine)),
		RelatedOrderID: &o.ID,
	}); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nA new order %s includes your products:\n\n", producer.DisplayName(), o.OrderNumber)
	writeItemLines(&b, mine)
	fmt.Fprintf(&b, "\nSubtotal: %s\n", model.SumSubtotals(mine).StringFixed(2))

	return u.send(ctx, producer.Email, "New order "+o.OrderNumber, b.String())
}

func (u *NotificationUsecase) SendLowStockAlert(ctx context.Context, job model.NotificationJob) error {
	producer, ok, err := u.user(ctx, job.UserID)
	if err != nil || !ok {
		return err
	}
	products, err := u.products.FindByIDs(ctx, job.ProductIDs)
	if err != nil {
		return fmt.Errorf("find products: %w", err)
	}
	if len(products) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nThe following products are running low:\n\n", producer.DisplayName())
	for _, p := range products {
		fmt.Fprintf(&b, "- %s: %s %s left\n", p.Name, p.Stock.String(), p.Unit)
	}

	n := model.Notification{
		UserID:  producer.ID,
		Type:    model.NotificationLowStock,
		Title:   "Low stock",
		Message: fmt.Sprintf("%d of your products are running low.", len(products)),
	}
	if len(products) == 1 {
		n.RelatedProductID = &products[0].ID
		n.Message = fmt.Sprintf("%s is running low (%s %s left).", products[0].Name, products[0].Stock.String(), products[0].Unit)
	}
	if err := u.notify(ctx, job, n); err != nil {
		return err
	}
	return u.send(ctx, producer.Email, "Low stock alert", b.String())
}

func (u *NotificationUsecase) SendPaymentFailed(ctx context.Context, job model.NotificationJob) error {
	buyer, ok, err := u.user(ctx, job.UserID)
	if err != nil || !ok {
		return err
	}
	reason := job.Payload["reason"]
	if reason == "" {
		reason = "the payment was declined"
	}

	if err := u.notify(ctx, job, model.Notification{
		UserID:  buyer.ID,
		Type:    model.NotificationPaymentFailed,
		Title:   "Payment failed",
		Message: "Your payment could not be completed: " + reason,
	}); err != nil {
		return err
	}
	body := fmt.Sprintf("Hello %s,\n\nYour payment could not be completed: %s.\nYour cart has been kept, you can try again.\n", buyer.DisplayName(), reason)
	return u.send(ctx, buyer.Email, "Payment failed", body)
}

func (u *NotificationUsecase) SendOrderStatusUpdate(ctx context.Context, job model.NotificationJob) error {
	o, buyer, ok, err := u.orderAndUser(ctx, job.OrderID, job.UserID)
	if err != nil || !ok {
		return err
	}
	status := job.Payload["status"]
	if status == "" {
		status = string(o.Status)
	}

	if err := u.notify(ctx, job, model.Notification{
		UserID:         buyer.ID,
		Type:           model.NotificationOrderUpdate,
		Title:          "Order update",
		Message:        fmt.Sprintf("Order %s is now %s.", o.OrderNumber, status),
		RelatedOrderID: &o.ID,
	}); err != nil {
		return err
	}

	body := fmt.Sprintf("Hello %s,\n\nYour order %s is now %s.\n", buyer.DisplayName(), o.OrderNumber, status)
	if o.TrackingNumber != "" {
		body += "Tracking number: " + o.TrackingNumber + "\n"
	}
	return u.send(ctx, buyer.Email, "Order "+o.OrderNumber+" update", body)
}

// payload: subject, message, type, user_ids（カンマ区切り）。
// notify=email のときはアプリ内通知を書かない
func (u *NotificationUsecase) SendBulkNotification(ctx context.Context, job model.NotificationJob) error {
	recipients, err := bulkRecipients(job)
	if err != nil {
		return err
	}
	subject := job.Payload["subject"]
	message := job.Payload["message"]
	typ := model.NotificationType(job.Payload["type"])
	if typ == "" {
		typ = model.NotificationInfo
	}
	emailOnly := job.Payload["notify"] == "email"

	var errs []error
	for _, id := range recipients {
		user, ok, err := u.user(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok || !user.IsActive {
			continue
		}
		//前回の試行で届いた宛先は飛ばす
		key := cache.BulkDeliveryKey(job.ID, user.ID)
		if job.ID != "" {
			done, err := u.markers.IsMarked(ctx, key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if done {
				continue
			}
		}
		if !emailOnly {
			if err := u.notify(ctx, job, model.Notification{UserID: user.ID, Type: typ, Title: subject, Message: message}); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := u.send(ctx, user.Email, subject, message); err != nil {
			errs = append(errs, err)
			continue
		}
		if job.ID != "" {
			if err := u.markers.Mark(ctx, key, bulkDeliveryTTL); err != nil {
				logger.FromContext(ctx, u.log).Warn("mark bulk delivery failed", zap.Int64("user_id", user.ID), zap.Error(err))
			}
		}
	}
	return errors.Join(errs...)
}

func bulkRecipients(job model.NotificationJob) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	add := func(id int64) {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(job.UserID)
	for _, s := range strings.Split(job.Payload["user_ids"], ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", s, err)
		}
		add(id)
	}
	return out, nil
}

// 通知を書いたら未読数キャッシュを捨てる。
// 同じジョブで書き済みなら何もしない
func (u *NotificationUsecase) notify(ctx context.Context, job model.NotificationJob, n model.Notification) error {
	if job.ID != "" {
		id := job.ID
		n.JobID = &id
	}
	_, err := u.notifications.Create(ctx, n)
	if errors.Is(err, repo.ErrDuplicate) {
		logger.FromContext(ctx, u.log).Debug("notification already written", zap.String("job_id", job.ID), zap.Int64("user_id", n.UserID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	if err := u.unread.Invalidate(ctx, n.UserID); err != nil {
		logger.FromContext(ctx, u.log).Warn("invalidate unread count failed", zap.Int64("user_id", n.UserID), zap.Error(err))
	}
	return nil
}

func (u *NotificationUsecase) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return nil
	}
	if err := u.mail.Send(ctx, mailer.Message{To: to, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// 見つからなければ ok=false（再試行しない）
func (u *NotificationUsecase) user(ctx context.Context, userID int64) (model.User, bool, error) {
	user, err := u.users.FindByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.FromContext(ctx, u.log).Warn("notification target user not found", zap.Int64("user_id", userID))
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("find user: %w", err)
	}
	return user, true, nil
}

func (u *NotificationUsecase) orderAndUser(ctx context.Context, orderID int64, userID int64) (model.Order, model.User, bool, error) {
	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.FromContext(ctx, u.log).Warn("notification order not found", zap.Int64("order_id", orderID))
		return model.Order{}, model.User{}, false, nil
	}
	if err != nil {
		return model.Order{}, model.User{}, false, fmt.Errorf("find order: %w", err)
	}
	if userID == 0 {
		userID = o.UserID
	}
	user, ok, err := u.user(ctx, userID)
	return o, user, ok, err
}

func writeItemLines(b *strings.Builder, items []model.OrderItem) {
	for _, it := range items {
		fmt.Fprintf(b, "- %s x %s @ %s = %s\n",
			it.ProductName, it.Quantity.String(), it.UnitPrice.StringFixed(2), model.LineSubtotal(it.Quantity, it.UnitPrice).StringFixed(2))
	}
}
