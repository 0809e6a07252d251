package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/mailer"
	gormrepo "github.com/sekKerfBang/agriBusiness/internal/infra/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailRecorder struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
	//宛先ごとに1回だけ失敗させる
	failOnce map[string]error
}

func (m *mailRecorder) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if err, ok := m.failOnce[msg.To]; ok {
		delete(m.failOnce, msg.To)
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailRecorder) to(addr string) []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mailer.Message
	for _, msg := range m.sent {
		if msg.To == addr {
			out = append(out, msg)
		}
	}
	return out
}

func newNotificationUsecase(env *testEnv, mail Mailer) *NotificationUsecase {
	return NewNotificationUsecase(
		gormrepo.NewUserGormRepository(env.db),
		gormrepo.NewOrderGormRepository(env.db),
		gormrepo.NewOrderItemGormRepository(env.db),
		gormrepo.NewProductGormRepository(env.db),
		gormrepo.NewNotificationGormRepository(env.db),
		cache.NewUnreadCounter(env.redis),
		cache.NewMarkerStore(env.redis),
		mail,
		nil,
	)
}

func notificationsOf(t *testing.T, env *testEnv, userID int64) []model.Notification {
	t.Helper()
	var out []model.Notification
	require.NoError(t, env.db.Where("user_id = ?", userID).Order("id").Find(&out).Error)
	return out
}

func TestNotification_OrderConfirmationAndProducerNotice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mail := &mailRecorder{}
	uc := newNotificationUsecase(env, mail)

	buyer := env.user(t, "buyer@example.com", model.RoleClient)
	farmA := env.user(t, "farm-a@example.com", model.RoleProducer)
	farmB := env.user(t, "farm-b@example.com", model.RoleProducer)
	a := env.product(t, farmA.ID, "Tomates", "4.00", "5")
	b := env.product(t, farmB.ID, "Miel", "8.00", "5")
	res := finalizedOrder(t, env, buyer.ID, map[int64]string{a.ID: "2", b.ID: "1"})

	//未読数キャッシュが捨てられることも見る
	counter := cache.NewUnreadCounter(env.redis)
	require.NoError(t, counter.Set(ctx, buyer.ID, 3))

	for _, job := range env.jobs.byKind(model.JobOrderConfirmation) {
		require.NoError(t, uc.SendOrderConfirmation(ctx, job))
	}
	for _, job := range env.jobs.byKind(model.JobNewOrderForProducer) {
		require.NoError(t, uc.NotifyProducerNewOrder(ctx, job))
	}

	confirm := mail.to("buyer@example.com")
	require.Len(t, confirm, 1)
	assert.Contains(t, confirm[0].Subject, res.Order.OrderNumber)
	assert.Contains(t, confirm[0].Body, "Tomates")
	assert.Contains(t, confirm[0].Body, "Miel")

	farmMail := mail.to("farm-a@example.com")
	require.Len(t, farmMail, 1)
	assert.Contains(t, farmMail[0].Body, "Tomates")
	assert.NotContains(t, farmMail[0].Body, "Miel")

	ns := notificationsOf(t, env, buyer.ID)
	require.Len(t, ns, 1)
	assert.Equal(t, model.NotificationPaymentSuccess, ns[0].Type)
	require.NotNil(t, ns[0].RelatedOrderID)
	assert.Equal(t, res.Order.ID, *ns[0].RelatedOrderID)

	_, err := counter.Get(ctx, buyer.ID)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestNotification_MissingTargetsAreNotRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mail := &mailRecorder{}
	uc := newNotificationUsecase(env, mail)

	assert.NoError(t, uc.SendOrderConfirmation(ctx, model.NotificationJob{Kind: model.JobOrderConfirmation, OrderID: 404}))
	assert.NoError(t, uc.SendPaymentFailed(ctx, model.NotificationJob{Kind: model.JobPaymentFailed, UserID: 404}))
	assert.Empty(t, mail.sent)
}

func TestNotification_MailFailureIsReturned(t *testing.T) {
	env := newTestEnv(t)
	mail := &mailRecorder{err: errors.New("smtp timeout")}
	uc := newNotificationUsecase(env, mail)
	buyer := env.user(t, "buyer@example.com", model.RoleClient)

	err := uc.SendPaymentFailed(context.Background(), model.NotificationJob{
		Kind:    model.JobPaymentFailed,
		UserID:  buyer.ID,
		Payload: map[string]string{"reason": "Your card was declined."},
	})
	assert.ErrorContains(t, err, "smtp timeout")

	ns := notificationsOf(t, env, buyer.ID)
	require.Len(t, ns, 1)
	assert.Contains(t, ns[0].Message, "Your card was declined.")
}

func TestNotification_LowStockAlert(t *testing.T) {
	env := newTestEnv(t)
	mail := &mailRecorder{}
	uc := newNotificationUsecase(env, mail)
	farm := env.user(t, "farm@example.com", model.RoleProducer)
	a := env.product(t, farm.ID, "Tomates", "4.00", "3")
	b := env.product(t, farm.ID, "Courgettes", "2.00", "2")

	require.NoError(t, uc.SendLowStockAlert(context.Background(), model.NotificationJob{
		Kind: model.JobLowStockAlert, UserID: farm.ID, ProductIDs: []int64{a.ID, b.ID},
	}))

	sent := mail.to("farm@example.com")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "Tomates: 3 kg left")
	assert.Contains(t, sent[0].Body, "Courgettes: 2 kg left")

	ns := notificationsOf(t, env, farm.ID)
	require.Len(t, ns, 1)
	assert.Equal(t, model.NotificationLowStock, ns[0].Type)
	assert.Nil(t, ns[0].RelatedProductID)
}

func TestNotification_OrderStatusUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mail := &mailRecorder{}
	uc := newNotificationUsecase(env, mail)
	buyer := env.user(t, "buyer@example.com", model.RoleClient)
	a := env.product(t, 10, "Tomates", "4.00", "5")
	res := finalizedOrder(t, env, buyer.ID, map[int64]string{a.ID: "1"})

	_, err := env.statuses.Transition(ctx, 900, res.Order.ID, TransitionInput{Status: "PREPARING"})
	require.NoError(t, err)
	_, err = env.statuses.Transition(ctx, 900, res.Order.ID, TransitionInput{Status: "SHIPPED", TrackingNumber: "COLIS-42"})
	require.NoError(t, err)

	for _, job := range env.jobs.byKind(model.JobOrderStatusUpdate) {
		require.NoError(t, uc.SendOrderStatusUpdate(ctx, job))
	}
	sent := mail.to("buyer@example.com")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Body, "is now SHIPPED")
	assert.Contains(t, sent[1].Body, "COLIS-42")
}

func TestNotification_BulkSkipsInactiveAndHonoursEmailOnly(t *testing.T) {
	env := newTestEnv(t)
	mail := &mailRecorder{}
	uc := newNotificationUsecase(env, mail)
	u1 := env.user(t, "one@example.com", model.RoleClient)
	u2 := env.user(t, "two@example.com", model.RoleClient)
	gone := env.user(t, "gone@example.com", model.RoleClient)
	require.NoError(t, env.db.Model(&gone).Update("is_active", false).Error)

	job := model.NotificationJob{
		Kind: model.JobBulkNotification,
		Payload: map[string]string{
			"subject":  "Marché de printemps",
			"message":  "Les fraises arrivent.",
			"user_ids": joinIDs(u1.ID, u2.ID, gone.ID, u1.ID),
		},
	}
	require.NoError(t, uc.SendBulkNotification(context.Background(), job))
	assert.Len(t, mail.sent, 2)
	assert.Len(t, notificationsOf(t, env, u1.ID), 1)
	assert.Empty(t, notificationsOf(t, env, gone.ID))

	job.Payload["notify"] = "email"
	job.Payload["user_ids"] = joinIDs(u2.ID)
	require.NoError(t, uc.SendBulkNotification(context.Background(), job))
	assert.Len(t, mail.to("two@example.com"), 2)
	assert.Len(t, notificationsOf(t, env, u2.ID), 1)

	job.Payload["user_ids"] = "1,abc"
	assert.Error(t, uc.SendBulkNotification(context.Background(), job))
}

func joinIDs(ids ...int64) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprint(id)
	}
	return out
}

// メール失敗で再試行されてもアプリ内通知は1件
func TestNotification_RetryAfterMailFailureDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mail := &mailRecorder{failOnce: map[string]error{"buyer@example.com": errors.New("smtp 421")}}
	uc := newNotificationUsecase(env, mail)
	buyer := env.user(t, "buyer@example.com", model.RoleClient)
	a := env.product(t, 10, "Tomates", "4.00", "5")
	finalizedOrder(t, env, buyer.ID, map[int64]string{a.ID: "1"})

	jobs := env.jobs.byKind(model.JobOrderConfirmation)
	require.Len(t, jobs, 1)
	job := jobs[0]
	job.ID = "job-confirm-1"

	assert.ErrorContains(t, uc.SendOrderConfirmation(ctx, job), "smtp 421")
	job.Attempt++
	require.NoError(t, uc.SendOrderConfirmation(ctx, job))

	assert.Len(t, notificationsOf(t, env, buyer.ID), 1)
	assert.Len(t, mail.to("buyer@example.com"), 1)

	//別ジョブなら別の通知
	job.ID = "job-confirm-2"
	require.NoError(t, uc.SendOrderConfirmation(ctx, job))
	assert.Len(t, notificationsOf(t, env, buyer.ID), 2)
}

// 一部の宛先だけ失敗したら、再試行ではその宛先にだけ送る
func TestNotification_BulkRetryResendsOnlyFailedRecipients(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.user(t, "one@example.com", model.RoleClient)
	u2 := env.user(t, "two@example.com", model.RoleClient)
	mail := &mailRecorder{failOnce: map[string]error{"two@example.com": errors.New("mailbox busy")}}
	uc := newNotificationUsecase(env, mail)

	job := model.NotificationJob{
		ID:   "job-bulk-1",
		Kind: model.JobBulkNotification,
		Payload: map[string]string{
			"subject":  "Marché de printemps",
			"message":  "Les fraises arrivent.",
			"user_ids": joinIDs(u1.ID, u2.ID),
		},
	}
	assert.ErrorContains(t, uc.SendBulkNotification(ctx, job), "mailbox busy")
	job.Attempt++
	require.NoError(t, uc.SendBulkNotification(ctx, job))

	assert.Len(t, mail.to("one@example.com"), 1)
	assert.Len(t, mail.to("two@example.com"), 1)
	assert.Len(t, notificationsOf(t, env, u1.ID), 1)
	assert.Len(t, notificationsOf(t, env, u2.ID), 1)
	assert.True(t, env.mr.Exists(cache.BulkDeliveryKey(job.ID, u2.ID)))
}
