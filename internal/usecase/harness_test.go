package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/db"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"
	gormrepo "github.com/sekKerfBang/agriBusiness/internal/infra/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// =====================
// ゲートウェイのフェイク
// =====================

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	intents   map[string]payment.Intent
	refunds   []string
	createErr error
	getErr    error
	refundErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]payment.Intent{}}
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payment.Intent{}, g.createErr
	}
	g.seq++
	in := payment.Intent{
		ID:           fmt.Sprintf("pi_test_%d", g.seq),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", g.seq),
		Amount:       payment.ToMinorUnits(amount),
		Currency:     "eur",
		Status:       "requires_payment_method",
		Metadata:     metadata,
	}
	g.intents[in.ID] = in
	return in, nil
}

func (g *fakeGateway) RetrievePaymentIntent(ctx context.Context, id string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return payment.Intent{}, g.getErr
	}
	in, ok := g.intents[id]
	if !ok {
		return payment.Intent{}, payment.ErrIntentNotFound
	}
	return in, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, paymentIntentID string) (payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return payment.Refund{}, g.refundErr
	}
	g.refunds = append(g.refunds, paymentIntentID)
	return payment.Refund{ID: "re_" + paymentIntentID, PaymentIntentID: paymentIntentID, Status: "succeeded"}, nil
}

// 利用者が支払いを終えた状態にする
func (g *fakeGateway) succeed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.intents[id]
	in.Status = payment.StatusSucceeded
	g.intents[id] = in
}

func (g *fakeGateway) put(in payment.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[in.ID] = in
}

// =====================
// 投入されたジョブを記録する
// =====================

type jobRecorder struct {
	mu   sync.Mutex
	jobs []model.NotificationJob
	err  error
}

func (r *jobRecorder) Enqueue(ctx context.Context, job model.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *jobRecorder) kinds() []model.JobKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.JobKind, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Kind)
	}
	return out
}

func (r *jobRecorder) byKind(kind model.JobKind) []model.NotificationJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NotificationJob
	for _, j := range r.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

// =====================
// sqlite + miniredis で組み立てた一式
// =====================

type testEnv struct {
	db       *gorm.DB
	redis    *redis.Client
	mr       *miniredis.Miniredis
	gateway  *fakeGateway
	jobs     *jobRecorder
	checkout *cache.CheckoutStore

	carts     *CartUsecase
	start     *CheckoutUsecase
	orders    *OrderUsecase
	statuses  *OrderStatusUsecase
	stockRepo *gormrepo.StockGormRepository
}

type allowAll struct{}

func (allowAll) ValidateCheckout(StartCheckoutInput) error { return nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gdb, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		db:        gdb,
		redis:     rdb,
		mr:        mr,
		gateway:   newFakeGateway(),
		jobs:      &jobRecorder{},
		checkout:  cache.NewCheckoutStore(rdb, time.Hour),
		stockRepo: gormrepo.NewStockGormRepository(gdb),
	}

	tx := gormrepo.NewTxManagerGorm(gdb)
	orderRepo := gormrepo.NewOrderGormRepository(gdb)

	env.carts = NewCartUsecase(
		gormrepo.NewCartGormRepository(gdb),
		gormrepo.NewCartItemGormRepository(gdb),
		gormrepo.NewProductGormRepository(gdb),
	)
	env.start = NewCheckoutUsecase(env.carts, env.gateway, env.checkout, allowAll{}, nil)
	env.orders = NewOrderUsecase(OrderDeps{
		Tx:           tx,
		Orders:       orderRepo,
		OrderItems:   gormrepo.NewOrderItemGormRepository(gdb),
		Gateway:      env.gateway,
		Checkout:     env.checkout,
		Jobs:         env.jobs,
		NumberPrefix: "AGR",
		Location:     time.UTC,
	})
	env.statuses = NewOrderStatusUsecase(tx, orderRepo, env.gateway, env.jobs, nil)
	return env
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *testEnv) product(t *testing.T, producerID int64, name string, price string, stock string) model.Product {
	t.Helper()
	p := model.Product{
		ProducerID:      producerID,
		Name:            name,
		Unit:            "kg",
		Price:           dec(price),
		Stock:           dec(stock),
		IsActive:        true,
		AutoDeactivate:  true,
		LastStockUpdate: time.Now().UTC(),
	}
	require.NoError(t, e.db.Create(&p).Error)
	return p
}

func (e *testEnv) user(t *testing.T, email string, role model.Role) model.User {
	t.Helper()
	u := model.User{Email: email, Name: email, Role: role, IsActive: true}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *testEnv) setStock(t *testing.T, productID int64, stock string) {
	t.Helper()
	require.NoError(t, e.db.Model(&model.Product{}).Where("id = ?", productID).Update("stock", dec(stock)).Error)
}

func (e *testEnv) stockOf(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	s, err := e.stockRepo.Available(context.Background(), productID)
	require.NoError(t, err)
	return s
}

// カートに入れて決済開始 → 支払い完了まで進める
func (e *testEnv) paidCheckout(t *testing.T, userID int64, lines map[int64]string) StartCheckoutOutput {
	t.Helper()
	ctx := context.Background()
	for productID, qty := range lines {
		_, err := e.carts.AddItem(ctx, userID, productID, dec(qty))
		require.NoError(t, err)
	}
	out, err := e.start.StartCheckout(ctx, userID, StartCheckoutInput{ShippingAddress: "12 chemin des Vignes, 69000 Lyon"})
	require.NoError(t, err)
	e.gateway.succeed(out.PaymentIntentID)
	return out
}

func (e *testEnv) countOrders(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Order{}).Count(&n).Error)
	return n
}
