package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFinalize_PartialFulfillment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	env.orders.metrics = m

	a := env.product(t, 10, "Tomates", "4.00", "5")
	b := env.product(t, 20, "Fraises", "6.00", "2")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "3", b.ID: "2"})

	//支払い中に売り切れた
	env.setStock(t, b.ID, "0")

	res, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1, Source: SourceCallback})
	require.NoError(t, err)
	assert.True(t, res.Created)

	assert.True(t, env.stockOf(t, a.ID).Equal(dec("2")))
	assert.True(t, env.stockOf(t, b.ID).IsZero())

	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, a.ID, res.Order.Items[0].ProductID)
	assert.True(t, res.Order.TotalAmount.Equal(dec("12")), res.Order.TotalAmount.String())
	assert.Equal(t, model.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, model.PaymentStatusSucceeded, res.Order.PaymentStatus)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarningPartialFulfillment, res.Warnings[0].Kind)
	assert.Equal(t, b.ID, res.Warnings[0].ProductID)
	assert.True(t, res.Warnings[0].Fulfilled.IsZero())

	//カートは空、チェックアウト情報も消えている
	cart, err := env.carts.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.False(t, env.mr.Exists("checkout:"+co.PaymentIntentID))

	assert.ElementsMatch(t, []model.JobKind{model.JobOrderConfirmation, model.JobNewOrderForProducer}, env.jobs.kinds())
	producerJobs := env.jobs.byKind(model.JobNewOrderForProducer)
	require.Len(t, producerJobs, 1)
	assert.Equal(t, int64(10), producerJobs[0].UserID)
	assert.Equal(t, []int64{a.ID}, producerJobs[0].ProductIDs)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finalizations.WithLabelValues("callback", "created")))
}

func TestFinalize_TotalIsSumOfStoredSubtotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, 10, "Safran", "2.99", "5")
	b := env.product(t, 20, "Poivre", "1.15", "5")
	c := env.product(t, 20, "Thym", "3.30", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "0.333", b.ID: "1.005", c.ID: "0.125"})
	assert.Equal(t, "2.57", co.Total.StringFixed(2))

	res, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1, Source: SourceCallback})
	require.NoError(t, err)
	require.Empty(t, res.Warnings)

	var items []model.OrderItem
	require.NoError(t, env.db.Where("order_id = ?", res.Order.ID).Find(&items).Error)
	require.Len(t, items, 3)
	stored := dec("0")
	for _, it := range items {
		stored = stored.Add(it.Subtotal)
	}

	var o model.Order
	require.NoError(t, env.db.First(&o, res.Order.ID).Error)
	assert.True(t, o.TotalAmount.Equal(stored), "total=%s items=%s", o.TotalAmount, stored)
	assert.True(t, o.TotalAmount.Equal(dec("2.57")), o.TotalAmount.String())
}

func TestFinalize_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, 10, "Tomates", "4.00", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "3"})

	first, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1, Source: SourceCallback})
	require.NoError(t, err)
	second, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, Source: SourceWebhook})
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)
	require.Len(t, second.Order.Items, 1)
	assert.Equal(t, int64(1), env.countOrders(t))
	assert.True(t, env.stockOf(t, a.ID).Equal(dec("2")))
	assert.Len(t, env.jobs.byKind(model.JobOrderConfirmation), 1)
}

func TestFinalize_ConcurrentCallsCreateOneOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, 10, "Tomates", "4.00", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "3"})

	const n = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]bool{}
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1, Source: SourceCallback}
			if i%2 == 1 {
				in = FinalizeInput{PaymentIntentID: co.PaymentIntentID, Source: SourceWebhook}
			}
			res, err := env.orders.Finalize(context.Background(), in)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.Order.ID] = true
			if res.Created {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(1), env.countOrders(t))
	assert.True(t, env.stockOf(t, a.ID).Equal(dec("2")))
}

func TestFinalize_OrderNumberUsesLocalDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.orders.loc = time.FixedZone("CEST", 2*60*60)
	env.orders.now = func() time.Time { return time.Date(2025, 4, 30, 23, 30, 0, 0, time.UTC) }

	a := env.product(t, 10, "Tomates", "4.00", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "1"})

	res, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1, Source: SourceCallback})
	require.NoError(t, err)
	assert.Equal(t, "AGR-20250501-000001", res.Order.OrderNumber)

	var stored model.Order
	require.NoError(t, env.db.First(&stored, res.Order.ID).Error)
	assert.Equal(t, "AGR-20250501-000001", stored.OrderNumber)
}

func TestFinalize_RejectsOtherUsersIntent(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, 10, "Tomates", "4.00", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "1"})

	core, logs := observer.New(zap.WarnLevel)
	ctx := logger.IntoContext(context.Background(), zap.New(core))

	_, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 99, Source: SourceCallback})
	assert.ErrorIs(t, err, ErrPaymentUnauthorized)
	assert.Equal(t, int64(0), env.countOrders(t))
	assert.True(t, env.stockOf(t, a.ID).Equal(dec("5")))

	entries := logs.FilterField(zap.Bool("security_event", true)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(99), entries[0].ContextMap()["caller_user_id"])
}

func TestFinalize_DefinedFailures(t *testing.T) {
	t.Run("payment not succeeded", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.product(t, 10, "Tomates", "4.00", "5")
		_, err := env.carts.AddItem(context.Background(), 1, a.ID, dec("1"))
		require.NoError(t, err)
		co, err := env.start.StartCheckout(context.Background(), 1, StartCheckoutInput{ShippingAddress: "12 chemin des Vignes"})
		require.NoError(t, err)

		_, err = env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1})
		assert.ErrorIs(t, err, ErrPaymentNotSucceeded)
		assert.Equal(t, "payment_not_succeeded", ErrorCode(err))
	})

	t.Run("unknown intent", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: "pi_missing", CallerUserID: 1})
		assert.ErrorIs(t, err, ErrPaymentNotSucceeded)
	})

	t.Run("gateway down", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.getErr = payment.ErrGatewayUnavailable
		_, err := env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: "pi_x", CallerUserID: 1})
		assert.ErrorIs(t, err, ErrPaymentGatewayUnavailable)
	})

	t.Run("checkout context expired", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.product(t, 10, "Tomates", "4.00", "5")
		co := env.paidCheckout(t, 1, map[int64]string{a.ID: "1"})
		env.mr.FastForward(2 * time.Hour)

		_, err := env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1})
		assert.ErrorIs(t, err, ErrMissingCheckoutContext)
		assert.Equal(t, int64(0), env.countOrders(t))
	})

	t.Run("amount differs", func(t *testing.T) {
		env := newTestEnv(t)
		a := env.product(t, 10, "Tomates", "4.00", "5")
		co := env.paidCheckout(t, 1, map[int64]string{a.ID: "1"})
		in, err := env.gateway.RetrievePaymentIntent(context.Background(), co.PaymentIntentID)
		require.NoError(t, err)
		in.Amount = 1
		env.gateway.put(in)

		_, err = env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1})
		assert.ErrorIs(t, err, ErrCheckoutMismatch)
	})

	t.Run("intent without user metadata", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.put(payment.Intent{ID: "pi_anon", Status: payment.StatusSucceeded, Amount: 100})
		_, err := env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: "pi_anon", Source: SourceWebhook})
		assert.ErrorIs(t, err, ErrCheckoutMismatch)
	})
}

func TestFinalize_EnqueueFailureKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.err = errors.New("broker down")
	a := env.product(t, 10, "Tomates", "4.00", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "2"})

	res, err := env.orders.Finalize(context.Background(), FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, int64(1), env.countOrders(t))
}

func TestOrders_ListAndDetailAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, 10, "Tomates", "4.00", "5")
	co := env.paidCheckout(t, 1, map[int64]string{a.ID: "1"})
	res, err := env.orders.Finalize(ctx, FinalizeInput{PaymentIntentID: co.PaymentIntentID, CallerUserID: 1})
	require.NoError(t, err)

	list, err := env.orders.ListMyOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 1)

	list, err = env.orders.ListMyOrders(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = env.orders.GetMyOrderDetail(ctx, 2, res.Order.ID)
	he, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 404, he.Status)
}
