package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"
	"github.com/sekKerfBang/agriBusiness/internal/infra/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type DeadLetterRepoMock struct{ mock.Mock }

func (m *DeadLetterRepoMock) Create(ctx context.Context, dl model.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}

func (m *DeadLetterRepoMock) List(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.DeadLetter), args.Error(1)
}

// 書き込まれたデッドレターを記録する
func newDeadLetterRepo() (*DeadLetterRepoMock, func() []model.DeadLetter) {
	var mu sync.Mutex
	var got []model.DeadLetter
	m := &DeadLetterRepoMock{}
	m.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, args.Get(1).(model.DeadLetter))
	}).Return(nil)
	return m, func() []model.DeadLetter {
		mu.Lock()
		defer mu.Unlock()
		return append([]model.DeadLetter(nil), got...)
	}
}

func newTestDispatcher(t *testing.T, broker Broker, dl *DeadLetterRepoMock) (*Dispatcher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	d := New(broker, dl, nil, m)
	d.routes = map[model.JobKind]Route{
		model.JobOrderConfirmation: {Queue: model.QueueTransactional, MaxAttempts: 5, BaseBackoff: time.Millisecond},
		model.JobPaymentFailed:     {Queue: model.QueueTransactional, MaxAttempts: 3, BaseBackoff: time.Millisecond},
		model.JobBulkNotification:  {Queue: model.QueueBulk, MaxAttempts: 3, BaseBackoff: time.Millisecond},
	}
	d.lanes = []Lane{
		{Queue: model.QueueTransactional, Concurrency: 2},
		{Queue: model.QueueBulk, Concurrency: 1},
	}
	return d, m
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatcher_SuccessIsAckedOnce(t *testing.T) {
	broker := queue.NewMemory()
	defer broker.Close()
	dl, deadLetters := newDeadLetterRepo()
	d, m := newTestDispatcher(t, broker, dl)

	var calls int32
	got := make(chan model.NotificationJob, 1)
	d.Handle(model.JobOrderConfirmation, func(ctx context.Context, job model.NotificationJob) error {
		atomic.AddInt32(&calls, 1)
		got <- job
		return nil
	})
	runDispatcher(t, d)

	require.NoError(t, d.Enqueue(context.Background(), model.NotificationJob{Kind: model.JobOrderConfirmation, UserID: 7, OrderID: 42}))

	select {
	case job := <-got:
		assert.Equal(t, int64(42), job.OrderID)
		assert.Equal(t, model.QueueTransactional, job.Queue)
		assert.NotEmpty(t, job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Jobs.WithLabelValues("order_confirmation", "transactional", "ok")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, deadLetters())
}

func TestDispatcher_RetriesThenDeadLetters(t *testing.T) {
	broker := queue.NewMemory()
	defer broker.Close()
	dl, deadLetters := newDeadLetterRepo()
	d, m := newTestDispatcher(t, broker, dl)

	var calls int32
	d.Handle(model.JobPaymentFailed, func(ctx context.Context, job model.NotificationJob) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("smtp down")
	})
	runDispatcher(t, d)

	require.NoError(t, d.Enqueue(context.Background(), model.NotificationJob{Kind: model.JobPaymentFailed, UserID: 3}))

	require.Eventually(t, func() bool { return len(deadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	dead := deadLetters()[0]
	assert.Equal(t, model.JobPaymentFailed, dead.Kind)
	assert.Equal(t, 3, dead.Attempts)
	assert.Equal(t, "smtp down", dead.LastError)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeadLetters.WithLabelValues("payment_failed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Jobs.WithLabelValues("payment_failed", "transactional", "retry")))
}

func TestDispatcher_PanicIsRetriedLikeAnError(t *testing.T) {
	broker := queue.NewMemory()
	defer broker.Close()
	dl, deadLetters := newDeadLetterRepo()
	d, _ := newTestDispatcher(t, broker, dl)

	var calls int32
	d.Handle(model.JobOrderConfirmation, func(ctx context.Context, job model.NotificationJob) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("nil map")
		}
		return nil
	})
	runDispatcher(t, d)

	require.NoError(t, d.Enqueue(context.Background(), model.NotificationJob{Kind: model.JobOrderConfirmation}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, deadLetters())
}

func TestDispatcher_UndecodableBodyIsDeadLettered(t *testing.T) {
	broker := queue.NewMemory()
	defer broker.Close()
	dl, deadLetters := newDeadLetterRepo()
	d, _ := newTestDispatcher(t, broker, dl)
	runDispatcher(t, d)

	require.NoError(t, broker.Publish(context.Background(), "transactional", []byte("{oops"), 0))
	require.NoError(t, broker.Publish(context.Background(), "transactional", []byte(`{"id":"x","kind":"launch_rocket"}`), 0))

	require.Eventually(t, func() bool { return len(deadLetters()) == 2 }, 2*time.Second, 10*time.Millisecond)
	reasons := []string{deadLetters()[0].LastError, deadLetters()[1].LastError}
	assert.Contains(t, reasons[0]+reasons[1], "decode failed")
	assert.Contains(t, reasons[0]+reasons[1], "unknown job kind")
}

func TestDispatcher_EnqueueUnknownKind(t *testing.T) {
	dl, deadLetters := newDeadLetterRepo()
	d, _ := newTestDispatcher(t, queue.NewMemory(), dl)

	err := d.Enqueue(context.Background(), model.NotificationJob{Kind: "launch_rocket"})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Empty(t, deadLetters())
}

func TestDispatcher_EnqueueFailureIsDeadLettered(t *testing.T) {
	broker := queue.NewMemory()
	require.NoError(t, broker.Close())
	dl, deadLetters := newDeadLetterRepo()
	d, _ := newTestDispatcher(t, broker, dl)

	err := d.Enqueue(context.Background(), model.NotificationJob{Kind: model.JobOrderConfirmation, OrderID: 9})
	require.ErrorIs(t, err, queue.ErrClosed)

	require.Len(t, deadLetters(), 1)
	assert.Equal(t, model.JobOrderConfirmation, deadLetters()[0].Kind)
	assert.Contains(t, deadLetters()[0].LastError, "enqueue failed")
	assert.Contains(t, deadLetters()[0].Body, `"order_id":9`)
}

// bulk が詰まっていても transactional は待たされない
func TestDispatcher_BulkFloodDoesNotDelayTransactional(t *testing.T) {
	broker := queue.NewMemory()
	dl, _ := newDeadLetterRepo()
	d := New(broker, dl, nil, metrics.New(prometheus.NewRegistry()))

	var bulk atomic.Int32
	confirmed := make(chan time.Time, 1)
	d.Handle(model.JobBulkNotification, func(ctx context.Context, job model.NotificationJob) error {
		bulk.Add(1)
		return nil
	})
	d.Handle(model.JobOrderConfirmation, func(ctx context.Context, job model.NotificationJob) error {
		confirmed <- time.Now()
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, d.Enqueue(ctx, model.NotificationJob{Kind: model.JobBulkNotification}))
	}
	runDispatcher(t, d)

	enqueued := time.Now()
	require.NoError(t, d.Enqueue(ctx, model.NotificationJob{Kind: model.JobOrderConfirmation, OrderID: 1}))

	select {
	case at := <-confirmed:
		assert.Less(t, at.Sub(enqueued), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("order confirmation was not handled while bulk lane was flooded")
	}

	// 20/分、バースト1なので最初の1件しか通らない
	assert.Equal(t, int32(1), bulk.Load())
	assert.GreaterOrEqual(t, broker.Len(string(model.QueueBulk)), 25)
}

func TestDispatcher_BulkLaneLimiterSpacesJobs(t *testing.T) {
	broker := queue.NewMemory()
	dl, _ := newDeadLetterRepo()
	d, _ := newTestDispatcher(t, broker, dl)
	d.lanes = []Lane{{Queue: model.QueueBulk, Concurrency: 2, RatePerMinute: 600}}

	var mu sync.Mutex
	var handled []time.Time
	d.Handle(model.JobBulkNotification, func(ctx context.Context, job model.NotificationJob) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, time.Now())
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Enqueue(ctx, model.NotificationJob{Kind: model.JobBulkNotification}))
	}
	runDispatcher(t, d)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 4
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	//600/分 = 100ms 間隔。2並列でも詰めて実行されない
	assert.GreaterOrEqual(t, handled[3].Sub(handled[0]), 250*time.Millisecond)
}
