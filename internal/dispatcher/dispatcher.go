package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"
	"github.com/sekKerfBang/agriBusiness/internal/infra/queue"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrUnknownKind = errors.New("unknown job kind")

const defaultJobTimeout = 30 * time.Second

type Broker interface {
	Publish(ctx context.Context, queue string, body []byte, delay time.Duration) error
	Consume(ctx context.Context, queue string) (<-chan queue.Delivery, error)
}

type HandlerFunc func(ctx context.Context, job model.NotificationJob) error

// Dispatcher はジョブの投入と消費を受け持つ（少なくとも1回配送）
type Dispatcher struct {
	broker      Broker
	deadLetters repo.DeadLetterRepository
	log         *zap.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	routes     map[model.JobKind]Route
	lanes      []Lane
	handlers   map[model.JobKind]HandlerFunc
	jobTimeout time.Duration
	now        func() time.Time
}

func New(broker Broker, deadLetters repo.DeadLetterRepository, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		broker:      broker,
		deadLetters: deadLetters,
		log:         log,
		metrics:     m,
		tracer:      otel.Tracer("github.com/sekKerfBang/agriBusiness/internal/dispatcher"),
		routes:      Routes,
		lanes:       Lanes,
		handlers:    map[model.JobKind]HandlerFunc{},
		jobTimeout:  defaultJobTimeout,
		now:         time.Now,
	}
}

func (d *Dispatcher) Handle(kind model.JobKind, h HandlerFunc) {
	d.handlers[kind] = h
}

// キューへ投入。ブローカーに渡せなかったものはデッドレターに残す
func (d *Dispatcher) Enqueue(ctx context.Context, job model.NotificationJob) error {
	route, ok := d.routes[job.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, job.Kind)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = d.now()
	}
	job.Queue = route.Queue

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := d.broker.Publish(ctx, string(route.Queue), body, 0); err != nil {
		d.deadLetter(ctx, job, body, fmt.Sprintf("enqueue failed: %v", err))
		return fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}
	return nil
}

// Run は ctx が終わるまで全レーンを消費する
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, lane := range d.lanes {
		msgs, err := d.broker.Consume(ctx, string(lane.Queue))
		if err != nil {
			return fmt.Errorf("consume %s: %w", lane.Queue, err)
		}

		var limiter *rate.Limiter
		if lane.RatePerMinute > 0 {
			limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(lane.RatePerMinute)), 1)
		}

		n := lane.Concurrency
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.consume(ctx, msgs, limiter)
			}()
		}
		d.log.Info("lane started",
			zap.String("queue", string(lane.Queue)),
			zap.Int("concurrency", n),
			zap.Int("rate_per_minute", lane.RatePerMinute),
		)
	}

	wg.Wait()
	return nil
}

func (d *Dispatcher) consume(ctx context.Context, msgs <-chan queue.Delivery, limiter *rate.Limiter) {
	for del := range msgs {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				_ = del.Nack(true)
				return
			}
		}
		d.process(ctx, del)
	}
}

func (d *Dispatcher) process(ctx context.Context, del queue.Delivery) {
	var job model.NotificationJob
	if err := json.Unmarshal(del.Body, &job); err != nil {
		d.deadLetter(ctx, model.NotificationJob{}, del.Body, fmt.Sprintf("decode failed: %v", err))
		d.ack(del)
		return
	}

	route, routed := d.routes[job.Kind]
	h, handled := d.handlers[job.Kind]
	if !routed || !handled {
		d.deadLetter(ctx, job, del.Body, fmt.Sprintf("%v: %q", ErrUnknownKind, job.Kind))
		d.ack(del)
		return
	}

	start := d.now()
	err := d.execute(ctx, h, job)
	elapsed := d.now().Sub(start)

	log := d.log.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("queue", string(route.Queue)),
		zap.Int("attempt", job.Attempt+1),
	)

	if err == nil {
		d.metrics.ObserveJob(string(job.Kind), string(route.Queue), "ok", elapsed)
		log.Debug("job done", zap.Duration("elapsed", elapsed))
		d.ack(del)
		return
	}

	job.Attempt++
	if job.Attempt >= route.MaxAttempts {
		d.metrics.ObserveJob(string(job.Kind), string(route.Queue), "dead", elapsed)
		log.Error("job exhausted retries", zap.Error(err))
		body, _ := json.Marshal(job)
		d.deadLetter(ctx, job, body, err.Error())
		d.ack(del)
		return
	}

	delay := Backoff(route.BaseBackoff, job.Attempt)
	body, merr := json.Marshal(job)
	if merr == nil {
		merr = d.broker.Publish(ctx, string(route.Queue), body, delay)
	}
	if merr != nil {
		// 再投入できなければ元のメッセージを戻す
		d.metrics.ObserveJob(string(job.Kind), string(route.Queue), "requeued", elapsed)
		log.Warn("job retry publish failed, requeue", zap.Error(merr), zap.NamedError("job_error", err))
		_ = del.Nack(true)
		return
	}

	d.metrics.ObserveJob(string(job.Kind), string(route.Queue), "retry", elapsed)
	log.Warn("job failed, retry scheduled", zap.Error(err), zap.Duration("delay", delay))
	d.ack(del)
}

// span とタイムアウト付きで実行。panic はエラーに変える
func (d *Dispatcher) execute(ctx context.Context, h HandlerFunc, job model.NotificationJob) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.jobTimeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "job "+string(job.Kind), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.Int("job.attempt", job.Attempt+1),
	))
	defer span.End()

	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("kind", string(job.Kind))}
	if sc := span.SpanContext(); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()), zap.String("span_id", sc.SpanID().String()))
	}
	ctx = logger.IntoContext(ctx, d.log.With(fields...))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return h(ctx, job)
}

func (d *Dispatcher) deadLetter(ctx context.Context, job model.NotificationJob, body []byte, reason string) {
	d.metrics.DeadLetter(string(job.Kind))
	dl := model.DeadLetter{
		JobID:     job.ID,
		Kind:      job.Kind,
		Queue:     job.Queue,
		Body:      string(body),
		Attempts:  job.Attempt,
		LastError: reason,
	}
	if err := d.deadLetters.Create(context.WithoutCancel(ctx), dl); err != nil {
		d.log.Error("dead letter write failed",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	d.log.Warn("job dead-lettered", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.String("reason", reason))
}

func (d *Dispatcher) ack(del queue.Delivery) {
	if err := del.Ack(); err != nil {
		d.log.Warn("ack failed", zap.Error(err))
	}
}
