package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type ScheduledJob struct {
	Spec string
	Kind model.JobKind
}

// 定期ジョブ（標準の5フィールド cron）
var DefaultSchedule = []ScheduledJob{
	{Spec: "0 7 * * *", Kind: model.JobPeriodicReport},
	{Spec: "0 9 * * *", Kind: model.JobLowStockSweep},
	{Spec: "0 * * * *", Kind: model.JobNotificationCacheSync},
	{Spec: "0 8 * * 1", Kind: model.JobStaleNotificationCleanup},
	{Spec: "0 6 1 * *", Kind: model.JobDormantStockDeactivation},
}

// 同じ (kind, 分) を複数のレプリカが投入しないためのロック
const tickLockTTL = time.Hour

type enqueuer interface {
	Enqueue(ctx context.Context, job model.NotificationJob) error
}

type tickLocker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// 時刻が来たらジョブを投入するだけ。処理はワーカー側。
// locker があれば、ワーカーを何台動かしても1回の発火で1件だけ投入する
type Scheduler struct {
	cron   *cron.Cron
	jobs   enqueuer
	locker tickLocker
	loc    *time.Location
	log    *zap.Logger
	now    func() time.Time
}

// locker が nil なら単一プロセス前提で毎回投入する
func NewScheduler(jobs enqueuer, locker tickLocker, loc *time.Location, log *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		jobs:   jobs,
		locker: locker,
		loc:    loc,
		log:    log,
		now:    time.Now,
	}
}

func (s *Scheduler) Register(schedule []ScheduledJob) error {
	for _, sj := range schedule {
		kind := sj.Kind
		if _, ok := Routes[kind]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if _, err := s.cron.AddFunc(sj.Spec, func() { s.fire(context.Background(), kind) }); err != nil {
			return fmt.Errorf("schedule %s (%s): %w", kind, sj.Spec, err)
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, kind model.JobKind) {
	if s.locker != nil {
		tick := s.now().In(s.loc).Truncate(time.Minute)
		won, err := s.locker.MarkOnce(ctx, cache.ScheduleTickKey(string(kind), tick), tickLockTTL)
		switch {
		case err != nil:
			//ロックが取れなくても投入は止めない
			s.log.Warn("schedule lock failed, enqueue anyway", zap.String("kind", string(kind)), zap.Error(err))
		case !won:
			s.log.Debug("scheduled job already fired by another worker", zap.String("kind", string(kind)), zap.Time("tick", tick))
			return
		}
	}
	if err := s.jobs.Enqueue(ctx, model.NotificationJob{Kind: kind}); err != nil {
		s.log.Error("scheduled enqueue failed", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	s.log.Info("scheduled job enqueued", zap.String("kind", string(kind)))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// 実行中の投入が終わるまで待つ
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
