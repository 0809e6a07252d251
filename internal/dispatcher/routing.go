package dispatcher

import (
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
)

// MaxBackoff は再試行間隔の上限
const MaxBackoff = 10 * time.Minute

type Route struct {
	Queue       model.Queue
	MaxAttempts int
	BaseBackoff time.Duration
}

// ジョブ種別ごとの行き先。投入時に引く
var Routes = map[model.JobKind]Route{
	model.JobOrderConfirmation:        {Queue: model.QueueTransactional, MaxAttempts: 5, BaseBackoff: time.Minute},
	model.JobNewOrderForProducer:      {Queue: model.QueueTransactional, MaxAttempts: 3, BaseBackoff: time.Minute},
	model.JobLowStockAlert:            {Queue: model.QueueTransactional, MaxAttempts: 3, BaseBackoff: time.Minute},
	model.JobPaymentFailed:            {Queue: model.QueueTransactional, MaxAttempts: 3, BaseBackoff: time.Minute},
	model.JobOrderStatusUpdate:        {Queue: model.QueueTransactional, MaxAttempts: 3, BaseBackoff: time.Minute},
	model.JobLowStockSweep:            {Queue: model.QueueTransactional, MaxAttempts: 3, BaseBackoff: time.Minute},
	model.JobPeriodicReport:           {Queue: model.QueueReports, MaxAttempts: 3, BaseBackoff: 5 * time.Minute},
	model.JobProductCatalogPDF:        {Queue: model.QueueReports, MaxAttempts: 3, BaseBackoff: 5 * time.Minute},
	model.JobBulkNotification:         {Queue: model.QueueBulk, MaxAttempts: 3, BaseBackoff: 2 * time.Minute},
	model.JobNotificationCacheSync:    {Queue: model.QueueMaintenance, MaxAttempts: 3, BaseBackoff: 5 * time.Minute},
	model.JobStaleNotificationCleanup: {Queue: model.QueueMaintenance, MaxAttempts: 3, BaseBackoff: 5 * time.Minute},
	model.JobDormantStockDeactivation: {Queue: model.QueueMaintenance, MaxAttempts: 3, BaseBackoff: 5 * time.Minute},
}

// キューごとの消費者。RatePerMinute=0 は無制限
type Lane struct {
	Queue         model.Queue
	Concurrency   int
	RatePerMinute int
}

// 優先度順
var Lanes = []Lane{
	{Queue: model.QueueTransactional, Concurrency: 8},
	{Queue: model.QueueReports, Concurrency: 2},
	{Queue: model.QueueBulk, Concurrency: 2, RatePerMinute: 20},
	{Queue: model.QueueMaintenance, Concurrency: 1},
}

// base * 2^(attempt-1)、上限 MaxBackoff
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// RabbitMQ の prefetch 用
func Prefetch(lanes []Lane) map[string]int {
	out := make(map[string]int, len(lanes))
	for _, l := range lanes {
		out[string(l.Queue)] = l.Concurrency
	}
	return out
}
