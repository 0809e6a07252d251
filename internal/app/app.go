package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/config"
	"github.com/sekKerfBang/agriBusiness/internal/dispatcher"
	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/catalog"
	"github.com/sekKerfBang/agriBusiness/internal/infra/db"
	"github.com/sekKerfBang/agriBusiness/internal/infra/mailer"
	"github.com/sekKerfBang/agriBusiness/internal/infra/metrics"
	"github.com/sekKerfBang/agriBusiness/internal/infra/queue"
	gormrepo "github.com/sekKerfBang/agriBusiness/internal/infra/repository"
	"github.com/sekKerfBang/agriBusiness/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type broker interface {
	dispatcher.Broker
	Close() error
}

// Infra は api と worker の両方で使う接続一式
type Infra struct {
	Config     config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Redis      *redis.Client
	Broker     broker
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Dispatcher *dispatcher.Dispatcher
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Infra, error) {
	gdb, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	var b broker
	if cfg.QueueDriver == "rabbitmq" {
		b, err = queue.DialRabbitMQ(cfg.RabbitMQURL, dispatcher.Prefetch(dispatcher.Lanes))
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
	} else {
		b = queue.NewMemory()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	return &Infra{
		Config:     cfg,
		Log:        log,
		DB:         gdb,
		Redis:      rdb,
		Broker:     b,
		Registry:   reg,
		Metrics:    m,
		Dispatcher: dispatcher.New(b, gormrepo.NewDeadLetterGormRepository(gdb), log.Named("dispatcher"), m),
	}, nil
}

func (i *Infra) Close() {
	if err := i.Broker.Close(); err != nil {
		i.Log.Warn("close broker", zap.Error(err))
	}
	if err := i.Redis.Close(); err != nil {
		i.Log.Warn("close redis", zap.Error(err))
	}
	if sqlDB, err := i.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// SMTP_HOST が無ければログに出すだけ
func (i *Infra) Mailer() usecase.Mailer {
	cfg := i.Config
	if cfg.SMTPHost == "" {
		return mailer.NewLog(i.Log.Named("mail"))
	}
	return mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
}

// RegisterJobs は全ジョブ種別のハンドラを登録する
func (i *Infra) RegisterJobs() {
	gdb := i.DB
	users := gormrepo.NewUserGormRepository(gdb)
	orders := gormrepo.NewOrderGormRepository(gdb)
	products := gormrepo.NewProductGormRepository(gdb)
	notifications := gormrepo.NewNotificationGormRepository(gdb)
	unread := cache.NewUnreadCounter(i.Redis)
	markers := cache.NewMarkerStore(i.Redis)
	mail := i.Mailer()

	notify := usecase.NewNotificationUsecase(
		users,
		orders,
		gormrepo.NewOrderItemGormRepository(gdb),
		products,
		notifications,
		unread,
		markers,
		mail,
		i.Log.Named("notification"),
	)
	catalogs := usecase.NewCatalogUsecase(products, catalog.NewPDFStore(i.Config.CatalogDir), notify, i.Log.Named("catalog"))
	maint := usecase.NewMaintenanceUsecase(usecase.MaintenanceDeps{
		Products:      products,
		Orders:        orders,
		Users:         users,
		Notifications: notifications,
		Markers:       markers,
		Unread:        unread,
		Jobs:          i.Dispatcher,
		Mail:          mail,
		Log:           i.Log.Named("maintenance"),
	}, usecase.MaintenanceConfig{
		LowStockThreshold:     decimal.NewFromInt(int64(i.Config.LowStockThreshold)),
		NotificationRetention: i.Config.NotificationRetention,
		DormantStockWindow:    i.Config.DormantStockWindow,
		Location:              i.Config.Location,
	})

	handlers := map[model.JobKind]dispatcher.HandlerFunc{
		model.JobOrderConfirmation:        notify.SendOrderConfirmation,
		model.JobNewOrderForProducer:      notify.NotifyProducerNewOrder,
		model.JobLowStockAlert:            notify.SendLowStockAlert,
		model.JobPaymentFailed:            notify.SendPaymentFailed,
		model.JobOrderStatusUpdate:        notify.SendOrderStatusUpdate,
		model.JobBulkNotification:         notify.SendBulkNotification,
		model.JobPeriodicReport:           maint.SendDailyReport,
		model.JobLowStockSweep:            maint.SweepLowStock,
		model.JobNotificationCacheSync:    maint.SyncUnreadCounts,
		model.JobStaleNotificationCleanup: maint.CleanupNotifications,
		model.JobDormantStockDeactivation: maint.DeactivateDormantStock,
		model.JobProductCatalogPDF:        catalogs.GenerateProductCatalog,
	}
	for kind, h := range handlers {
		i.Dispatcher.Handle(kind, h)
	}
}
