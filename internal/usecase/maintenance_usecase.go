package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/cache"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/mailer"
	repo "github.com/sekKerfBang/agriBusiness/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	lowStockMarkerTTL    = 24 * time.Hour
	dailyReportMarkerTTL = 48 * time.Hour
)

type MaintenanceConfig struct {
	LowStockThreshold     decimal.Decimal
	NotificationRetention time.Duration
	DormantStockWindow    time.Duration
	Location              *time.Location
}

// 定期ジョブ（在庫少アラート・日次レポート・通知の掃除など）
type MaintenanceUsecase struct {
	products      repo.ProductRepository
	orders        repo.OrderRepository
	users         repo.UserRepository
	notifications repo.NotificationRepository
	markers       MarkerStore
	unread        UnreadCounter
	jobs          Enqueuer
	mail          Mailer
	log           *zap.Logger
	cfg           MaintenanceConfig
	now           func() time.Time
}

type MaintenanceDeps struct {
	Products      repo.ProductRepository
	Orders        repo.OrderRepository
	Users         repo.UserRepository
	Notifications repo.NotificationRepository
	Markers       MarkerStore
	Unread        UnreadCounter
	Jobs          Enqueuer
	Mail          Mailer
	Log           *zap.Logger
}

func NewMaintenanceUsecase(d MaintenanceDeps, cfg MaintenanceConfig) *MaintenanceUsecase {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if !cfg.LowStockThreshold.IsPositive() {
		cfg.LowStockThreshold = model.LowStockLevel
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &MaintenanceUsecase{
		products:      d.Products,
		orders:        d.Orders,
		users:         d.Users,
		notifications: d.Notifications,
		markers:       d.Markers,
		unread:        d.Unread,
		jobs:          d.Jobs,
		mail:          d.Mail,
		log:           d.Log,
		cfg:           cfg,
		now:           time.Now,
	}
}

// 生産者ごとに low_stock_alert を1件。同じ商品は1日1回まで
func (u *MaintenanceUsecase) SweepLowStock(ctx context.Context, _ model.NotificationJob) error {
	products, err := u.products.ListLowStock(ctx, u.cfg.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("list low stock: %w", err)
	}

	day := u.now().In(u.cfg.Location)
	byProducer := map[int64][]int64{}
	for _, p := range products {
		marked, err := u.markers.IsMarked(ctx, cache.LowStockMarkerKey(p.ID, day))
		if err != nil {
			return err
		}
		if marked {
			continue
		}
		byProducer[p.ProducerID] = append(byProducer[p.ProducerID], p.ID)
	}

	for _, producerID := range sortedKeys(byProducer) {
		ids := byProducer[producerID]
		if err := u.jobs.Enqueue(ctx, model.NotificationJob{
			Kind:       model.JobLowStockAlert,
			UserID:     producerID,
			ProductIDs: ids,
		}); err != nil {
			return fmt.Errorf("enqueue low stock alert: %w", err)
		}
		for _, id := range ids {
			if err := u.markers.Mark(ctx, cache.LowStockMarkerKey(id, day), lowStockMarkerTTL); err != nil {
				return err
			}
		}
	}

	logger.FromContext(ctx, u.log).Info("low stock sweep done",
		zap.Int("products", len(products)),
		zap.Int("producers_alerted", len(byProducer)),
	)
	return nil
}

// 当日分（設定タイムゾーンの0時から）の売上を生産者へメール。
// 送れた生産者には印を付け、再試行では送らない
func (u *MaintenanceUsecase) SendDailyReport(ctx context.Context, _ model.NotificationJob) error {
	now := u.now().In(u.cfg.Location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, u.cfg.Location)
	end := start.AddDate(0, 0, 1)

	sales, err := u.orders.SalesByProducer(ctx, start, end)
	if err != nil {
		return fmt.Errorf("sales by producer: %w", err)
	}

	log := logger.FromContext(ctx, u.log)
	var errs []error
	sent := 0
	for _, s := range sales {
		if s.OrderCount == 0 {
			continue
		}
		key := cache.DailyReportMarkerKey(s.ProducerID, start)
		done, err := u.markers.IsMarked(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			continue
		}
		producer, err := u.users.FindByID(ctx, s.ProducerID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		body := fmt.Sprintf("Hello %s,\n\nSales report for %s:\n- orders: %d\n- revenue: %s\n",
			producer.DisplayName(), start.Format("2006-01-02"), s.OrderCount, s.Total.StringFixed(2))
		if err := u.mail.Send(ctx, mailer.Message{To: producer.Email, Subject: "Daily sales report " + start.Format("2006-01-02"), Body: body}); err != nil {
			log.Warn("daily report mail failed", zap.Int64("producer_id", s.ProducerID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if err := u.markers.Mark(ctx, key, dailyReportMarkerTTL); err != nil {
			log.Warn("mark daily report failed", zap.Int64("producer_id", s.ProducerID), zap.Error(err))
		}
		sent++
	}

	log.Info("daily report done", zap.Int("producers", len(sales)), zap.Int("sent", sent))
	return errors.Join(errs...)
}

// アクティブユーザーの未読数をキャッシュへ
func (u *MaintenanceUsecase) SyncUnreadCounts(ctx context.Context, _ model.NotificationJob) error {
	ids, err := u.users.ListActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	for _, id := range ids {
		n, err := u.notifications.CountUnread(ctx, id)
		if err != nil {
			return fmt.Errorf("count unread: %w", err)
		}
		if err := u.unread.Set(ctx, id, n); err != nil {
			return err
		}
	}
	logger.FromContext(ctx, u.log).Info("unread count sync done", zap.Int("users", len(ids)))
	return nil
}

func (u *MaintenanceUsecase) CleanupNotifications(ctx context.Context, _ model.NotificationJob) error {
	cutoff := u.now().Add(-u.cfg.NotificationRetention)
	n, err := u.notifications.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	logger.FromContext(ctx, u.log).Info("stale notifications deleted", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return nil
}

// 長期間在庫0の商品を非公開にして生産者へ知らせる（メールは bulk キュー）
func (u *MaintenanceUsecase) DeactivateDormantStock(ctx context.Context, _ model.NotificationJob) error {
	cutoff := u.now().Add(-u.cfg.DormantStockWindow)
	products, err := u.products.DeactivateDormant(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("deactivate dormant: %w", err)
	}

	byProducer := map[int64][]model.Product{}
	for _, p := range products {
		byProducer[p.ProducerID] = append(byProducer[p.ProducerID], p)
	}

	log := logger.FromContext(ctx, u.log)
	for _, producerID := range sortedKeys(byProducer) {
		names := make([]string, 0, len(byProducer[producerID]))
		for _, p := range byProducer[producerID] {
			names = append(names, p.Name)
		}
		message := fmt.Sprintf("These products were out of stock for a long time and have been hidden: %s.", strings.Join(names, ", "))

		if _, err := u.notifications.Create(ctx, model.Notification{
			UserID:  producerID,
			Type:    model.NotificationWarning,
			Title:   "Products deactivated",
			Message: message,
		}); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		if err := u.unread.Invalidate(ctx, producerID); err != nil {
			log.Warn("invalidate unread count failed", zap.Int64("user_id", producerID), zap.Error(err))
		}

		if err := u.jobs.Enqueue(ctx, model.NotificationJob{
			Kind:   model.JobBulkNotification,
			UserID: producerID,
			Payload: map[string]string{
				"subject": "Products deactivated",
				"message": message,
				"type":    string(model.NotificationWarning),
				"notify":  "email",
			},
		}); err != nil {
			log.Error("enqueue job failed", zap.String("kind", string(model.JobBulkNotification)), zap.Error(err))
		}
	}

	log.Info("dormant stock deactivation done", zap.Int("products", len(products)), zap.Int("producers", len(byProducer)))
	return nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
