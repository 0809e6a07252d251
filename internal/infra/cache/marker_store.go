package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 一定時間の重複防止マーカー
type MarkerStore struct {
	client *redis.Client
}

func NewMarkerStore(client *redis.Client) *MarkerStore {
	return &MarkerStore{client: client}
}

func (s *MarkerStore) IsMarked(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (s *MarkerStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// 未設定のときだけ立てる。立てられたら true
func (s *MarkerStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// low_stock_processed:<product>:<YYYY-MM-DD>
func LowStockMarkerKey(productID int64, day time.Time) string {
	return fmt.Sprintf("low_stock_processed:%d:%s", productID, day.Format("2006-01-02"))
}

// daily_report_sent:<producer>:<YYYY-MM-DD>
func DailyReportMarkerKey(producerID int64, day time.Time) string {
	return fmt.Sprintf("daily_report_sent:%d:%s", producerID, day.Format("2006-01-02"))
}

// bulk_delivered:<job>:<user>
func BulkDeliveryKey(jobID string, userID int64) string {
	return fmt.Sprintf("bulk_delivered:%s:%d", jobID, userID)
}

// schedule_fired:<kind>:<unix minute>
func ScheduleTickKey(kind string, tick time.Time) string {
	return fmt.Sprintf("schedule_fired:%s:%d", kind, tick.Unix())
}
