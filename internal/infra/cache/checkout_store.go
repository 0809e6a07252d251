package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// 決済IDをキーにチェックアウト情報を置く（Webhook側からも読める）
type CheckoutStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCheckoutStore(client *redis.Client, ttl time.Duration) *CheckoutStore {
	return &CheckoutStore{client: client, ttl: ttl}
}

func (s *CheckoutStore) Save(ctx context.Context, pc model.PendingCheckoutContext) error {
	body, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("marshal checkout context failed: %w", err)
	}
	if err := s.client.Set(ctx, checkoutKey(pc.PaymentIntentID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *CheckoutStore) Load(ctx context.Context, paymentIntentID string) (model.PendingCheckoutContext, error) {
	data, err := s.client.Get(ctx, checkoutKey(paymentIntentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PendingCheckoutContext{}, ErrCacheMiss
	}
	if err != nil {
		return model.PendingCheckoutContext{}, fmt.Errorf("redis get failed: %w", err)
	}

	var pc model.PendingCheckoutContext
	if err := json.Unmarshal(data, &pc); err != nil {
		return model.PendingCheckoutContext{}, fmt.Errorf("unmarshal checkout context failed: %w", err)
	}
	return pc, nil
}

func (s *CheckoutStore) Delete(ctx context.Context, paymentIntentID string) error {
	if err := s.client.Del(ctx, checkoutKey(paymentIntentID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func checkoutKey(paymentIntentID string) string {
	return fmt.Sprintf("checkout:%s", paymentIntentID)
}
