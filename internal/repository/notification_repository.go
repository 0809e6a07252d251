package repository

import (
	"context"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
)

type NotificationRepository interface {
	// 同じジョブ・同じ宛先の通知が既にあれば ErrDuplicate
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
	CountUnread(ctx context.Context, userID int64) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
