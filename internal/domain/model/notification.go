package model

import "time"

type NotificationType string

const (
	NotificationNewOrder       NotificationType = "NEW_ORDER"
	NotificationLowStock       NotificationType = "LOW_STOCK"
	NotificationOrderUpdate    NotificationType = "ORDER_UPDATE"
	NotificationPaymentSuccess NotificationType = "PAYMENT_SUCCESS"
	NotificationPaymentFailed  NotificationType = "PAYMENT_FAILED"
	NotificationWarning        NotificationType = "WARNING"
	NotificationInfo           NotificationType = "INFO"
)

// アプリ内通知
type Notification struct {
	ID               int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64            `gorm:"not null;index;uniqueIndex:idx_notifications_job_user,priority:2" json:"user_id"`
	//ジョブ由来なら (job_id, user_id) で一意。再試行で二重に書かない
	JobID            *string          `gorm:"type:varchar(64);uniqueIndex:idx_notifications_job_user,priority:1" json:"-"`
	Type             NotificationType `gorm:"type:varchar(20);not null" json:"type"`
	Title            string           `gorm:"type:varchar(200);not null" json:"title"`
	Message          string           `gorm:"type:text;not null" json:"message"`
	IsRead           bool             `gorm:"not null;default:false;index" json:"is_read"`
	RelatedOrderID   *int64           `gorm:"index" json:"related_order_id"`
	RelatedProductID *int64           `gorm:"index" json:"related_product_id"`
	CreatedAt        time.Time        `gorm:"not null;index" json:"created_at"`
}
