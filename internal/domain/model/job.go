package model

import "time"

// 非同期ジョブの種類（閉じた列挙）
type JobKind string

const (
	JobOrderConfirmation        JobKind = "order_confirmation"
	JobNewOrderForProducer      JobKind = "new_order_for_producer"
	JobLowStockAlert            JobKind = "low_stock_alert"
	JobPeriodicReport           JobKind = "periodic_report"
	JobPaymentFailed            JobKind = "payment_failed"
	JobOrderStatusUpdate        JobKind = "order_status_update"
	JobBulkNotification         JobKind = "bulk_notification"
	JobLowStockSweep            JobKind = "low_stock_sweep"
	JobNotificationCacheSync    JobKind = "notification_cache_sync"
	JobStaleNotificationCleanup JobKind = "stale_notification_cleanup"
	JobDormantStockDeactivation JobKind = "dormant_stock_deactivation"
	JobProductCatalogPDF        JobKind = "product_catalog_pdf"
)

// キュー（優先度順）
type Queue string

const (
	QueueTransactional Queue = "transactional"
	QueueReports       Queue = "reports"
	QueueBulk          Queue = "bulk"
	QueueMaintenance   Queue = "maintenance"
)

var Queues = []Queue{QueueTransactional, QueueReports, QueueBulk, QueueMaintenance}

// キューに流す1件の仕事（JSONで運ぶ）
type NotificationJob struct {
	ID          string            `json:"id"`
	Kind        JobKind           `json:"kind"`
	UserID      int64             `json:"user_id,omitempty"`
	OrderID     int64             `json:"order_id,omitempty"`
	ProductID   int64             `json:"product_id,omitempty"`
	ProductIDs  []int64           `json:"product_ids,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
	Attempt     int               `json:"attempt"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Queue       Queue             `json:"queue"`
}

// リトライ上限を超えた／処理できなかったジョブ
type DeadLetter struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string    `gorm:"type:varchar(64);not null;index" json:"job_id"`
	Kind      JobKind   `gorm:"type:varchar(50);not null;index" json:"kind"`
	Queue     Queue     `gorm:"type:varchar(30);not null" json:"queue"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Attempts  int       `gorm:"not null" json:"attempts"`
	LastError string    `gorm:"type:text;not null" json:"last_error"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
