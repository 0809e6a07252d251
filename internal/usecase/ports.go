package usecase

import (
	"context"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/mailer"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"

	"github.com/shopspring/decimal"
)

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (payment.Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (payment.Intent, error)
	CreateRefund(ctx context.Context, paymentIntentID string) (payment.Refund, error)
}

// Load は無ければ cache.ErrCacheMiss
type CheckoutContextStore interface {
	Save(ctx context.Context, pc model.PendingCheckoutContext) error
	Load(ctx context.Context, paymentIntentID string) (model.PendingCheckoutContext, error)
	Delete(ctx context.Context, paymentIntentID string) error
}

// ジョブ投入。失敗時は実装側でデッドレター化する
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.NotificationJob) error
}

type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// 書き出した場所を返す
type CatalogWriter interface {
	Write(ctx context.Context, producer model.User, products []model.Product) (string, error)
}

type MarkerStore interface {
	IsMarked(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type UnreadCounter interface {
	Set(ctx context.Context, userID int64, count int64) error
	Invalidate(ctx context.Context, userID int64) error
}

type CheckoutValidator interface {
	ValidateCheckout(in StartCheckoutInput) error
}
