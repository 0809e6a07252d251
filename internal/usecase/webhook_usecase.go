package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"
	"github.com/sekKerfBang/agriBusiness/internal/infra/payment"

	"go.uber.org/zap"
)

type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeIgnored   WebhookOutcome = "ignored"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeRejected  WebhookOutcome = "rejected"
)

type WebhookVerifier interface {
	VerifyAndParse(payload []byte, header string, now time.Time) (payment.Event, error)
}

type OrderFinalizer interface {
	Finalize(ctx context.Context, in FinalizeInput) (FinalizeResult, error)
}

type RefundMarker interface {
	MarkRefunded(ctx context.Context, paymentIntentID string) (bool, error)
}

// ゲートウェイからの通知を注文に反映する
type WebhookUsecase struct {
	verifier WebhookVerifier
	orders   OrderFinalizer
	refunds  RefundMarker
	jobs     Enqueuer
	log      *zap.Logger
	now      func() time.Time
}

func NewWebhookUsecase(verifier WebhookVerifier, orders OrderFinalizer, refunds RefundMarker, jobs Enqueuer, log *zap.Logger) *WebhookUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookUsecase{verifier: verifier, orders: orders, refunds: refunds, jobs: jobs, log: log, now: time.Now}
}

// 署名・形式エラーは payment.ErrInvalidSignature / payment.ErrMalformedEvent。
// それ以外のエラーはゲートウェイに再送させる
func (u *WebhookUsecase) Handle(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	log := logger.FromContext(ctx, u.log)

	ev, err := u.verifier.VerifyAndParse(payload, signatureHeader, u.now())
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			log.Warn("webhook signature rejected", zap.Bool("security_event", true))
		} else {
			log.Warn("webhook payload rejected", zap.Error(err))
		}
		return "", err
	}

	log = log.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("payment_intent_id", ev.Intent.ID),
	)

	switch ev.Kind {
	case payment.EventPaymentSucceeded:
		return u.handleSucceeded(ctx, log, ev)
	case payment.EventPaymentFailed:
		return u.handleFailed(ctx, log, ev)
	case payment.EventChargeRefunded:
		return u.handleRefunded(ctx, log, ev)
	case payment.EventIgnored:
		log.Debug("webhook event ignored")
		return OutcomeIgnored, nil
	}
	return OutcomeIgnored, nil
}

func (u *WebhookUsecase) handleSucceeded(ctx context.Context, log *zap.Logger, ev payment.Event) (WebhookOutcome, error) {
	res, err := u.orders.Finalize(ctx, FinalizeInput{
		PaymentIntentID: ev.Intent.ID,
		Source:          SourceWebhook,
	})
	if err != nil {
		if isDefinedFinalizeFailure(err) {
			// 再送しても結果は変わらないので受領扱い
			log.Warn("webhook finalization rejected", zap.Error(err))
			return OutcomeRejected, nil
		}
		log.Error("webhook finalization failed", zap.Error(err))
		return "", err
	}
	if !res.Created {
		return OutcomeDuplicate, nil
	}
	log.Info("order finalized from webhook", zap.Int64("order_id", res.Order.ID))
	return OutcomeProcessed, nil
}

func (u *WebhookUsecase) handleFailed(ctx context.Context, log *zap.Logger, ev payment.Event) (WebhookOutcome, error) {
	userID, err := ev.Intent.UserID()
	if err != nil {
		log.Warn("payment failed event without user", zap.Error(err))
		return OutcomeRejected, nil
	}

	job := model.NotificationJob{
		Kind:   model.JobPaymentFailed,
		UserID: userID,
		Payload: map[string]string{
			"payment_intent_id": ev.Intent.ID,
			"reason":            ev.Intent.FailureMessage(),
		},
	}
	if err := u.jobs.Enqueue(ctx, job); err != nil {
		log.Error("enqueue job failed", zap.String("kind", string(job.Kind)), zap.Error(err))
	}
	return OutcomeProcessed, nil
}

func (u *WebhookUsecase) handleRefunded(ctx context.Context, log *zap.Logger, ev payment.Event) (WebhookOutcome, error) {
	changed, err := u.refunds.MarkRefunded(ctx, ev.Intent.ID)
	if err != nil {
		log.Error("mark refunded failed", zap.Error(err))
		return "", err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	log.Info("order marked refunded from webhook")
	return OutcomeProcessed, nil
}

func isDefinedFinalizeFailure(err error) bool {
	return errors.Is(err, ErrPaymentNotSucceeded) ||
		errors.Is(err, ErrMissingCheckoutContext) ||
		errors.Is(err, ErrCheckoutMismatch) ||
		errors.Is(err, ErrPaymentUnauthorized)
}
