package usecase

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sekKerfBang/agriBusiness/internal/domain/model"
	"github.com/sekKerfBang/agriBusiness/internal/infra/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 決済開始。カートをスナップショットして PaymentIntent を作る
type CheckoutUsecase struct {
	cart      *CartUsecase
	gateway   PaymentGateway
	store     CheckoutContextStore
	validator CheckoutValidator
	log       *zap.Logger
	now       func() time.Time
}

func NewCheckoutUsecase(cart *CartUsecase, gateway PaymentGateway, store CheckoutContextStore, validator CheckoutValidator, log *zap.Logger) *CheckoutUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutUsecase{cart: cart, gateway: gateway, store: store, validator: validator, log: log, now: time.Now}
}

type StartCheckoutInput struct {
	ShippingAddress string
	Notes           string
}

type StartCheckoutOutput struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	Total           decimal.Decimal `json:"total"`
}

func (u *CheckoutUsecase) StartCheckout(ctx context.Context, userID int64, in StartCheckoutInput) (StartCheckoutOutput, error) {
	if userID <= 0 {
		return StartCheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := u.validator.ValidateCheckout(in); err != nil {
		return StartCheckoutOutput{}, NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cart, lines, total, err := u.cart.snapshot(ctx, userID)
	if err != nil {
		return StartCheckoutOutput{}, err
	}
	if !total.IsPositive() {
		return StartCheckoutOutput{}, ErrEmptyCart
	}

	log := logger.FromContext(ctx, u.log).With(zap.Int64("user_id", userID), zap.Int64("cart_id", cart.ID))

	intent, err := u.gateway.CreatePaymentIntent(ctx, total, map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"cart_id": strconv.FormatInt(cart.ID, 10),
	})
	if err != nil {
		log.Error("create payment intent failed", zap.Error(err))
		return StartCheckoutOutput{}, ErrPaymentGatewayUnavailable
	}

	pc := model.PendingCheckoutContext{
		PaymentIntentID: intent.ID,
		UserID:          userID,
		CartID:          cart.ID,
		ShippingAddress: in.ShippingAddress,
		Notes:           in.Notes,
		Lines:           lines,
		Total:           total,
		CreatedAt:       u.now(),
	}
	if err := u.store.Save(ctx, pc); err != nil {
		log.Error("save checkout context failed", zap.Error(err))
		return StartCheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, "cache error")
	}

	log.Info("checkout started", zap.String("payment_intent_id", intent.ID), zap.String("total", total.StringFixed(2)))
	return StartCheckoutOutput{PaymentIntentID: intent.ID, ClientSecret: intent.ClientSecret, Total: total}, nil
}
