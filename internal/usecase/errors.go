package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// 業務エラー（errors.Is で比較できるよう同じポインタを返す）
var (
	ErrProductUnavailable        = &HTTPError{Status: http.StatusConflict, Message: "product unavailable"}
	ErrPaymentNotSucceeded       = &HTTPError{Status: http.StatusPaymentRequired, Message: "payment not succeeded"}
	ErrPaymentUnauthorized       = &HTTPError{Status: http.StatusForbidden, Message: "payment does not belong to user"}
	ErrPaymentGatewayUnavailable = &HTTPError{Status: http.StatusServiceUnavailable, Message: "payment gateway unavailable"}
	ErrMissingCheckoutContext    = &HTTPError{Status: http.StatusConflict, Message: "checkout session expired"}
	ErrCheckoutMismatch          = &HTTPError{Status: http.StatusConflict, Message: "checkout does not match payment"}
	ErrEmptyCart                 = &HTTPError{Status: http.StatusBadRequest, Message: "cart empty"}
	ErrInvalidTransition         = &HTTPError{Status: http.StatusConflict, Message: "invalid status transition"}

	errDB = &HTTPError{Status: http.StatusInternalServerError, Message: "db error"}
)

// 決済失敗時のリダイレクトに載せるコード
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPaymentNotSucceeded):
		return "payment_not_succeeded"
	case errors.Is(err, ErrPaymentUnauthorized):
		return "payment_unauthorized"
	case errors.Is(err, ErrPaymentGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrMissingCheckoutContext):
		return "checkout_expired"
	case errors.Is(err, ErrCheckoutMismatch):
		return "checkout_mismatch"
	case errors.Is(err, ErrEmptyCart):
		return "cart_empty"
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	default:
		return "unknown"
	}
}
