package payment

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

const StatusSucceeded = "succeeded"

// ゲートウェイ側の PaymentIntent（金額は最小通貨単位）
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`

	LastPaymentError *PaymentError `json:"last_payment_error,omitempty"`
}

type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// 失敗理由（無ければ空）
func (i Intent) FailureMessage() string {
	if i.LastPaymentError == nil {
		return ""
	}
	return i.LastPaymentError.Message
}

func (i Intent) Succeeded() bool {
	return i.Status == StatusSucceeded
}

func (i Intent) UserID() (int64, error) {
	return i.metadataID("user_id")
}

func (i Intent) CartID() (int64, error) {
	return i.metadataID("cart_id")
}

func (i Intent) metadataID(key string) (int64, error) {
	v, ok := i.Metadata[key]
	if !ok || v == "" {
		return 0, fmt.Errorf("metadata %s missing", key)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metadata %s invalid: %w", key, err)
	}
	return id, nil
}

// 2桁小数の金額を最小通貨単位へ
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type Refund struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent"`
	Amount          int64  `json:"amount"`
	Status          string `json:"status"`
}
