package validator

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/sekKerfBang/agriBusiness/internal/usecase"
)

var (
	// 入力が不正
	ErrInvalidInput = errors.New("invalid input")

	ErrShippingAddressRequired = errors.New("shipping_address is required")
	ErrShippingAddressTooLong  = errors.New("shipping_address is too long")
	ErrNotesTooLong            = errors.New("notes is too long")
)

const (
	minAddressLength = 10
	maxAddressLength = 500
	maxNotesLength   = 1000
)

type checkoutValidator struct{}

// Usecaseは interface を依存注入
func NewCheckoutValidator() usecase.CheckoutValidator {
	return &checkoutValidator{}
}

// 配送先の入力を検証
func (v *checkoutValidator) ValidateCheckout(in usecase.StartCheckoutInput) error {
	addr := strings.TrimSpace(in.ShippingAddress)

	// 必須チェック
	if addr == "" {
		return ErrShippingAddressRequired
	}

	// 短すぎる住所は配送できない
	if utf8.RuneCountInString(addr) < minAddressLength {
		return ErrInvalidInput
	}
	if utf8.RuneCountInString(addr) > maxAddressLength {
		return ErrShippingAddressTooLong
	}

	if utf8.RuneCountInString(in.Notes) > maxNotesLength {
		return ErrNotesTooLong
	}

	// 制御文字は不可（改行は可）
	if hasControlChars(addr) {
		return ErrInvalidInput
	}
	return nil
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
