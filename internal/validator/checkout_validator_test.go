package validator

import (
	"strings"
	"testing"

	"github.com/sekKerfBang/agriBusiness/internal/usecase"

	"github.com/stretchr/testify/assert"
)

func TestValidateCheckout(t *testing.T) {
	v := NewCheckoutValidator()

	tests := []struct {
		name string
		in   usecase.StartCheckoutInput
		want error
	}{
		{"ok", usecase.StartCheckoutInput{ShippingAddress: "12 rue des Champs, 75001 Paris"}, nil},
		{"ok with notes", usecase.StartCheckoutInput{ShippingAddress: "Ferme du Moulin\nRoute 4, Kindia", Notes: "livrer le matin"}, nil},
		{"empty", usecase.StartCheckoutInput{ShippingAddress: "   "}, ErrShippingAddressRequired},
		{"too short", usecase.StartCheckoutInput{ShippingAddress: "Paris"}, ErrInvalidInput},
		{"too long", usecase.StartCheckoutInput{ShippingAddress: strings.Repeat("a", 501)}, ErrShippingAddressTooLong},
		{"notes too long", usecase.StartCheckoutInput{ShippingAddress: "12 rue des Champs", Notes: strings.Repeat("n", 1001)}, ErrNotesTooLong},
		{"control char", usecase.StartCheckoutInput{ShippingAddress: "12 rue des\x00 Champs"}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCheckout(tt.in)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
