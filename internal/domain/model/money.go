package model

import "github.com/shopspring/decimal"

// DBの numeric(12,3) / numeric(12,2) と桁を揃える
const (
	QuantityPlaces int32 = 3
	MoneyPlaces    int32 = 2
)

// 正で、小数3桁に収まる数量か
func ValidQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Truncate(QuantityPlaces))
}

// 明細の小計。保存される値と同じ2桁に丸める
func LineSubtotal(qty decimal.Decimal, unitPrice decimal.Decimal) decimal.Decimal {
	return qty.Mul(unitPrice).Round(MoneyPlaces)
}
