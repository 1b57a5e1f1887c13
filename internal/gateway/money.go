package gateway

import "github.com/shopspring/decimal"

// The gateway speaks decimal reais; everything internal is integer centavos.
// Conversion happens only at this boundary.

func CentavosToDecimal(centavos int64) decimal.Decimal {
	return decimal.NewFromInt(centavos).Div(decimal.NewFromInt(100))
}

func DecimalToCentavos(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
