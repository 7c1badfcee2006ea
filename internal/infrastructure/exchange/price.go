package exchange

import (
	"github.com/shopspring/decimal"
)

const (
	maxSignificantFigures = 5
	perpMaxDecimals       = 6
	spotMaxDecimals       = 8
)

// quantityStep is the lot size of an asset with the given size decimals.
func quantityStep(szDecimals int) decimal.Decimal {
	return decimal.New(1, int32(-szDecimals))
}

// baseTick is the finest price increment the venue accepts for an asset,
// before the significant figures rule.
func baseTick(szDecimals, maxDecimals int) decimal.Decimal {
	places := maxDecimals - szDecimals
	if places < 0 {
		places = 0
	}
	return decimal.New(1, int32(-places))
}

// validTick is the larger of base and the tick that keeps price at five
// significant figures. Integer prices are always valid, so the result never
// exceeds 1 unless base does.
func validTick(price, base decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return base
	}
	intDigits := 0
	if whole := price.Floor(); whole.IsPositive() {
		intDigits = len(whole.String())
	}
	places := maxSignificantFigures - intDigits
	if places < 0 {
		places = 0
	}
	sigTick := decimal.New(1, int32(-places))
	if sigTick.GreaterThan(base) {
		return sigTick
	}
	return base
}

// roundToTick rounds price to the nearest valid tick.
func roundToTick(price, base decimal.Decimal) decimal.Decimal {
	tick := validTick(price, base)
	return price.Div(tick).Round(0).Mul(tick)
}

// wire formats a decimal the way the venue expects: no exponent and no
// trailing zeros.
func wire(d decimal.Decimal) string {
	return d.String()
}
