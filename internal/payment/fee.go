package payment

import "github.com/shopspring/decimal"

// Method is the payment method a fee is computed for.
type Method string

const (
	MethodCard        Method = "card"
	MethodBankAccount Method = "us_bank_account"
)

var (
	cardPercent = decimal.NewFromFloat(0.029)
	cardFixed   = decimal.NewFromFloat(0.30)
	achPercent  = decimal.NewFromFloat(0.008)
	achCap      = decimal.NewFromFloat(5.00)
)

// Fee computes the processor fee for a payment of total (major currency
// units). Pure and deterministic; results are rounded to cents. A method the
// processor does not differentiate falls back to the undifferentiated legacy
// formula.
func Fee(total decimal.Decimal, method Method) decimal.Decimal {
	switch method {
	case MethodCard:
		return total.Mul(cardPercent).Add(cardFixed).Round(2)
	case MethodBankAccount:
		fee := total.Mul(achPercent).Round(2)
		if fee.GreaterThan(achCap) {
			return achCap
		}
		return fee
	default:
		return LegacyFee(total, method)
	}
}

// LegacyFee is the formula in force before fees were method-aware. It exists
// for backfilling historical payment rows and must not change.
func LegacyFee(total decimal.Decimal, _ Method) decimal.Decimal {
	return total.Mul(cardPercent).Add(cardFixed).Round(2)
}

// FormatAmount renders a major-unit amount for notification texts.
func FormatAmount(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}
