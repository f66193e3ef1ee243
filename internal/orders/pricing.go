package orders

import "github.com/shopspring/decimal"

// Pricing holds the server-side charges applied on top of the item subtotal.
type Pricing struct {
	TaxRate       decimal.Decimal
	ShippingPrice decimal.Decimal
	Currency      string
}

type Totals struct {
	ItemsPrice    decimal.Decimal
	TaxPrice      decimal.Decimal
	ShippingPrice decimal.Decimal
	TotalPrice    decimal.Decimal
}

// Totals derives tax, shipping and the grand total from the item subtotal.
// Tax is rounded half-even to cents.
func (p Pricing) Totals(itemsPrice decimal.Decimal) Totals {
	tax := itemsPrice.Mul(p.TaxRate).RoundBank(2)
	return Totals{
		ItemsPrice:    itemsPrice,
		TaxPrice:      tax,
		ShippingPrice: p.ShippingPrice,
		TotalPrice:    itemsPrice.Add(tax).Add(p.ShippingPrice),
	}
}

// MinorUnits converts an amount to the provider's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
