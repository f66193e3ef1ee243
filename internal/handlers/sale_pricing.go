package handlers

import (
	"errors"

	"github.com/shopspring/decimal"
)

type saleUpdateInput struct {
	Price       *decimal.Decimal
	SaleEnabled *bool
	SalePrice   *decimal.Decimal
}

type saleUpdateResult struct {
	Price       decimal.Decimal
	SaleEnabled bool
	SalePrice   decimal.Decimal
}

func validateSaleFields(price decimal.Decimal, saleEnabled bool, salePrice decimal.Decimal, salePriceSet bool) error {
	if !price.IsPositive() {
		return errors.New("price must be greater than 0")
	}
	if !saleEnabled {
		return nil
	}
	if !salePriceSet {
		return errors.New("salePrice is required when saleEnabled is true")
	}
	if !salePrice.IsPositive() {
		return errors.New("salePrice must be greater than 0")
	}
	if salePrice.GreaterThanOrEqual(price) {
		return errors.New("salePrice must be less than price")
	}
	return nil
}

// resolveSaleUpdate merges a partial update into the stored sale fields.
// Disabling the sale clears the sale price.
func resolveSaleUpdate(existing saleUpdateResult, input saleUpdateInput) (saleUpdateResult, error) {
	result := existing
	if input.Price != nil {
		result.Price = *input.Price
	}

	salePriceSet := existing.SalePrice.IsPositive()

	if input.SaleEnabled != nil {
		result.SaleEnabled = *input.SaleEnabled
		if !*input.SaleEnabled {
			result.SalePrice = decimal.Zero
			salePriceSet = false
		}
	}

	if input.SalePrice != nil {
		result.SalePrice = *input.SalePrice
		salePriceSet = true
	}

	if err := validateSaleFields(result.Price, result.SaleEnabled, result.SalePrice, salePriceSet); err != nil {
		return saleUpdateResult{}, err
	}
	return result, nil
}
