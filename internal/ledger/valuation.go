package ledger

import (
	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
)

// StockValue is stock_qty × buy_price_per_bulk. It is zero for products that
// cannot be valued: non-positive conversion factor, negative stock or a
// negative price.
func StockValue(product domain.Product) decimal.Decimal {
	if product.ConversionFactor <= 0 || product.StockQty.IsNegative() || product.BuyPricePerBulk.IsNegative() {
		return decimal.Zero
	}
	return product.StockQty.Mul(product.BuyPricePerBulk)
}

// UnitCost is the purchase cost of a single base unit.
func UnitCost(product domain.Product) (decimal.Decimal, bool) {
	if product.ConversionFactor <= 0 {
		return decimal.Zero, false
	}
	return product.BuyPricePerBulk.DivRound(decimal.NewFromInt(int64(product.ConversionFactor)), BulkPrecision), true
}

func ProfitPerBaseUnit(product domain.Product) (decimal.Decimal, bool) {
	cost, ok := UnitCost(product)
	if !ok {
		return decimal.Zero, false
	}
	return product.SellPricePerBase.Sub(cost), true
}
