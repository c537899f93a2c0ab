// Package ledger holds the stock and sale arithmetic. Functions here work on
// in-memory snapshots only; persisting the results is the caller's job.
package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/store"
)

// BulkPrecision is the number of fractional digits kept when converting base
// units into bulk units.
const BulkPrecision = 16

// MoneyPlaces is the number of fractional digits stored for money columns.
const MoneyPlaces = 2

type OversellPolicy string

const (
	OversellAllow  OversellPolicy = "allow"
	OversellReject OversellPolicy = "reject"
)

func ParseOversellPolicy(raw string) (OversellPolicy, error) {
	switch OversellPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OversellAllow:
		return OversellAllow, nil
	case OversellReject:
		return OversellReject, nil
	}
	return "", fmt.Errorf("unknown oversell policy %q", raw)
}

func BaseToBulk(quantityBase int, conversionFactor int) (decimal.Decimal, error) {
	if conversionFactor <= 0 {
		return decimal.Zero, store.ErrInvalidConversion
	}
	return decimal.NewFromInt(int64(quantityBase)).DivRound(decimal.NewFromInt(int64(conversionFactor)), BulkPrecision), nil
}

// ApplyPurchase adds quantityBulk to the product snapshot and returns the
// stock delta to persist.
func ApplyPurchase(product *domain.Product, quantityBulk int) (decimal.Decimal, error) {
	if quantityBulk <= 0 {
		return decimal.Zero, store.ErrInvalidAmount
	}
	delta := decimal.NewFromInt(int64(quantityBulk))
	product.StockQty = product.StockQty.Add(delta)
	return delta, nil
}

// ApplySaleItem removes quantityBase base units from the product snapshot and
// returns the (negative) stock delta to persist. The snapshot is left
// untouched on error. Stock is never clamped; with OversellReject a sale that
// would push stock below zero fails instead.
func ApplySaleItem(product *domain.Product, quantityBase int, policy OversellPolicy) (decimal.Decimal, error) {
	if quantityBase <= 0 {
		return decimal.Zero, store.ErrInvalidAmount
	}
	bulk, err := BaseToBulk(quantityBase, product.ConversionFactor)
	if err != nil {
		return decimal.Zero, fmt.Errorf("product %s: %w", product.ID, err)
	}
	remaining := product.StockQty.Sub(bulk)
	if policy == OversellReject && remaining.IsNegative() {
		return decimal.Zero, fmt.Errorf("product %s has %s %s left: %w", product.ID, product.StockQty.String(), product.BulkUnit, store.ErrInsufficientStock)
	}
	product.StockQty = remaining
	return bulk.Neg(), nil
}

func LineTotal(item domain.SaleItem) decimal.Decimal {
	return decimal.NewFromInt(int64(item.QuantityBase)).Mul(item.PriceAtSale)
}

// RecomputeTotals derives subtotal and total from the sale's items and its
// current discount. AmountPaid and PaymentStatus are not touched.
func RecomputeTotals(sale *domain.Sale, items []domain.SaleItem) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(LineTotal(item))
	}
	sale.Subtotal = subtotal
	sale.TotalAmount = subtotal.Sub(sale.DiscountAmount)
}

// CheckMoney rejects amounts finer than a cent. Storage keeps two decimals,
// so anything finer would be rounded after the status was derived.
func CheckMoney(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(MoneyPlaces)) {
		return store.Invalid(field, "at most 2 decimal places")
	}
	return nil
}

func ValidateDiscount(sale domain.Sale, discount decimal.Decimal) error {
	if err := CheckMoney("discount_amount", discount); err != nil {
		return err
	}
	if discount.IsNegative() {
		return store.Invalid("discount_amount", "must not be negative")
	}
	if discount.GreaterThan(sale.Subtotal) {
		return store.Invalid("discount_amount", "must not exceed subtotal")
	}
	return nil
}

func DerivePaymentStatus(amountPaid decimal.Decimal, total decimal.Decimal) domain.PaymentStatus {
	switch {
	case amountPaid.GreaterThanOrEqual(total):
		return domain.PaymentStatusPaid
	case amountPaid.IsPositive():
		return domain.PaymentStatusPartial
	default:
		return domain.PaymentStatusLoan
	}
}

// Reconcile sets AmountPaid to the sum of recorded payments and re-derives
// the status from it.
func Reconcile(sale *domain.Sale, paymentsTotal decimal.Decimal) {
	sale.AmountPaid = paymentsTotal
	sale.PaymentStatus = DerivePaymentStatus(sale.AmountPaid, sale.TotalAmount)
}

// BalanceDue may be negative when a sale was discounted after being paid.
func BalanceDue(sale domain.Sale) decimal.Decimal {
	return sale.TotalAmount.Sub(sale.AmountPaid)
}

func IsLoan(sale domain.Sale) bool {
	return sale.TotalAmount.GreaterThan(sale.AmountPaid)
}

// CheckPayment reports whether amount may be recorded against sale.
func CheckPayment(sale domain.Sale, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return store.ErrInvalidAmount
	}
	if err := CheckMoney("amount", amount); err != nil {
		return err
	}
	if due := BalanceDue(sale); amount.GreaterThan(due) {
		return fmt.Errorf("amount %s, balance due %s: %w", amount.String(), due.String(), store.ErrOverpayment)
	}
	return nil
}

func SumPayments(payments []domain.PaymentRecord) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.AmountReceived)
	}
	return total
}
