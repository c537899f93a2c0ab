package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaledger/internal/cache"
	"pharmaledger/internal/domain"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/store"
	"pharmaledger/internal/store/memory"
)

// Wednesday.
var fixedNow = time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	return New(repo, opts), repo
}

func createTestProduct(t *testing.T, svc *Service, name string, factor int, stock string, sellPrice string) domain.Product {
	t.Helper()
	ctx := context.Background()

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	var categoryID string
	if len(categories) > 0 {
		categoryID = categories[0].ID
	} else {
		category, err := svc.CreateCategory(ctx, "General")
		require.NoError(t, err)
		categoryID = category.ID
	}

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:             name,
		CategoryID:       categoryID,
		BulkUnit:         "box",
		BaseUnit:         "tablet",
		ConversionFactor: factor,
		BuyPricePerBulk:  dec("20"),
		SellPricePerBase: dec(sellPrice),
		StockQty:         dec(stock),
	})
	require.NoError(t, err)
	return product
}

func stockOf(t *testing.T, svc *Service, id string) decimal.Decimal {
	t.Helper()
	p, err := svc.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQty
}

func TestAddSaleItemConvertsBaseUnitsToBulk(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Amoxicillin", 10, "5", "1.00")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Walk-in"})
	require.NoError(t, err)

	item, err := svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, item.QuantityBase)
	assert.True(t, item.PriceAtSale.Equal(dec("1.00")))
	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("2")))

	detail, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, detail.Sale.Subtotal.Equal(dec("30")))
	assert.Equal(t, domain.PaymentStatusLoan, detail.Sale.PaymentStatus)
	assert.Len(t, detail.Items, 1)
}

func TestAddSaleItemKeepsFractionalStock(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Paracetamol", 100, "1", "0.50")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{})
	require.NoError(t, err)
	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 25})
	require.NoError(t, err)

	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("0.75")))
}

func TestAddSaleItemRejectsZeroConversionFactor(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := context.Background()

	broken := domain.Product{
		ID:               "prd-broken",
		Name:             "Broken",
		BulkUnit:         "box",
		BaseUnit:         "tablet",
		ConversionFactor: 0,
		SellPricePerBase: dec("1"),
		StockQty:         dec("5"),
	}
	require.NoError(t, repo.Update(ctx, func(tx store.Tx) error {
		return tx.CreateProduct(ctx, broken)
	}))

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Ana"})
	require.NoError(t, err)

	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: broken.ID, QuantityBase: 3})
	require.ErrorIs(t, err, store.ErrInvalidConversion)
	assert.ErrorIs(t, err, store.ErrInsufficientData)

	assert.True(t, stockOf(t, svc, broken.ID).Equal(dec("5")))
	items, err := repo.ListSaleItems(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAddSaleItemOversellPolicy(t *testing.T) {
	t.Run("allow goes negative", func(t *testing.T) {
		svc, _ := newTestService(t, Options{})
		ctx := context.Background()
		product := createTestProduct(t, svc, "Ibuprofen", 10, "1", "1")

		sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{})
		require.NoError(t, err)
		_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 15})
		require.NoError(t, err)
		assert.True(t, stockOf(t, svc, product.ID).Equal(dec("-0.5")))
	})

	t.Run("reject leaves stock alone", func(t *testing.T) {
		svc, repo := newTestService(t, Options{OversellPolicy: ledger.OversellReject})
		ctx := context.Background()
		product := createTestProduct(t, svc, "Ibuprofen", 10, "1", "1")

		sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{})
		require.NoError(t, err)
		_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 15})
		require.ErrorIs(t, err, store.ErrInsufficientStock)
		assert.True(t, stockOf(t, svc, product.ID).Equal(dec("1")))

		items, err := repo.ListSaleItems(ctx, sale.ID)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestAddSaleItemRejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Ibuprofen", 10, "1", "1")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{})
	require.NoError(t, err)
	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 0})
	require.ErrorIs(t, err, store.ErrInvalidAmount)
}

func TestDiscountAndPaymentLifecycle(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Vitamin C", 10, "50", "10")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Budi"})
	require.NoError(t, err)
	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 10})
	require.NoError(t, err)

	discounted, err := svc.SetDiscount(ctx, sale.ID, dec("10"))
	require.NoError(t, err)
	assert.True(t, discounted.Subtotal.Equal(dec("100")))
	assert.True(t, discounted.TotalAmount.Equal(dec("90")))

	_, err = svc.SetDiscount(ctx, sale.ID, dec("101"))
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.RecordPayment(ctx, sale.ID, domain.PaymentRequest{Amount: dec("40")})
	require.NoError(t, err)
	detail, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartial, detail.Sale.PaymentStatus)
	assert.True(t, detail.BalanceDue.Equal(dec("50")))
	assert.Equal(t, domain.PaymentMethodCash, detail.Payments[0].PaymentMethod)

	require.ErrorIs(t, svc.CheckOverpayment(ctx, sale.ID, dec("60")), store.ErrOverpayment)
	_, err = svc.RecordPayment(ctx, sale.ID, domain.PaymentRequest{Amount: dec("60")})
	require.ErrorIs(t, err, store.ErrOverpayment)

	unchanged, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.Sale.AmountPaid.Equal(dec("40")))
	assert.Len(t, unchanged.Payments, 1)

	_, err = svc.RecordPayment(ctx, sale.ID, domain.PaymentRequest{Amount: dec("50"), PaymentMethod: "mobile_money"})
	require.NoError(t, err)
	paid, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.Sale.PaymentStatus)
	assert.True(t, paid.BalanceDue.IsZero())
	assert.True(t, paid.Sale.AmountPaid.Equal(dec("90")))

	loans, err := svc.ListLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestRecordPaymentValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, "sale-missing", domain.PaymentRequest{Amount: dec("5")})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.RecordPayment(ctx, "sale-missing", domain.PaymentRequest{Amount: dec("0")})
	require.ErrorIs(t, err, store.ErrInvalidAmount)

	_, err = svc.RecordPayment(ctx, "sale-missing", domain.PaymentRequest{Amount: dec("5"), PaymentMethod: "cheque"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestMoneyFinerThanCentsRejected(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Vitamin C", 10, "50", "1.00")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Budi"})
	require.NoError(t, err)
	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 11})
	require.NoError(t, err)

	_, err = svc.SetDiscount(ctx, sale.ID, dec("0.996"))
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.RecordPayment(ctx, sale.ID, domain.PaymentRequest{Amount: dec("10.001")})
	require.ErrorIs(t, err, store.ErrValidation)

	detail, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, detail.Sale.TotalAmount.Equal(dec("11")))
	assert.True(t, detail.Sale.AmountPaid.IsZero())
	assert.Empty(t, detail.Payments)

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Budi", InitialAmountPaid: dec("0.005")})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		CustomerName:   "Budi",
		Items:          []domain.SaleItemRequest{{ProductID: product.ID, QuantityBase: 1}},
		DiscountAmount: dec("0.125"),
	})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{ProductID: product.ID, QuantityBulk: 1, TotalCost: dec("19.999")})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "rent", Amount: dec("100.001")})
	require.ErrorIs(t, err, store.ErrValidation)

	tooFine := dec("0.333")
	_, err = svc.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{SellPricePerBase: &tooFine})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.ImportProducts(ctx, []domain.ProductImportRow{{Name: "Zinc", Category: "General", ConversionFactor: 1, BuyPricePerBulk: tooFine}})
	require.ErrorIs(t, err, store.ErrValidation)

	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("48.9")))
}

func TestConcurrentSaleWritersKeepLedgerConsistent(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Ibuprofen", 10, "100", "1.00")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Clinic"})
	require.NoError(t, err)
	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 100})
	require.NoError(t, err)
	_, err = svc.SetDiscount(ctx, sale.ID, dec("5"))
	require.NoError(t, err)

	const items, payments, purchases = 50, 50, 20
	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 10})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < payments; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordPayment(ctx, sale.ID, domain.PaymentRequest{Amount: dec("1")})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < purchases; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{ProductID: product.ID, QuantityBulk: 2, TotalCost: dec("40")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	detail, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, items+1)
	require.Len(t, detail.Payments, payments)

	lines := decimal.Zero
	for _, item := range detail.Items {
		lines = lines.Add(ledger.LineTotal(item))
	}
	assert.True(t, detail.Sale.TotalAmount.Equal(lines.Sub(detail.Sale.DiscountAmount)), "total %s", detail.Sale.TotalAmount)
	assert.True(t, detail.Sale.TotalAmount.Equal(dec("595")))
	assert.True(t, detail.Sale.AmountPaid.Equal(ledger.SumPayments(detail.Payments)))
	assert.True(t, detail.Sale.AmountPaid.Equal(dec("50")))
	assert.Equal(t, domain.PaymentStatusPartial, detail.Sale.PaymentStatus)

	// 100 + 20*2 - (100 + 50*10)/10
	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("80")), "stock %s", stockOf(t, svc, product.ID))
}

func TestCreateSaleInitialPaymentBecomesPaymentRecord(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Vitamin C", 10, "50", "1")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Sari", InitialAmountPaid: dec("20")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, sale.PaymentStatus)
	assert.True(t, sale.AmountPaid.Equal(dec("20")))

	_, err = svc.AddSaleItem(ctx, sale.ID, domain.SaleItemRequest{ProductID: product.ID, QuantityBase: 30})
	require.NoError(t, err)

	detail, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartial, detail.Sale.PaymentStatus)
	assert.Len(t, detail.Payments, 1)
	assert.True(t, ledger.SumPayments(detail.Payments).Equal(detail.Sale.AmountPaid))
}

func TestCheckoutRecordsWholeSale(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	a := createTestProduct(t, svc, "Paracetamol", 100, "12", "0.50")
	b := createTestProduct(t, svc, "Amoxicillin", 10, "5", "1.20")

	detail, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items: []domain.SaleItemRequest{
			{ProductID: a.ID, QuantityBase: 50},
			{ProductID: b.ID, QuantityBase: 10},
			{ProductID: a.ID, QuantityBase: 50},
		},
		DiscountAmount:    dec("2"),
		InitialAmountPaid: dec("60"),
		PaymentMethod:     domain.PaymentMethodCard,
	})
	require.NoError(t, err)

	assert.True(t, detail.Sale.Subtotal.Equal(dec("62")))
	assert.True(t, detail.Sale.TotalAmount.Equal(dec("60")))
	assert.Equal(t, domain.PaymentStatusPaid, detail.Sale.PaymentStatus)
	assert.Len(t, detail.Items, 3)
	assert.True(t, stockOf(t, svc, a.ID).Equal(dec("11")))
	assert.True(t, stockOf(t, svc, b.ID).Equal(dec("4")))
}

func TestCheckoutRollsBackWithoutCustomerForLoan(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Amoxicillin", 10, "5", "1")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		Items:             []domain.SaleItemRequest{{ProductID: product.ID, QuantityBase: 20}},
		InitialAmountPaid: dec("5"),
	})
	require.ErrorIs(t, err, store.ErrValidation)

	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("5")))
	sales, err := svc.ListSales(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCheckoutRejectsOverpayment(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Amoxicillin", 10, "5", "1")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CustomerName:      "Budi",
		Items:             []domain.SaleItemRequest{{ProductID: product.ID, QuantityBase: 10}},
		InitialAmountPaid: dec("11"),
	})
	require.ErrorIs(t, err, store.ErrOverpayment)
	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("5")))
}

func TestRecordPurchaseAddsBulkStock(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Paracetamol", 100, "1.25", "0.50")

	purchase, err := svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{ProductID: product.ID, QuantityBulk: 4, TotalCost: dec("80")})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, purchase.PurchaseDate)
	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("5.25")))

	_, err = svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{ProductID: product.ID, QuantityBulk: 0})
	require.ErrorIs(t, err, store.ErrInvalidAmount)

	_, err = svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{ProductID: "prd-missing", QuantityBulk: 1})
	require.ErrorIs(t, err, store.ErrNotFound)

	purchases, err := svc.ListPurchases(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
}

func TestRecordExpenseValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "rent", Amount: dec("-1")})
	require.ErrorIs(t, err, store.ErrInvalidAmount)
	_, err = svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Amount: dec("1")})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "electricity", Amount: dec("12.5")})
	require.NoError(t, err)
	expenses, err := svc.ListExpenses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "electricity", expenses[0].Description)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: "X", CategoryID: "cat-x", BulkUnit: "box", BaseUnit: "tablet", ConversionFactor: 0,
	})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: "X", CategoryID: "cat-missing", BulkUnit: "box", BaseUnit: "tablet", ConversionFactor: 10,
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	createTestProduct(t, svc, "Paracetamol", 100, "1", "1")
	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: " paracetamol ", CategoryID: categories[0].ID, BulkUnit: "box", BaseUnit: "tablet", ConversionFactor: 10,
	})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestUpdateProductLeavesStockAlone(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Paracetamol", 100, "3", "1")

	price := dec("0.75")
	name := "Paracetamol 500mg"
	updated, err := svc.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{Name: &name, SellPricePerBase: &price})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.True(t, stockOf(t, svc, product.ID).Equal(dec("3")))

	found, err := svc.FindProductByName(ctx, "PARACETAMOL 500MG")
	require.NoError(t, err)
	assert.True(t, found.SellPricePerBase.Equal(price))
}

func TestImportProductsMergesByName(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	existing := createTestProduct(t, svc, "Paracetamol", 100, "5", "0.50")

	result, err := svc.ImportProducts(ctx, []domain.ProductImportRow{
		{Name: " paracetamol ", StockQty: dec("3"), BuyPricePerBulk: dec("22"), SellPricePerBase: dec("0.60")},
		{Name: "Zinc", Category: "Minerals", ConversionFactor: 30, StockQty: dec("2"), SellPricePerBase: dec("0.40")},
	})
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	require.Len(t, result.Created, 1)

	assert.Equal(t, existing.ID, result.Updated[0].ID)
	assert.True(t, stockOf(t, svc, existing.ID).Equal(dec("8")))
	assert.Equal(t, "unit", result.Created[0].BulkUnit)

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 2)
}

func TestImportProductsIsAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	existing := createTestProduct(t, svc, "Paracetamol", 100, "5", "0.50")

	_, err := svc.ImportProducts(ctx, []domain.ProductImportRow{
		{Name: "Paracetamol", StockQty: dec("3")},
		{Name: "Zinc", Category: "Minerals", ConversionFactor: 0},
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.True(t, stockOf(t, svc, existing.ID).Equal(dec("5")))
}

func TestLookupByBarcode(t *testing.T) {
	svc := New(memory.NewSeeded(), Options{})
	ctx := context.Background()

	p, err := svc.LookupByBarcode(ctx, "8901234500029")
	require.NoError(t, err)
	assert.Equal(t, "prd-amoxicillin-250", p.ID)

	_, err = svc.LookupByBarcode(ctx, "0000")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.LookupByBarcode(ctx, " ")
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestPeriodStart(t *testing.T) {
	wednesday := time.Date(2026, time.March, 11, 15, 30, 0, 0, time.UTC)
	sunday := time.Date(2026, time.March, 15, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		period domain.ReportPeriod
		now    time.Time
		want   time.Time
	}{
		{domain.PeriodDaily, wednesday, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodWeekly, wednesday, time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodWeekly, sunday, time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodMonthly, wednesday, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodYearly, wednesday, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := PeriodStart(tc.period, tc.now)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s from %s", tc.period, tc.now)
	}

	_, err := PeriodStart("hourly", wednesday)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestFinancialReport(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	product := createTestProduct(t, svc, "Vitamin C", 10, "50", "10")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CustomerName:      "Budi",
		Items:             []domain.SaleItemRequest{{ProductID: product.ID, QuantityBase: 10}},
		DiscountAmount:    dec("10"),
		InitialAmountPaid: dec("40"),
	})
	require.NoError(t, err)
	_, err = svc.RecordPurchase(ctx, domain.PurchaseCreateRequest{ProductID: product.ID, QuantityBulk: 1, TotalCost: dec("30")})
	require.NoError(t, err)
	_, err = svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "bags", Amount: dec("5")})
	require.NoError(t, err)

	report, err := svc.FinancialReport(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodDaily, report.Period)
	assert.True(t, report.Revenue.Equal(dec("90")), "revenue %s", report.Revenue)
	assert.True(t, report.CashIn.Equal(dec("40")))
	assert.True(t, report.CashCollected.Equal(dec("40")))
	assert.True(t, report.PaperProfit.Equal(dec("55")))
	assert.True(t, report.NetCashFlow.Equal(dec("5")))
	assert.True(t, report.OutstandingDebt.Equal(dec("50")))

	_, err = svc.FinancialReport(ctx, "quarterly")
	require.ErrorIs(t, err, store.ErrValidation)

	tomorrow, err := svc.FinancialReportSince(ctx, fixedNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, tomorrow.Revenue.IsZero())
}

func TestAlertsAndSummary(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	low := createTestProduct(t, svc, "Low", 10, "1", "1")
	reorder := createTestProduct(t, svc, "Reorder", 10, "10", "1")
	createTestProduct(t, svc, "Plenty", 10, "30", "1")

	soon := fixedNow.AddDate(0, 1, 0)
	far := fixedNow.AddDate(2, 0, 0)
	_, err := svc.UpdateProduct(ctx, low.ID, domain.ProductUpdateRequest{ExpiryDate: &soon})
	require.NoError(t, err)
	_, err = svc.UpdateProduct(ctx, reorder.ID, domain.ProductUpdateRequest{ExpiryDate: &far})
	require.NoError(t, err)

	lowStock, err := svc.Alerts(ctx, "low_stock")
	require.NoError(t, err)
	require.Len(t, lowStock, 1)
	assert.Equal(t, low.ID, lowStock[0].ID)

	expired, err := svc.Alerts(ctx, "expired")
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, low.ID, expired[0].ID)

	orders, err := svc.Alerts(ctx, "purchase_order")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, low.ID, orders[0].ID)
	assert.Equal(t, reorder.ID, orders[1].ID)

	_, err = svc.Alerts(ctx, "recall")
	require.ErrorIs(t, err, store.ErrValidation)

	summary, err := svc.AlertSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertSummary{
		LowStockCount:     1,
		ExpiringCount:     1,
		NotificationCount: 1,
		HasNotifications:  true,
	}, summary)
}

func TestInventoryValuation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	createTestProduct(t, svc, "Half", 10, "0.5", "1")
	createTestProduct(t, svc, "Many", 10, "25", "1")

	valuation, err := svc.Inventory(ctx)
	require.NoError(t, err)
	require.Len(t, valuation.Lines, 2)
	// Buy price is 20 per bulk unit.
	assert.True(t, valuation.TotalValue.Equal(dec("510")), "total %s", valuation.TotalValue)
	for _, line := range valuation.Lines {
		assert.Equal(t, line.Product.StockQty.LessThan(dec("20")), line.IsLowStock)
	}
}

func TestDashboard(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	a := createTestProduct(t, svc, "Paracetamol", 100, "12", "0.50")
	b := createTestProduct(t, svc, "Amoxicillin", 10, "5", "5")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CustomerName: "Budi",
		Items: []domain.SaleItemRequest{
			{ProductID: a.ID, QuantityBase: 40},
			{ProductID: b.ID, QuantityBase: 2},
		},
	})
	require.NoError(t, err)

	dash, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.NotNil(t, dash.MostMovingProduct)
	assert.Equal(t, a.ID, dash.MostMovingProduct.ID)
	assert.Equal(t, int64(40), dash.MostMovingQuantity)
	require.NotNil(t, dash.MostProfitableProduct)
	assert.Equal(t, b.ID, dash.MostProfitableProduct.ID)
	assert.True(t, dash.DailyRevenue.Equal(dec("30")))
	assert.True(t, dash.MonthlyRevenue.Equal(dec("30")))
	assert.Equal(t, 1, dash.ActiveLoans)
	require.Len(t, dash.LastSevenDays, 7)
	assert.Equal(t, "2026-03-11", dash.LastSevenDays[6].Date)
	assert.True(t, dash.LastSevenDays[6].Revenue.Equal(dec("30")))
	assert.True(t, dash.LastSevenDays[0].Revenue.IsZero())
}

type conflictRepo struct {
	store.Repository
	failures int32
	calls    atomic.Int32
}

func (r *conflictRepo) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if r.calls.Add(1) <= r.failures {
		return store.ErrConcurrencyConflict
	}
	return r.Repository.Update(ctx, fn)
}

func TestUpdateRetriesConflicts(t *testing.T) {
	ctx := context.Background()

	repo := &conflictRepo{Repository: memory.New(), failures: maxTxAttempts - 1}
	svc := New(repo, Options{})
	_, err := svc.CreateCategory(ctx, "Analgesics")
	require.NoError(t, err)
	assert.Equal(t, int32(maxTxAttempts), repo.calls.Load())

	repo = &conflictRepo{Repository: memory.New(), failures: maxTxAttempts}
	svc = New(repo, Options{})
	_, err = svc.CreateCategory(ctx, "Analgesics")
	require.ErrorIs(t, err, store.ErrConcurrencyConflict)
	assert.Equal(t, int32(maxTxAttempts), repo.calls.Load())
}

// countingCache mirrors the generation scheme of the Redis cache in memory.
type countingCache struct {
	values    map[string]any
	gen       int64
	purges    int
	beforeSet func()
}

func (c *countingCache) slot(entry cache.Entry) string {
	return fmt.Sprintf("%d:%s", entry.Generation, entry.Key)
}

func (c *countingCache) Get(_ context.Context, key string, dest any) (cache.Entry, bool, error) {
	entry := cache.Entry{Key: key, Generation: c.gen}
	v, ok := c.values[c.slot(entry)]
	if !ok {
		return entry, false, nil
	}
	if report, ok := dest.(*domain.FinancialReport); ok {
		*report = v.(domain.FinancialReport)
		return entry, true, nil
	}
	return entry, false, nil
}

func (c *countingCache) Set(_ context.Context, entry cache.Entry, value any, _ time.Duration) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.values[c.slot(entry)] = value
	return nil
}

func (c *countingCache) Purge(_ context.Context) error {
	c.purges++
	c.gen++
	return nil
}

func (c *countingCache) live() int {
	prefix := fmt.Sprintf("%d:", c.gen)
	n := 0
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

func TestReportCachePurgedOnWrite(t *testing.T) {
	reports := &countingCache{values: make(map[string]any)}
	svc, _ := newTestService(t, Options{Cache: reports})
	ctx := context.Background()

	_, err := svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "rent", Amount: dec("100")})
	require.NoError(t, err)
	purgesAfterWrite := reports.purges

	first, err := svc.FinancialReport(ctx, "monthly")
	require.NoError(t, err)
	assert.True(t, first.Expenses.Equal(dec("100")))
	assert.Equal(t, 1, reports.live())

	_, err = svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "water", Amount: dec("20")})
	require.NoError(t, err)
	assert.Equal(t, purgesAfterWrite+1, reports.purges)

	second, err := svc.FinancialReport(ctx, "monthly")
	require.NoError(t, err)
	assert.True(t, second.Expenses.Equal(dec("120")))
}

func TestFailedUpdateDoesNotPurge(t *testing.T) {
	reports := &countingCache{values: make(map[string]any)}
	svc, _ := newTestService(t, Options{Cache: reports})

	_, err := svc.RecordPayment(context.Background(), "sale-missing", domain.PaymentRequest{Amount: dec("1")})
	require.True(t, errors.Is(err, store.ErrNotFound))
	assert.Zero(t, reports.purges)
}

func TestReportComputedBeforeWriteIsNotServed(t *testing.T) {
	reports := &countingCache{values: make(map[string]any)}
	svc, _ := newTestService(t, Options{Cache: reports})
	ctx := context.Background()

	_, err := svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "rent", Amount: dec("100")})
	require.NoError(t, err)

	// The expense commits after the report was computed but before it is
	// stored.
	reports.beforeSet = func() {
		_, err := svc.RecordExpense(ctx, domain.ExpenseCreateRequest{Description: "water", Amount: dec("20")})
		require.NoError(t, err)
	}
	first, err := svc.FinancialReport(ctx, "monthly")
	require.NoError(t, err)
	assert.True(t, first.Expenses.Equal(dec("100")))

	second, err := svc.FinancialReport(ctx, "monthly")
	require.NoError(t, err)
	assert.True(t, second.Expenses.Equal(dec("120")), "got %s", second.Expenses)
}
