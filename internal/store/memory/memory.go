package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/store"
)

// Store keeps the whole ledger in process memory. Update holds the write
// lock for the full transaction, so transactions never interleave.
type Store struct {
	mu         sync.RWMutex
	categories map[string]domain.Category
	products   map[string]domain.Product
	purchases  []domain.Purchase
	sales      map[string]domain.Sale
	saleItems  map[string][]domain.SaleItem
	payments   map[string][]domain.PaymentRecord
	expenses   []domain.Expense
}

func New() *Store {
	return &Store{
		categories: make(map[string]domain.Category),
		products:   make(map[string]domain.Product),
		purchases:  make([]domain.Purchase, 0, 64),
		sales:      make(map[string]domain.Sale),
		saleItems:  make(map[string][]domain.SaleItem),
		payments:   make(map[string][]domain.PaymentRecord),
		expenses:   make([]domain.Expense, 0, 32),
	}
}

// NewSeeded returns a store with a small pharmacy catalogue for local runs.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	soon := nowDateUTC(now).AddDate(0, 2, 0)
	later := nowDateUTC(now).AddDate(2, 0, 0)

	for _, c := range []domain.Category{
		{ID: "cat-analgesic", Name: "Analgesics"},
		{ID: "cat-antibiotic", Name: "Antibiotics"},
		{ID: "cat-supplement", Name: "Supplements"},
	} {
		s.categories[c.ID] = c
	}

	for _, p := range []domain.Product{
		{ID: "prd-paracetamol-500", Name: "Paracetamol 500mg", CategoryID: "cat-analgesic", BulkUnit: "box", BaseUnit: "tablet", ConversionFactor: 100, BuyPricePerBulk: decimal.RequireFromString("25.00"), SellPricePerBase: decimal.RequireFromString("0.50"), StockQty: decimal.NewFromInt(12), ExpiryDate: &later, Barcode: "8901234500012"},
		{ID: "prd-ibuprofen-400", Name: "Ibuprofen 400mg", CategoryID: "cat-analgesic", BulkUnit: "box", BaseUnit: "tablet", ConversionFactor: 50, BuyPricePerBulk: decimal.RequireFromString("30.00"), SellPricePerBase: decimal.RequireFromString("1.00"), StockQty: decimal.NewFromInt(30), ExpiryDate: &later},
		{ID: "prd-amoxicillin-250", Name: "Amoxicillin 250mg", CategoryID: "cat-antibiotic", BulkUnit: "strip", BaseUnit: "capsule", ConversionFactor: 10, BuyPricePerBulk: decimal.RequireFromString("8.00"), SellPricePerBase: decimal.RequireFromString("1.20"), StockQty: decimal.RequireFromString("1.5"), ExpiryDate: &soon, Barcode: "8901234500029"},
		{ID: "prd-vitamin-c", Name: "Vitamin C 1000mg", CategoryID: "cat-supplement", BulkUnit: "bottle", BaseUnit: "tablet", ConversionFactor: 60, BuyPricePerBulk: decimal.RequireFromString("45.00"), SellPricePerBase: decimal.RequireFromString("1.10"), StockQty: decimal.NewFromInt(18)},
	} {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	return s
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.productByName(name)
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if barcode == "" {
		return nil, store.ErrNotFound
	}
	for _, p := range s.products {
		if p.Barcode == barcode {
			dup := cloneProduct(p)
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := slices.Clone(s.purchases)
	slices.SortStableFunc(purchases, func(a, b domain.Purchase) int {
		return b.PurchaseDate.Compare(a.PurchaseDate)
	})
	return truncate(purchases, limit), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.filterSales(func(domain.Sale) bool { return true })
	slices.SortFunc(sales, newestSaleFirst)
	return truncate(sales, limit), nil
}

func (s *Store) ListSalesBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.filterSales(func(sale domain.Sale) bool {
		return inWindow(sale.SaleDate, from, to)
	})
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return -newestSaleFirst(a, b)
	})
	return sales, nil
}

func (s *Store) ListLoans(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := s.filterSales(ledger.IsLoan)
	slices.SortFunc(sales, newestSaleFirst)
	return sales, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.saleItems[saleID]), nil
}

func (s *Store) ListPayments(_ context.Context, saleID string) ([]domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.payments[saleID]), nil
}

func (s *Store) ListExpenses(_ context.Context, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := slices.Clone(s.expenses)
	slices.SortStableFunc(expenses, func(a, b domain.Expense) int {
		return b.Date.Compare(a.Date)
	})
	return truncate(expenses, limit), nil
}

func (s *Store) LedgerTotals(_ context.Context, from time.Time, to time.Time) (domain.LedgerTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.LedgerTotals{
		Revenue:       decimal.Zero,
		CashIn:        decimal.Zero,
		CashCollected: decimal.Zero,
		Purchases:     decimal.Zero,
		Expenses:      decimal.Zero,
	}
	for _, sale := range s.sales {
		if !inWindow(sale.SaleDate, from, to) {
			continue
		}
		totals.Revenue = totals.Revenue.Add(sale.TotalAmount)
		totals.CashIn = totals.CashIn.Add(sale.AmountPaid)
	}
	for _, records := range s.payments {
		for _, p := range records {
			if inWindow(p.DatePaid, from, to) {
				totals.CashCollected = totals.CashCollected.Add(p.AmountReceived)
			}
		}
	}
	for _, p := range s.purchases {
		if inWindow(p.PurchaseDate, from, to) {
			totals.Purchases = totals.Purchases.Add(p.TotalCost)
		}
	}
	for _, e := range s.expenses {
		if inWindow(e.Date, from, to) {
			totals.Expenses = totals.Expenses.Add(e.Amount)
		}
	}
	return totals, nil
}

func (s *Store) ProductMovements(_ context.Context) ([]domain.ProductMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct := make(map[string]int64)
	for _, items := range s.saleItems {
		for _, item := range items {
			byProduct[item.ProductID] += int64(item.QuantityBase)
		}
	}
	movements := make([]domain.ProductMovement, 0, len(byProduct))
	for productID, qty := range byProduct {
		movements = append(movements, domain.ProductMovement{ProductID: productID, QuantityBase: qty})
	}
	slices.SortFunc(movements, func(a, b domain.ProductMovement) int {
		if a.QuantityBase != b.QuantityBase {
			if a.QuantityBase > b.QuantityBase {
				return -1
			}
			return 1
		}
		return cmpString(a.ProductID, b.ProductID)
	})
	return movements, nil
}

func (s *Store) productByName(name string) (domain.Product, bool) {
	key := store.NormalizeName(name)
	if key == "" {
		return domain.Product{}, false
	}
	for _, p := range s.products {
		if store.NormalizeName(p.Name) == key {
			return p, true
		}
	}
	return domain.Product{}, false
}

func (s *Store) filterSales(keep func(domain.Sale) bool) []domain.Sale {
	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if keep(sale) {
			sales = append(sales, sale)
		}
	}
	return sales
}

// inWindow reports from <= t < to; a zero to leaves the window open.
func inWindow(t time.Time, from time.Time, to time.Time) bool {
	if t.Before(from) {
		return false
	}
	return to.IsZero() || t.Before(to)
}

func newestSaleFirst(a, b domain.Sale) int {
	if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
		return c
	}
	return cmpString(a.ID, b.ID)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		dup.ExpiryDate = &expiry
	}
	return dup
}
