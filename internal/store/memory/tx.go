package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/store"
)

// memTx runs with the store's write lock held. Every write appends an undo
// step; rollback replays them newest first.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) CreateCategory(_ context.Context, category domain.Category) error {
	if category.ID == "" || store.NormalizeName(category.Name) == "" {
		return store.Invalid("name", "required")
	}
	if _, exists := t.s.categories[category.ID]; exists {
		return store.ErrDuplicate
	}
	for _, c := range t.s.categories {
		if store.NormalizeName(c.Name) == store.NormalizeName(category.Name) {
			return store.ErrDuplicate
		}
	}

	t.s.categories[category.ID] = category
	t.undo = append(t.undo, func() { delete(t.s.categories, category.ID) })
	return nil
}

func (t *memTx) FindCategoryByName(_ context.Context, name string) (*domain.Category, error) {
	key := store.NormalizeName(name)
	for _, c := range t.s.categories {
		if store.NormalizeName(c.Name) == key {
			found := c
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) CategoryExists(_ context.Context, id string) (bool, error) {
	_, ok := t.s.categories[id]
	return ok, nil
}

func (t *memTx) CreateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.s.products[product.ID]; exists {
		return store.ErrDuplicate
	}
	if err := t.checkProductUnique(product); err != nil {
		return err
	}
	t.putProduct(cloneProduct(product))
	return nil
}

func (t *memTx) UpdateProduct(_ context.Context, product domain.Product) error {
	current, ok := t.s.products[product.ID]
	if !ok {
		return store.ErrNotFound
	}
	if err := t.checkProductUnique(product); err != nil {
		return err
	}
	// Stock is owned by AdjustStock.
	product.StockQty = current.StockQty
	product.CreatedAt = current.CreatedAt
	t.putProduct(cloneProduct(product))
	return nil
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (t *memTx) FindProductByNameForUpdate(_ context.Context, name string) (*domain.Product, error) {
	p, ok := t.s.productByName(name)
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	p.StockQty = p.StockQty.Add(delta)
	p.UpdatedAt = time.Now().UTC()
	t.putProduct(p)
	return p.StockQty, nil
}

func (t *memTx) CreatePurchase(_ context.Context, purchase domain.Purchase) error {
	if _, ok := t.s.products[purchase.ProductID]; !ok {
		return store.ErrNotFound
	}
	for _, p := range t.s.purchases {
		if p.ID == purchase.ID {
			return store.ErrDuplicate
		}
	}
	n := len(t.s.purchases)
	t.s.purchases = append(t.s.purchases, purchase)
	t.undo = append(t.undo, func() { t.s.purchases = t.s.purchases[:n] })
	return nil
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.s.sales[sale.ID]; exists {
		return store.ErrDuplicate
	}
	t.putSale(sale)
	return nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (t *memTx) UpdateSaleTotals(_ context.Context, sale domain.Sale) error {
	current, ok := t.s.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Subtotal = sale.Subtotal
	current.DiscountAmount = sale.DiscountAmount
	current.TotalAmount = sale.TotalAmount
	current.AmountPaid = sale.AmountPaid
	current.PaymentStatus = sale.PaymentStatus
	current.CustomerName = sale.CustomerName
	t.putSale(current)
	return nil
}

func (t *memTx) CreateSaleItem(_ context.Context, item domain.SaleItem) error {
	if _, ok := t.s.sales[item.SaleID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.s.products[item.ProductID]; !ok {
		return store.ErrNotFound
	}
	items := t.s.saleItems[item.SaleID]
	n := len(items)
	t.s.saleItems[item.SaleID] = append(slices.Clip(items), item)
	t.undo = append(t.undo, func() {
		if n == 0 {
			delete(t.s.saleItems, item.SaleID)
			return
		}
		t.s.saleItems[item.SaleID] = t.s.saleItems[item.SaleID][:n]
	})
	return nil
}

func (t *memTx) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	return slices.Clone(t.s.saleItems[saleID]), nil
}

func (t *memTx) CreatePayment(_ context.Context, payment domain.PaymentRecord) error {
	if _, ok := t.s.sales[payment.SaleID]; !ok {
		return store.ErrNotFound
	}
	records := t.s.payments[payment.SaleID]
	n := len(records)
	t.s.payments[payment.SaleID] = append(slices.Clip(records), payment)
	t.undo = append(t.undo, func() {
		if n == 0 {
			delete(t.s.payments, payment.SaleID)
			return
		}
		t.s.payments[payment.SaleID] = t.s.payments[payment.SaleID][:n]
	})
	return nil
}

func (t *memTx) SumPayments(_ context.Context, saleID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range t.s.payments[saleID] {
		total = total.Add(p.AmountReceived)
	}
	return total, nil
}

func (t *memTx) CreateExpense(_ context.Context, expense domain.Expense) error {
	n := len(t.s.expenses)
	t.s.expenses = append(t.s.expenses, expense)
	t.undo = append(t.undo, func() { t.s.expenses = t.s.expenses[:n] })
	return nil
}

func (t *memTx) checkProductUnique(product domain.Product) error {
	key := store.NormalizeName(product.Name)
	for id, p := range t.s.products {
		if id == product.ID {
			continue
		}
		if store.NormalizeName(p.Name) == key {
			return store.ErrDuplicate
		}
		if product.Barcode != "" && p.Barcode == product.Barcode {
			return store.ErrDuplicate
		}
	}
	return nil
}

func (t *memTx) putProduct(product domain.Product) {
	prev, existed := t.s.products[product.ID]
	t.s.products[product.ID] = product
	t.undo = append(t.undo, func() {
		if existed {
			t.s.products[product.ID] = prev
			return
		}
		delete(t.s.products, product.ID)
	})
}

func (t *memTx) putSale(sale domain.Sale) {
	prev, existed := t.s.sales[sale.ID]
	t.s.sales[sale.ID] = sale
	t.undo = append(t.undo, func() {
		if existed {
			t.s.sales[sale.ID] = prev
			return
		}
		delete(t.s.sales, sale.ID)
	})
}
